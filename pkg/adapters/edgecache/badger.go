package edgecache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

type BadgerOptions struct {
	Path         string // empty runs in memory
	KeyPrefix    string
	TombstoneTTL time.Duration
}

const metaTombstone byte = 1

// Badger is an embedded edge cache. Each value is prefixed with its 8-byte
// big-endian version; tombstones are marked through the entry's user meta.
type Badger struct {
	db           *badger.DB
	prefix       string
	tombstoneTTL time.Duration
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil // Suppress BadgerDB internal logs
	bopts.ValueLogFileSize = 64 << 20

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger edge cache: %w", err)
	}
	return &Badger{db: db, prefix: opts.KeyPrefix, tombstoneTTL: tombstoneTTL(opts.TombstoneTTL)}, nil
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.prefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrCacheMiss
		}
		if err != nil {
			return err
		}
		if item.UserMeta() == metaTombstone {
			return domain.ErrCacheMiss
		}
		return item.Value(func(val []byte) error {
			if len(val) < 8 {
				return domain.ErrCacheMiss
			}
			out = append([]byte(nil), val[8:]...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Put(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	applied := false
	err := b.update(ctx, func(txn *badger.Txn) error {
		applied = false
		cur, tomb, ok, err := b.current(txn, key)
		if err != nil {
			return err
		}
		if ok && !accepts(cur, tomb, version) {
			return nil
		}
		e := badger.NewEntry([]byte(b.prefix+key), encodeVersioned(version, value)).WithTTL(ttl)
		applied = true
		return txn.SetEntry(e)
	})
	return applied, err
}

func (b *Badger) Delete(ctx context.Context, key string, version int64) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		cur, _, ok, err := b.current(txn, key)
		if err != nil {
			return err
		}
		if ok && cur > version {
			return nil
		}
		e := badger.NewEntry([]byte(b.prefix+key), encodeVersioned(version, nil)).
			WithMeta(metaTombstone).
			WithTTL(b.tombstoneTTL)
		return txn.SetEntry(e)
	})
}

// update retries on transaction conflicts; another writer touched the key
// between our read and commit, so the comparison must run again.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func (b *Badger) current(txn *badger.Txn, key string) (version int64, tombstone, ok bool, err error) {
	item, err := txn.Get([]byte(b.prefix + key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	err = item.Value(func(val []byte) error {
		if len(val) >= 8 {
			version = int64(binary.BigEndian.Uint64(val[:8]))
		}
		return nil
	})
	return version, item.UserMeta() == metaTombstone, true, err
}

func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger edge cache is closed")
	}
	return ctx.Err()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func encodeVersioned(version int64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(version))
	copy(buf[8:], value)
	return buf
}
