package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

type window struct{ from, to time.Time }

type fakeLister struct {
	mu      sync.Mutex
	links   []domain.LinkRecord
	err     error
	windows []window
}

func (f *fakeLister) ListExpiredBetween(_ context.Context, from, to time.Time) ([]domain.LinkRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, window{from, to})
	return f.links, f.err
}

func (f *fakeLister) calls() []window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]window(nil), f.windows...)
}

type fakeRemover struct {
	mu      sync.Mutex
	status  map[string]domain.SyncStatus
	removed []string
}

func (f *fakeRemover) OnArchiveOrDelete(_ context.Context, rec *domain.LinkRecord) domain.SyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, rec.Key())
	if st, ok := f.status[rec.ID]; ok {
		return st
	}
	return domain.SyncApplied
}

func expiredLinks() []domain.LinkRecord {
	return []domain.LinkRecord{
		{ID: "l1", Domain: "go2.gg", Slug: "a"},
		{ID: "l2", Domain: "go2.gg", Slug: "b"},
	}
}

func TestSweeper_AdvancesWindow(t *testing.T) {
	lister := &fakeLister{links: expiredLinks()}
	remover := &fakeRemover{}
	s := NewSweeper(lister, remover, "*/5 * * * *", time.Hour)

	t0 := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s.last = t0.Add(-time.Hour)
	s.now = func() time.Time { return t0 }

	assert.Equal(t, 2, s.Sweep(context.Background()))
	assert.Equal(t, []string{"go2.gg:a", "go2.gg:b"}, remover.removed)

	s.now = func() time.Time { return t0.Add(5 * time.Minute) }
	lister.links = nil
	assert.Equal(t, 0, s.Sweep(context.Background()))

	calls := lister.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, window{t0.Add(-time.Hour), t0}, calls[0])
	assert.Equal(t, window{t0, t0.Add(5 * time.Minute)}, calls[1])
}

func TestSweeper_DegradedKeepsWindowOpen(t *testing.T) {
	lister := &fakeLister{links: expiredLinks()}
	remover := &fakeRemover{status: map[string]domain.SyncStatus{"l2": domain.SyncDegraded}}
	s := NewSweeper(lister, remover, "*/5 * * * *", time.Hour)

	t0 := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	start := t0.Add(-time.Hour)
	s.last = start
	s.now = func() time.Time { return t0 }

	assert.Equal(t, 1, s.Sweep(context.Background()))

	s.now = func() time.Time { return t0.Add(time.Minute) }
	s.Sweep(context.Background())

	calls := lister.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, start, calls[1].from, "a failed removal is retried on the next run")
}

func TestSweeper_ListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	s := NewSweeper(lister, &fakeRemover{}, "*/5 * * * *", time.Hour)
	start := s.last

	assert.Equal(t, 0, s.Sweep(context.Background()))
	assert.Equal(t, start, s.last)
}

func TestSweeper_Serve(t *testing.T) {
	lister := &fakeLister{}
	s := NewSweeper(lister, &fakeRemover{}, "*/5 * * * *", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	assert.Eventually(t, func() bool { return len(lister.calls()) > 0 }, 2*time.Second, 10*time.Millisecond,
		"Serve sweeps once at startup")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
	assert.Equal(t, "expiry-sweeper", s.String())
}

func TestSweeper_BadSchedule(t *testing.T) {
	s := NewSweeper(&fakeLister{}, &fakeRemover{}, "every tuesday", time.Hour)
	assert.Error(t, s.Serve(context.Background()))
}
