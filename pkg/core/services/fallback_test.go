package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

type scriptedReader struct {
	calls atomic.Int32
	rec   *domain.LinkRecord
	err   error
	block bool
}

func (s *scriptedReader) GetByDomainSlug(ctx context.Context, _, _ string) (*domain.LinkRecord, error) {
	s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.rec, s.err
}

func (s *scriptedReader) GetRunningABTest(context.Context, string) (*domain.ABTest, error) {
	s.calls.Add(1)
	return nil, s.err
}

func TestGuardedStore_PassesThrough(t *testing.T) {
	reader := &scriptedReader{rec: &domain.LinkRecord{ID: "l1"}}
	g := NewGuardedStore(reader, testFallbackOptions())

	rec, err := g.GetByDomainSlug(context.Background(), "go2.gg", "docs")
	require.NoError(t, err)
	assert.Equal(t, "l1", rec.ID)

	reader.rec = nil
	rec, err = g.GetByDomainSlug(context.Background(), "go2.gg", "docs")
	require.NoError(t, err)
	assert.Nil(t, rec)

	test, err := g.GetRunningABTest(context.Background(), "l1")
	require.NoError(t, err)
	assert.Nil(t, test)
}

func TestGuardedStore_BreakerOpensOnFailures(t *testing.T) {
	reader := &scriptedReader{err: errors.New("database is locked")}
	opts := testFallbackOptions()
	opts.MinRequests = 3
	g := NewGuardedStore(reader, opts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.GetByDomainSlug(ctx, "go2.gg", "docs")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrFallbackRejected)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.GetByDomainSlug(ctx, "go2.gg", "docs")
	assert.ErrorIs(t, err, ErrFallbackRejected)
	assert.Equal(t, int32(3), reader.calls.Load(), "an open breaker keeps reads off the store")
}

func TestGuardedStore_MissesDoNotTripBreaker(t *testing.T) {
	reader := &scriptedReader{}
	opts := testFallbackOptions()
	opts.MinRequests = 3
	g := NewGuardedStore(reader, opts)

	for i := 0; i < 10; i++ {
		_, err := g.GetByDomainSlug(context.Background(), "go2.gg", "missing")
		require.NoError(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardedStore_RateLimited(t *testing.T) {
	reader := &scriptedReader{rec: &domain.LinkRecord{ID: "l1"}}
	opts := testFallbackOptions()
	opts.RPS = 0.001
	opts.Burst = 1
	g := NewGuardedStore(reader, opts)

	_, err := g.GetByDomainSlug(context.Background(), "go2.gg", "docs")
	require.NoError(t, err)
	_, err = g.GetByDomainSlug(context.Background(), "go2.gg", "docs")
	assert.ErrorIs(t, err, ErrFallbackRejected)
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestGuardedStore_Timeout(t *testing.T) {
	reader := &scriptedReader{block: true}
	opts := testFallbackOptions()
	opts.Timeout = 20 * time.Millisecond
	g := NewGuardedStore(reader, opts)

	start := time.Now()
	_, err := g.GetByDomainSlug(context.Background(), "go2.gg", "docs")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
