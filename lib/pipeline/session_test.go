package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	closed atomic.Bool
}

func (s *fakeSession) Close() {
	s.closed.Store(true)
}

func countingFactory(constructed *atomic.Int64) Factory {
	return func(ctx context.Context) (Session, error) {
		constructed.Add(1)
		return &fakeSession{}, nil
	}
}

func TestPoolBoundsLiveSessions(t *testing.T) {
	var constructed atomic.Int64
	pool := NewPool(countingFactory(&constructed), 2, 0)
	ctx := context.Background()

	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	second, err := pool.Acquire(ctx)
	require.NoError(t, err)

	// both slots taken; Acquire must block until one is released
	blocked, cancel := context.WithCancel(ctx)
	cancel()
	_, err = pool.Acquire(blocked)
	require.ErrorIs(t, err, context.Canceled)

	first.Release()
	third, err := pool.Acquire(ctx)
	require.NoError(t, err)

	second.Release()
	third.Release()
	require.Equal(t, int64(3), constructed.Load())
}

func TestLeaseBudgetRecycling(t *testing.T) {
	var constructed atomic.Int64
	pool := NewPool(countingFactory(&constructed), 1, 3)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer lease.Release()

	for i := 0; i < 2; i++ {
		lease.Use()
		require.False(t, lease.ShouldRecycle())
	}
	lease.Use()
	require.True(t, lease.ShouldRecycle())

	old := lease.Session().(*fakeSession)
	require.NoError(t, lease.Recycle(ctx))
	require.True(t, old.closed.Load())
	require.NotSame(t, old, lease.Session())
	require.False(t, lease.ShouldRecycle())
	require.Equal(t, int64(2), constructed.Load())
}

func TestZeroBudgetNeverRecycles(t *testing.T) {
	var constructed atomic.Int64
	pool := NewPool(countingFactory(&constructed), 1, 0)

	lease, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	for i := 0; i < 100; i++ {
		lease.Use()
	}
	require.False(t, lease.ShouldRecycle())
}

func TestAcquireConstructionFailureFreesSlot(t *testing.T) {
	fail := true
	pool := NewPool(func(ctx context.Context) (Session, error) {
		if fail {
			return nil, errors.New("login rejected")
		}
		return &fakeSession{}, nil
	}, 1, 0)
	ctx := context.Background()

	_, err := pool.Acquire(ctx)
	require.Equal(t, KindConstruction, KindOf(err))

	// the slot must have been refunded or this second Acquire deadlocks
	fail = false
	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	lease.Release()
}

func TestRecycleFailureReleasesLease(t *testing.T) {
	fail := false
	pool := NewPool(func(ctx context.Context) (Session, error) {
		if fail {
			return nil, errors.New("login rejected")
		}
		return &fakeSession{}, nil
	}, 1, 0)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)

	fail = true
	err = lease.Recycle(ctx)
	require.Equal(t, KindConstruction, KindOf(err))

	// the failed recycle already gave the slot back
	fail = false
	next, err := pool.Acquire(ctx)
	require.NoError(t, err)
	next.Release()

	// double release stays safe
	lease.Release()
	lease.Release()
}
