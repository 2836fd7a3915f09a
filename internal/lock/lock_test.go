package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/storage"
)

func newTestLocks(t *testing.T) *Locks {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	return New(db, nil, nil)
}

func TestAcquire_FirstCallerGetsSeqZero(t *testing.T) {
	l := newTestLocks(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, int64(0), h.Seq)
}

func TestAcquire_ConcurrentContenderWinsAfterRelease(t *testing.T) {
	l := newTestLocks(t)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-1", MaxRetries: 1, BaseDelayMs: 1})
	require.NoError(t, err)
	require.Equal(t, int64(0), first.Seq)

	var wg sync.WaitGroup
	var second *Handle
	var secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, secondErr = l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-2", MaxRetries: 20, BaseDelayMs: 5})
	}()

	// Release without waiting: the contender either hits contention and
	// wins on a later retry, or starts after the release; both land on seq 1.
	require.NoError(t, first.Release(ctx))
	wg.Wait()

	require.NoError(t, secondErr)
	require.Equal(t, int64(1), second.Seq)
}

func TestRelease_StaleHandleCannotReleaseNewHolder(t *testing.T) {
	l := newTestLocks(t)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-1"})
	require.NoError(t, err)
	require.NoError(t, first.Release(ctx))

	second, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-2"})
	require.NoError(t, err)

	// A stale release from the original handle must not disturb agent-2's
	// live lock.
	require.NoError(t, first.Release(ctx))

	third, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-2"})
	require.NoError(t, err)
	require.Equal(t, second.Seq+1, third.Seq)
}

func TestAcquire_SameHolderReentersWithIncrementedSeq(t *testing.T) {
	l := newTestLocks(t)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-1"})
	require.NoError(t, err)

	second, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-1"})
	require.NoError(t, err)
	require.Equal(t, first.Seq+1, second.Seq)
}

func TestAcquire_ExhaustsRetriesAndFailsLockTimeout(t *testing.T) {
	l := newTestLocks(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-1"})
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "resource-a", AcquireOptions{Holder: "agent-2", MaxRetries: 2, BaseDelayMs: 1})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.LockTimeout))
}
