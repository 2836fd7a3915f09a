package deferred

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/storage"
)

func newTestDeferreds(t *testing.T) *Deferreds {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	return New(db, nil)
}

func TestResolve_ConcurrentRaceExactlyOneWinner(t *testing.T) {
	d := newTestDeferreds(t)
	ctx := context.Background()

	h, err := d.Create(ctx, "job-1", CreateOptions{TTLSeconds: 60})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = d.Resolve(ctx, "job-1", json.RawMessage(`"v1"`))
	}()
	go func() {
		defer wg.Done()
		results[1] = d.Resolve(ctx, "job-1", json.RawMessage(`"v2"`))
	}()
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)

	ctxAwait, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := h.Await(ctxAwait)
	require.NoError(t, err)
	require.Contains(t, []string{`"v1"`, `"v2"`}, string(out.Value))
}

func TestAwait_ObservesResolveViaPollWhenNotifierMissed(t *testing.T) {
	d := newTestDeferreds(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "job-2", CreateOptions{TTLSeconds: 60})
	require.NoError(t, err)
	require.NoError(t, d.Resolve(ctx, "job-2", json.RawMessage(`"done"`)))

	// A fresh handle (no live notifier registration from Create) still
	// observes the outcome via the poll fallback.
	h := &Handle{URL: "job-2", d: d}
	ctxAwait, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := h.Await(ctxAwait)
	require.NoError(t, err)
	require.Equal(t, `"done"`, string(out.Value))
}

func TestReject_ThenResolveFailsNotFound(t *testing.T) {
	d := newTestDeferreds(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "job-3", CreateOptions{TTLSeconds: 60})
	require.NoError(t, err)
	require.NoError(t, d.Reject(ctx, "job-3", "boom"))

	err = d.Resolve(ctx, "job-3", json.RawMessage(`"late"`))
	require.Error(t, err)
}

func TestCleanupExpired_RemovesOnlyPastRows(t *testing.T) {
	d := newTestDeferreds(t)
	ctx := context.Background()

	_, err := d.Create(ctx, "job-4", CreateOptions{TTLSeconds: -1})
	require.NoError(t, err)
	_, err = d.Create(ctx, "job-5", CreateOptions{TTLSeconds: 60})
	require.NoError(t, err)

	n, err := d.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
