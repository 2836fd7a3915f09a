package hive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/storage"
)

func newTestHive(t *testing.T) *Hive {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	return New(db, nil, nil)
}

func TestAddDependency_RejectsCycleAndWritesNoEvent(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	a, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "A"})
	require.NoError(t, err)
	b, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "B"})
	require.NoError(t, err)
	c, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "C"})
	require.NoError(t, err)

	require.NoError(t, h.AddDependency(ctx, "proj", a, b, "blocks"))
	require.NoError(t, h.AddDependency(ctx, "proj", b, c, "blocks"))

	err = h.AddDependency(ctx, "proj", c, a, "blocks")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Cycle))

	rows, err := h.db.Query(ctx, `SELECT COUNT(*) FROM events WHERE type = 'dependency'`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count int
	require.NoError(t, rows.Scan(&count))
	require.Equal(t, 2, count)
}

func TestAddDependency_RejectsSelfDependency(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	a, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "A"})
	require.NoError(t, err)

	err = h.AddDependency(ctx, "proj", a, a, "blocks")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Cycle))
}

func TestReadyQueue_ExcludesBlockedAndClosedCells(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	blocker, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Blocker", Priority: 1})
	require.NoError(t, err)
	blocked, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Blocked", Priority: 1})
	require.NoError(t, err)
	free, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Free", Priority: 2})
	require.NoError(t, err)

	require.NoError(t, h.AddDependency(ctx, "proj", blocked, blocker, "blocks"))

	ready, err := ReadyQueue(ctx, h.db, "proj", 10)
	require.NoError(t, err)
	ids := make([]string, len(ready))
	for i, c := range ready {
		ids[i] = c.ID
	}
	require.Contains(t, ids, blocker)
	require.Contains(t, ids, free)
	require.NotContains(t, ids, blocked)

	require.NoError(t, h.Close(ctx, "proj", blocker, "done"))
	ready, err = ReadyQueue(ctx, h.db, "proj", 10)
	require.NoError(t, err)
	ids = ids[:0]
	for _, c := range ready {
		ids = append(ids, c.ID)
	}
	require.Contains(t, ids, blocked)
	require.NotContains(t, ids, blocker)
}
