package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/config"
	"github.com/swarmhive/core/internal/hive"
	"github.com/swarmhive/core/internal/logging"
	"github.com/swarmhive/core/internal/replay"
	"github.com/swarmhive/core/internal/storage"
)

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if cfg == nil {
		cfg = &config.Config{MaxInboxLimit: 5}
	}
	e, err := open(db, logging.Noop(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpen_WiresEverySubsystem(t *testing.T) {
	e := newTestEngine(t, nil)

	require.NotNil(t, e.EventLog)
	require.NotNil(t, e.Mail)
	require.NotNil(t, e.Reservations)
	require.NotNil(t, e.Locks)
	require.NotNil(t, e.Deferreds)
	require.NotNil(t, e.Hive)
	require.NotNil(t, e.Memory)
	require.NotNil(t, e.Inference)
	require.NotNil(t, e.Analytics)
	require.NotNil(t, e.Replay)

	cellID, err := e.Hive.CreateCell(context.Background(), hive.CreateRequest{ProjectKey: "proj", Title: "wire check"})
	require.NoError(t, err)
	require.NotEmpty(t, cellID)
}

func TestEngine_AnalyticsRunsAQuery(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Hive.CreateCell(ctx, hive.CreateRequest{ProjectKey: "proj", Title: "analytics check"})
	require.NoError(t, err)

	q := e.Analytics.Query().Select("COUNT(*)").From("cells").Where("project_key = ?", "proj")
	rows, err := e.Analytics.Run(ctx, q)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var count int
	require.NoError(t, rows.Scan(&count))
	require.Equal(t, 1, count)
}

func TestEngine_ReplayFetchesEpicEvents(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	epicID, err := e.Hive.CreateCell(ctx, hive.CreateRequest{ProjectKey: "proj", Title: "epic", Type: "epic"})
	require.NoError(t, err)
	require.NoError(t, e.Hive.UpdateCell(ctx, "proj", epicID, hive.UpdateFields{Description: "updated"}))

	events, err := e.Replay.Epic(ctx, epicID, "hive", replay.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestOpen_SnapshotWatchSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, &config.Config{MaxInboxLimit: 5, SnapshotDir: dir})

	path := filepath.Join(dir, "snapshot.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	select {
	case changed := <-e.SnapshotChanged():
		require.Equal(t, path, changed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a snapshot change notification")
	}
}

func TestClose_StopsJanitorAndClosesStorage(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.Close())
}
