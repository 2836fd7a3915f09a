package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/storage"
)

func openTestLog(t *testing.T) (storage.Adapter, *eventlog.Log) {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	return db, eventlog.New(db, nil)
}

func appendAll(t *testing.T, db storage.Adapter, stream string, rows []func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, db.Transaction(context.Background(), row))
	}
}

func TestFetchEpicEvents_GathersCellAndChildEventsSortedByTime(t *testing.T) {
	db, log := openTestLog(t)
	ctx := context.Background()

	appendAll(t, db, "cell", []func(context.Context, storage.Tx) error{
		func(ctx context.Context, tx storage.Tx) error {
			_, err := eventlog.Append(ctx, tx, "cell", "proj", eventlog.TypeCell, eventlog.CellPayload{CellID: "epic-1", Type: "epic"})
			return err
		},
		func(ctx context.Context, tx storage.Tx) error {
			_, err := eventlog.Append(ctx, tx, "cell", "proj", eventlog.TypeDecomposition, eventlog.DecompositionPayload{EpicID: "epic-1", Children: []string{"bd-1", "bd-2"}})
			return err
		},
		func(ctx context.Context, tx storage.Tx) error {
			_, err := eventlog.Append(ctx, tx, "cell", "proj", eventlog.TypeCell, eventlog.CellPayload{CellID: "bd-1", ParentID: "epic-1"})
			return err
		},
		func(ctx context.Context, tx storage.Tx) error {
			_, err := eventlog.Append(ctx, tx, "cell", "proj", eventlog.TypeCell, eventlog.CellPayload{CellID: "unrelated"})
			return err
		},
	})

	events, err := FetchEpicEvents(ctx, log, "epic-1", "cell")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, int64(0), events[0].DeltaMS)
	for _, e := range events {
		require.NotEqual(t, "unrelated", string(e.Payload))
	}
}

func TestFilterEvents_AppliesTypeAgentAndTimeWindow(t *testing.T) {
	events := []TimedEvent{
		{Event: eventlog.Event{Type: eventlog.TypeMessage, Timestamp: 100, Payload: []byte(`{"from_agent":"a1"}`)}},
		{Event: eventlog.Event{Type: eventlog.TypeMessage, Timestamp: 200, Payload: []byte(`{"from_agent":"a2"}`)}},
		{Event: eventlog.Event{Type: eventlog.TypeCell, Timestamp: 300, Payload: []byte(`{"cell_id":"bd-1"}`)}},
	}

	byAgent := FilterEvents(events, EventFilter{Agent: "a1"})
	require.Len(t, byAgent, 1)
	require.Equal(t, int64(100), byAgent[0].Timestamp)

	byType := FilterEvents(events, EventFilter{Types: []eventlog.Type{eventlog.TypeCell}})
	require.Len(t, byType, 1)

	windowed := FilterEvents(events, EventFilter{From: 150, To: 250})
	require.Len(t, windowed, 1)
	require.Equal(t, int64(200), windowed[0].Timestamp)
}

func TestReplayWithTiming_InstantSuppressesWaits(t *testing.T) {
	events := []TimedEvent{
		{Event: eventlog.Event{Type: eventlog.TypeCell, Timestamp: 0}, DeltaMS: 0},
		{Event: eventlog.Event{Type: eventlog.TypeCell, Timestamp: 500}, DeltaMS: 500},
	}

	start := time.Now()
	var got []TimedEvent
	for e := range ReplayWithTiming(context.Background(), events, SpeedInstant) {
		got = append(got, e)
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Len(t, got, 2)
}

func TestReplayWithTiming_IsRestartable(t *testing.T) {
	events := []TimedEvent{
		{Event: eventlog.Event{Type: eventlog.TypeCell, Timestamp: 0}, DeltaMS: 0},
	}

	first := <-ReplayWithTiming(context.Background(), events, SpeedInstant)
	second := <-ReplayWithTiming(context.Background(), events, SpeedInstant)
	require.Equal(t, first, second)
}

func TestReplayWithTiming_CancelStopsDelivery(t *testing.T) {
	events := []TimedEvent{
		{Event: eventlog.Event{Type: eventlog.TypeCell, Timestamp: 0}, DeltaMS: 0},
		{Event: eventlog.Event{Type: eventlog.TypeCell, Timestamp: 1000}, DeltaMS: 1000},
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := ReplayWithTiming(ctx, events, Speed1x)
	<-ch
	cancel()

	_, ok := <-ch
	require.False(t, ok)
}

func TestScaledDelay_FloorsAtZeroAndHalvesAt2x(t *testing.T) {
	require.Equal(t, time.Duration(0), scaledDelay(1, Speed1x))
	require.Greater(t, scaledDelay(100, Speed1x), scaledDelay(100, Speed2x))
}
