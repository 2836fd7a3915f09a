package eventlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/storage"
)

func openTestDB(t *testing.T) storage.Adapter {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	return db
}

func TestAppend_AssignsMonotonicSequence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		err := db.Transaction(ctx, func(tx storage.Tx) error {
			ack, err := Append(ctx, tx, "cell", "proj", TypeCell, CellPayload{CellID: "bd-1", Status: "open"})
			require.NoError(t, err)
			seqs = append(seqs, ack.Sequence)
			return nil
		})
		require.NoError(t, err)
	}

	require.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestAppend_RejectsUnknownType(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx storage.Tx) error {
		_, err := Append(ctx, tx, "cell", "proj", Type("bogus"), CellPayload{CellID: "bd-1"})
		return err
	})
	require.Error(t, err)
}

func TestRead_FiltersByStreamAndOrdersBySequence(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	log := New(db, nil)

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		if _, err := Append(ctx, tx, "cell", "proj", TypeCell, CellPayload{CellID: "bd-1"}); err != nil {
			return err
		}
		_, err := Append(ctx, tx, "mail", "proj", TypeMessage, MessagePayload{MessageID: "m-1", FromAgent: "a1"})
		return err
	}))

	events, err := log.Read(ctx, Filter{Stream: "cell"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, TypeCell, events[0].Type)
}

func TestReplay_VisitsEventsInSequenceOrder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	log := New(db, nil)

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		for i := 0; i < 5; i++ {
			if _, err := Append(ctx, tx, "cell", "proj", TypeCell, CellPayload{CellID: "bd-1"}); err != nil {
				return err
			}
		}
		return nil
	}))

	var seen []int64
	count, err := log.Replay(ctx, Filter{}, func(_ context.Context, e Event) error {
		seen = append(seen, e.Sequence)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 5, count)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, seen)
}
