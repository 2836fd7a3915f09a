package projections

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/eventlog"
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

func TestApplyAgent_RegistersThenRefreshesLastActive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		ack, err := eventlog.Append(ctx, tx, "agent", "proj", eventlog.TypeAgent, eventlog.AgentPayload{Name: "alice"})
		require.NoError(t, err)
		return ApplyAgent(ctx, tx, eventlog.Event{ProjectKey: "proj", Timestamp: ack.Timestamp, Type: eventlog.TypeAgent, Payload: mustJSON(eventlog.AgentPayload{Name: "alice"})})
	}))

	a, err := GetAgent(ctx, db, "proj", "alice")
	require.NoError(t, err)
	require.Equal(t, int64(a.RegisteredAt), a.LastActiveAt)

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		return ApplyAgent(ctx, tx, eventlog.Event{ProjectKey: "proj", Timestamp: a.LastActiveAt + 1000, Type: eventlog.TypeAgent, Payload: mustJSON(eventlog.AgentPayload{Name: "alice"})})
	}))

	a2, err := GetAgent(ctx, db, "proj", "alice")
	require.NoError(t, err)
	require.Greater(t, a2.LastActiveAt, a.LastActiveAt)
	require.Equal(t, a.RegisteredAt, a2.RegisteredAt)
}

func TestInbox_OmitsBodyUntilReadMessage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.MessagePayload{MessageID: "m-1", FromAgent: "sender", To: []string{"recipient"}, Subject: "S", Body: "B"}
		ack, err := eventlog.Append(ctx, tx, "mail", "proj", eventlog.TypeMessage, payload)
		if err != nil {
			return err
		}
		return ApplyMessage(ctx, tx, eventlog.Event{ProjectKey: "proj", Timestamp: ack.Timestamp, Type: eventlog.TypeMessage, Payload: mustJSON(payload)})
	}))

	inbox, err := Inbox(ctx, db, "recipient", 5, false, "")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "S", inbox[0].Subject)
	require.Empty(t, inbox[0].Body)

	full, err := GetMessage(ctx, db, "m-1")
	require.NoError(t, err)
	require.Equal(t, "B", full.Body)
}

func TestHasPath_DetectsCycleCandidate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		for _, e := range []struct{ from, to string }{{"A", "B"}, {"B", "C"}} {
			p := eventlog.DependencyPayload{FromCell: e.from, ToCell: e.to, Relationship: "blocks"}
			if err := ApplyDependency(ctx, tx, eventlog.Event{Payload: mustJSON(p)}, false); err != nil {
				return err
			}
		}
		return nil
	}))

	hasPath, err := HasPath(ctx, db, "C", "A")
	require.NoError(t, err)
	require.False(t, hasPath, "no edge from C yet, so C cannot reach A")

	hasPath, err = HasPath(ctx, db, "A", "C")
	require.NoError(t, err)
	require.True(t, hasPath, "A -> B -> C exists, so adding C -> A would close a cycle")
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
