package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

func newTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	return New(db, eventlog.New(db, nil), DefaultConfig(), nil)
}

func TestInboxBodiesOmittedUntilReadMessage(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()

	_, err := mb.Init(ctx, "proj", "Sender")
	require.NoError(t, err)
	_, err = mb.Init(ctx, "proj", "Recipient")
	require.NoError(t, err)

	_, err = mb.Send(ctx, "proj", SendRequest{From: "Sender", To: []string{"Recipient"}, Subject: "S", Body: "B"})
	require.NoError(t, err)

	inbox, err := mb.Inbox(ctx, "Recipient", InboxRequest{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "S", inbox[0].Subject)
	require.Empty(t, inbox[0].Body)
	require.Contains(t, inbox[0].Note, "read_message")

	full, err := mb.ReadMessage(ctx, "Recipient", inboxMessageID(t, inbox))
	require.NoError(t, err)
	require.Equal(t, "B", full.Body)
}

func TestInit_ReinitReturnsAlreadyInitialized(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()

	first, err := mb.Init(ctx, "proj", "Sender")
	require.NoError(t, err)
	require.False(t, first.AlreadyInitialized)

	second, err := mb.Init(ctx, "proj", "Sender")
	require.NoError(t, err)
	require.True(t, second.AlreadyInitialized)
	require.Equal(t, first.AgentName, second.AgentName)
}

func TestInboxCeiling_NeverExceedsMaxInboxLimit(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()

	_, err := mb.Init(ctx, "proj", "Sender")
	require.NoError(t, err)
	_, err = mb.Init(ctx, "proj", "Recipient")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := mb.Send(ctx, "proj", SendRequest{From: "Sender", To: []string{"Recipient"}, Subject: "S"})
		require.NoError(t, err)
	}

	inbox, err := mb.Inbox(ctx, "Recipient", InboxRequest{Limit: 100})
	require.NoError(t, err)
	require.LessOrEqual(t, len(inbox), DefaultConfig().MaxInboxLimit)
}

func TestSend_FailsNotInitialized(t *testing.T) {
	mb := newTestMailbox(t)
	ctx := context.Background()

	_, err := mb.Send(ctx, "proj", SendRequest{From: "Ghost", To: []string{"Nobody"}, Subject: "S"})
	require.Error(t, err)
}

// TestAck_SurvivesReplayFromEmptyProjections guards against read and ack
// collapsing into the same event shape: truncating the messages table and
// replaying the raw event log must reproduce the acked_at stamp the live
// path set, not silently downgrade it to a read.
func TestAck_SurvivesReplayFromEmptyProjections(t *testing.T) {
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))

	log := eventlog.New(db, nil)
	mb := New(db, log, DefaultConfig(), nil)
	ctx := context.Background()

	_, err = mb.Init(ctx, "proj", "Sender")
	require.NoError(t, err)
	_, err = mb.Init(ctx, "proj", "Recipient")
	require.NoError(t, err)

	messageID, err := mb.Send(ctx, "proj", SendRequest{From: "Sender", To: []string{"Recipient"}, Subject: "S", Body: "B", AckRequired: true})
	require.NoError(t, err)

	_, err = mb.ReadMessage(ctx, "Recipient", messageID)
	require.NoError(t, err)
	require.NoError(t, mb.Ack(ctx, "Recipient", messageID))

	live, err := projections.GetMessage(ctx, db, messageID)
	require.NoError(t, err)
	require.NotNil(t, live.AckedAt)

	require.NoError(t, db.Transaction(ctx, func(tx storage.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM message_recipients`)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM messages`)
		return err
	}))

	_, err = log.Replay(ctx, eventlog.Filter{Stream: "mail"}, func(ctx context.Context, e eventlog.Event) error {
		return db.Transaction(ctx, func(tx storage.Tx) error {
			return projections.ApplyMessage(ctx, tx, e)
		})
	})
	require.NoError(t, err)

	replayed, err := projections.GetMessage(ctx, db, messageID)
	require.NoError(t, err)
	require.NotNil(t, replayed.AckedAt)
	require.Equal(t, *live.AckedAt, *replayed.AckedAt)
}

func inboxMessageID(t *testing.T, entries []InboxEntry) string {
	t.Helper()
	require.NotEmpty(t, entries)
	return entries[0].ID
}
