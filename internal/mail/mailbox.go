package mail

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

// Config tunes mailbox policy. MaxInboxLimit is the hard ceiling inbox()
// enforces regardless of what the caller asks for, protecting an agent's
// context window from an unpaginated dump.
type Config struct {
	MaxInboxLimit int
}

func DefaultConfig() Config { return Config{MaxInboxLimit: 5} }

// Mailbox is the actor-style messaging surface: init, send, inbox,
// read_message, ack.
type Mailbox struct {
	db     storage.Adapter
	log    *eventlog.Log
	cfg    Config
	logger *zap.Logger
}

func New(db storage.Adapter, log *eventlog.Log, cfg Config, logger *zap.Logger) *Mailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInboxLimit <= 0 {
		cfg.MaxInboxLimit = DefaultConfig().MaxInboxLimit
	}
	return &Mailbox{db: db, log: log, cfg: cfg, logger: logger}
}

// InitResult is the outcome of Init.
type InitResult struct {
	AgentName         string
	AlreadyInitialized bool
}

// Init registers an agent under projectKey. If name is empty, an
// adjective-noun style name is generated. Re-init for an already
// registered agent returns the existing identity with
// AlreadyInitialized=true rather than erroring.
func (m *Mailbox) Init(ctx context.Context, projectKey, name string) (InitResult, error) {
	if name == "" {
		name = generateAgentName()
	}

	already := false
	err := m.db.Transaction(ctx, func(tx storage.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE project_key = $1 AND name = $2`, projectKey, name).Scan(&count); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		already = count > 0

		payload := eventlog.AgentPayload{Name: name}
		ack, err := eventlog.Append(ctx, tx, "agent", projectKey, eventlog.TypeAgent, payload)
		if err != nil {
			return err
		}
		return projections.ApplyAgent(ctx, tx, eventlog.Event{
			ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeAgent,
			Payload: mustMarshal(payload),
		})
	})
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{AgentName: name, AlreadyInitialized: already}, nil
}

// SendRequest is the input to Send.
type SendRequest struct {
	From        string
	To          []string
	Subject     string
	Body        string
	ThreadID    string
	Importance  string
	AckRequired bool
}

// Send appends a message_sent event and its projection rows inside one
// transaction. Fails NotInitialized if From has no registered agent row.
func (m *Mailbox) Send(ctx context.Context, projectKey string, req SendRequest) (string, error) {
	if req.From == "" {
		return "", errs.New(errs.NotInitialized, "send requires an initialized agent")
	}
	messageID := uuid.NewString()

	err := m.db.Transaction(ctx, func(tx storage.Tx) error {
		var registered int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE project_key = $1 AND name = $2`, projectKey, req.From).Scan(&registered); err != nil {
			return errs.Wrap(errs.Storage, err)
		}
		if registered == 0 {
			return errs.New(errs.NotInitialized, "agent not initialized: "+req.From)
		}

		payload := eventlog.MessagePayload{
			MessageID: messageID, FromAgent: req.From, To: req.To, Subject: req.Subject, Body: req.Body,
			ThreadID: req.ThreadID, Importance: req.Importance, AckRequired: req.AckRequired,
		}
		ack, err := eventlog.Append(ctx, tx, "mail", projectKey, eventlog.TypeMessage, payload)
		if err != nil {
			return err
		}
		return projections.ApplyMessage(ctx, tx, eventlog.Event{
			ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeMessage,
			Payload: mustMarshal(payload),
		})
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// InboxRequest restricts an Inbox call.
type InboxRequest struct {
	Limit      int
	UrgentOnly bool
	ThreadID   string
}

// InboxEntry is a list-view message: body omitted, with a note pointing
// readers to ReadMessage.
type InboxEntry struct {
	projections.Message
	Note string
}

// Inbox returns at most min(req.Limit, MaxInboxLimit) messages for agent,
// bodies omitted.
func (m *Mailbox) Inbox(ctx context.Context, agent string, req InboxRequest) ([]InboxEntry, error) {
	limit := req.Limit
	if limit <= 0 || limit > m.cfg.MaxInboxLimit {
		limit = m.cfg.MaxInboxLimit
	}
	msgs, err := projections.Inbox(ctx, m.db, agent, limit, req.UrgentOnly, req.ThreadID)
	if err != nil {
		return nil, err
	}
	out := make([]InboxEntry, len(msgs))
	for i, msg := range msgs {
		out[i] = InboxEntry{Message: msg, Note: "body omitted; call read_message to fetch it"}
	}
	return out, nil
}

// ReadMessage returns the full row including body and records a
// message_read event on first read; idempotent on subsequent reads.
func (m *Mailbox) ReadMessage(ctx context.Context, agent, messageID string) (projections.Message, error) {
	var msg projections.Message
	err := m.db.Transaction(ctx, func(tx storage.Tx) error {
		row, err := projections.GetMessageTx(ctx, tx, messageID)
		if err != nil {
			return err
		}
		msg = row

		var readAt *int64
		if err := tx.QueryRowContext(ctx, `SELECT read_at FROM message_recipients WHERE message_id = $1 AND agent = $2`, messageID, agent).Scan(&readAt); err != nil {
			readAt = row.ReadAt
		}
		if readAt != nil {
			return nil
		}

		payload := eventlog.MessagePayload{MessageID: messageID, FromAgent: row.FromAgent, Kind: "read"}
		ack, err := eventlog.Append(ctx, tx, "mail", row.ProjectKey, eventlog.TypeMessage, payload)
		if err != nil {
			return err
		}
		return projections.MarkRead(ctx, tx, messageID, agent, ack.Timestamp)
	})
	if err != nil {
		return projections.Message{}, err
	}
	return msg, nil
}

// Ack records a message_acked event for a message flagged ack_required.
// Succeeds idempotently on repeated calls.
func (m *Mailbox) Ack(ctx context.Context, agent, messageID string) error {
	return m.db.Transaction(ctx, func(tx storage.Tx) error {
		row, err := projections.GetMessageTx(ctx, tx, messageID)
		if err != nil {
			return err
		}
		payload := eventlog.MessagePayload{MessageID: messageID, FromAgent: row.FromAgent, Kind: "ack"}
		ack, err := eventlog.Append(ctx, tx, "mail", row.ProjectKey, eventlog.TypeMessage, payload)
		if err != nil {
			return err
		}
		return projections.MarkAcked(ctx, tx, messageID, agent, ack.Timestamp)
	})
}

var adjectives = []string{"swift", "quiet", "bold", "amber", "steady", "bright", "calm", "keen"}
var nouns = []string{"otter", "falcon", "lynx", "sparrow", "badger", "heron", "marten", "wren"}

func generateAgentName() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return adjectives[r.Intn(len(adjectives))] + "-" + nouns[r.Intn(len(nouns))]
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
