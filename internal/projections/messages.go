package projections

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/storage"
)

// Message is the materialized messages row. Body is populated only when
// callers explicitly fetch it (read_message); list queries select the
// other columns and leave Body empty to protect agent context windows.
type Message struct {
	ID          string
	FromAgent   string
	Subject     string
	Body        string
	ThreadID    string
	Importance  string
	AckRequired bool
	ProjectKey  string
	CreatedAt   int64
	ReadAt      *int64
	AckedAt     *int64
}

// ApplyMessage folds message_sent/message_read/message_acked events into
// the messages and message_recipients tables.
func ApplyMessage(ctx context.Context, tx storage.Tx, e eventlog.Event) error {
	var p eventlog.MessagePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	switch e.Type {
	case eventlog.TypeMessage:
		return applyMessageEvent(ctx, tx, e, p)
	}
	return nil
}

func applyMessageEvent(ctx context.Context, tx storage.Tx, e eventlog.Event, p eventlog.MessagePayload) error {
	// message_sent carries a non-empty Subject/Body; read/acked carry only
	// MessageID plus Kind, which says which timestamp column to stamp —
	// read and ack are otherwise identically shaped, so without Kind a
	// replay could never tell an ack from a read.
	var exists int
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = $1`, p.MessageID)
	if err := row.Scan(&exists); err != nil {
		return wrapStorage(err)
	}

	if exists == 0 {
		importance := p.Importance
		if importance == "" {
			importance = "normal"
		}
		ackReq := 0
		if p.AckRequired {
			ackReq = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, from_agent, subject, body, thread_id, importance, ack_required, project_key, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			p.MessageID, p.FromAgent, p.Subject, p.Body, p.ThreadID, importance, ackReq, e.ProjectKey, e.Timestamp)
		if err != nil {
			return wrapStorage(err)
		}
		for _, to := range p.To {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO message_recipients (message_id, agent, read_at, acked_at) VALUES ($1,$2,$3,$4)`,
				p.MessageID, to, nil, nil); err != nil {
				return wrapStorage(err)
			}
		}
		return nil
	}

	// Subsequent events for an existing message are read/ack stamps,
	// idempotent: only the first stamp sticks.
	switch p.Kind {
	case "ack":
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET acked_at = COALESCE(acked_at, $1) WHERE id = $2`, e.Timestamp, p.MessageID); err != nil {
			return wrapStorage(err)
		}
	case "read", "":
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET read_at = COALESCE(read_at, $1) WHERE id = $2`, e.Timestamp, p.MessageID); err != nil {
			return wrapStorage(err)
		}
	}
	return nil
}

// MarkRead stamps read_at for messageID (idempotent) and its recipient
// row for agent, used directly by the mailbox's read_message operation
// rather than folded from a generic message event.
func MarkRead(ctx context.Context, tx storage.Tx, messageID, agent string, at int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET read_at = COALESCE(read_at, $1) WHERE id = $2`, at, messageID); err != nil {
		return wrapStorage(err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE message_recipients SET read_at = COALESCE(read_at, $1) WHERE message_id = $2 AND agent = $3`, at, messageID, agent)
	return wrapStorage(err)
}

// MarkAcked stamps acked_at for messageID and its recipient row.
func MarkAcked(ctx context.Context, tx storage.Tx, messageID, agent string, at int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET acked_at = COALESCE(acked_at, $1) WHERE id = $2`, at, messageID); err != nil {
		return wrapStorage(err)
	}
	_, err := tx.ExecContext(ctx, `UPDATE message_recipients SET acked_at = COALESCE(acked_at, $1) WHERE message_id = $2 AND agent = $3`, at, messageID, agent)
	return wrapStorage(err)
}

// Inbox returns up to limit messages addressed to agent, newest first,
// with Body left empty — callers must use GetMessage to read a body.
func Inbox(ctx context.Context, db storage.Adapter, agent string, limit int, urgentOnly bool, threadID string) ([]Message, error) {
	query := `SELECT m.id, m.from_agent, m.subject, m.thread_id, m.importance, m.ack_required, m.project_key, m.created_at, r.read_at, r.acked_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.id
		WHERE r.agent = $1`
	params := []any{agent}
	n := 1
	if urgentOnly {
		n++
		query += ` AND m.importance = $` + strconv.Itoa(n)
		params = append(params, "urgent")
	}
	if threadID != "" {
		n++
		query += ` AND m.thread_id = $` + strconv.Itoa(n)
		params = append(params, threadID)
	}
	query += ` ORDER BY m.created_at DESC`
	n++
	query += ` LIMIT $` + strconv.Itoa(n)
	params = append(params, limit)

	rows, err := db.Query(ctx, query, params...)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ackReq int
		if err := rows.Scan(&m.ID, &m.FromAgent, &m.Subject, &m.ThreadID, &m.Importance, &ackReq, &m.ProjectKey, &m.CreatedAt, &m.ReadAt, &m.AckedAt); err != nil {
			return nil, wrapStorage(err)
		}
		m.AckRequired = ackReq != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage returns the full row, including body, for a single message.
func GetMessage(ctx context.Context, db storage.Adapter, messageID string) (Message, error) {
	row := db.QueryRow(ctx, `SELECT id, from_agent, subject, body, thread_id, importance, ack_required, project_key, created_at, read_at, acked_at FROM messages WHERE id = $1`, messageID)
	return scanMessage(row, messageID)
}

// GetMessageTx is GetMessage run against an open transaction, for callers
// that need to read a message and then fold an event against it in the
// same transaction.
func GetMessageTx(ctx context.Context, tx storage.Tx, messageID string) (Message, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, from_agent, subject, body, thread_id, importance, ack_required, project_key, created_at, read_at, acked_at FROM messages WHERE id = $1`, messageID)
	return scanMessage(row, messageID)
}

func scanMessage(row *sql.Row, messageID string) (Message, error) {
	var m Message
	var ackReq int
	if err := row.Scan(&m.ID, &m.FromAgent, &m.Subject, &m.Body, &m.ThreadID, &m.Importance, &ackReq, &m.ProjectKey, &m.CreatedAt, &m.ReadAt, &m.AckedAt); err != nil {
		return Message{}, errs.New(errs.NotFound, "message not found: "+messageID)
	}
	m.AckRequired = ackReq != 0
	return m, nil
}
