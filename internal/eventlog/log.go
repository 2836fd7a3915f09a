package eventlog

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/storage"
)

var validate = validator.New()

// Event is one row of the append-only log as returned to readers.
type Event struct {
	ID         int64
	Sequence   int64
	Stream     string
	ProjectKey string
	Timestamp  int64
	Type       Type
	Payload    json.RawMessage
}

// Appended is the minimal acknowledgement append() returns.
type Appended struct {
	ID        int64
	Sequence  int64
	Timestamp int64
}

// Filter restricts Read/Replay to a subset of the log. Zero values mean
// "no restriction" for that dimension. EntityID is carried but not
// applied: Read does not filter by entity id.
type Filter struct {
	Stream      string
	ProjectKey  string
	EntityID    string
	Types       []Type
	FromSeq     int64
	ToSeq       int64
	Limit       int
	Offset      int
}

// Log is the append-only event store: one monotonic sequence counter per
// store, one row per event.
type Log struct {
	db  storage.Adapter
	log *zap.Logger
}

func New(db storage.Adapter, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{db: db, log: log}
}

// Append validates payload against its declared family, then inserts the
// row inside tx, letting the caller fold in projection writes atomically.
// The sequence is the table's current max+1 computed inside the same
// transaction, so it is assigned under the same lock the insert takes.
func Append(ctx context.Context, tx storage.Tx, stream, projectKey string, typ Type, payload any) (Appended, error) {
	if !IsKnown(typ) {
		return Appended{}, errs.New(errs.Validation, "unknown event type: "+string(typ))
	}
	if err := validate.Struct(payload); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); !ok {
			return Appended{}, errs.Wrap(errs.Validation, err)
		}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return Appended{}, errs.Wrap(errs.Validation, err)
	}

	now := time.Now().UnixMilli()

	var nextSeq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM events`)
	if err := row.Scan(&nextSeq); err != nil {
		return Appended{}, errs.Wrap(errs.Storage, err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (sequence, stream, project_key, timestamp, type, payload) VALUES ($1, $2, $3, $4, $5, $6)`,
		nextSeq, stream, projectKey, now, string(typ), string(buf))
	if err != nil {
		return Appended{}, errs.Wrap(errs.Storage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Appended{}, errs.Wrap(errs.Storage, err)
	}

	return Appended{ID: id, Sequence: nextSeq, Timestamp: now}, nil
}

// Read returns events matching filter in ascending sequence order. It
// never mutates and may be called outside a transaction.
func (l *Log) Read(ctx context.Context, f Filter) ([]Event, error) {
	query := `SELECT id, sequence, stream, project_key, timestamp, type, payload FROM events WHERE 1=1`
	var params []any
	n := 0
	add := func(clause string, val any) {
		n++
		query += clause
		params = append(params, val)
	}
	if f.Stream != "" {
		add(` AND stream = $`+strconv.Itoa(n+1), f.Stream)
	}
	if f.ProjectKey != "" {
		add(` AND project_key = $`+strconv.Itoa(n+1), f.ProjectKey)
	}
	if f.FromSeq > 0 {
		add(` AND sequence >= $`+strconv.Itoa(n+1), f.FromSeq)
	}
	if f.ToSeq > 0 {
		add(` AND sequence <= $`+strconv.Itoa(n+1), f.ToSeq)
	}
	if len(f.Types) > 0 {
		n++
		query += ` AND type = ANY($` + strconv.Itoa(n) + `)`
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		params = append(params, types)
	}
	query += ` ORDER BY sequence ASC`
	if f.Limit > 0 {
		n++
		query += ` LIMIT $` + strconv.Itoa(n)
		params = append(params, f.Limit)
	}
	if f.Offset > 0 {
		n++
		query += ` OFFSET $` + strconv.Itoa(n)
		params = append(params, f.Offset)
	}

	rows, err := l.db.Query(ctx, query, params...)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ, payload string
		if err := rows.Scan(&e.ID, &e.Sequence, &e.Stream, &e.ProjectKey, &e.Timestamp, &typ, &payload); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		e.Type = Type(typ)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Applier folds one event into a projection's state. Replay calls it once
// per event in ascending sequence order.
type Applier func(ctx context.Context, e Event) error

// Replay streams events matching filter, in sequence order, to apply.
// It is pure reads on the log side; whatever apply does with a
// transaction is the caller's responsibility.
func (l *Log) Replay(ctx context.Context, f Filter, apply Applier) (int, error) {
	events, err := l.Read(ctx, f)
	if err != nil {
		return 0, err
	}
	for _, e := range events {
		if err := apply(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(events), nil
}
