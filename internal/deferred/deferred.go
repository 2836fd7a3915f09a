// Package deferred implements durable, at-most-once-resolved futures:
// create a row plus an in-process notifier, resolve/reject it exactly
// once via a conditional update, and await it through whichever of the
// notifier or a periodic DB poll observes the outcome first.
package deferred

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/storage"
)

const pollInterval = 100 * time.Millisecond

// Outcome is what an awaiter eventually receives.
type Outcome struct {
	Value json.RawMessage
	Err   string
}

type notifier struct {
	mu   sync.Mutex
	subs map[string]chan Outcome
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]chan Outcome)}
}

func (n *notifier) register(url string) chan Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan Outcome, 1)
	n.subs[url] = ch
	return ch
}

func (n *notifier) fire(url string, o Outcome) {
	n.mu.Lock()
	ch, ok := n.subs[url]
	if ok {
		delete(n.subs, url)
	}
	n.mu.Unlock()
	if ok {
		ch <- o
	}
}

// Deferreds is the durable-deferred surface: create, resolve, reject,
// await, cleanupExpired.
type Deferreds struct {
	db       storage.Adapter
	log      *zap.Logger
	notifier *notifier
}

func New(db storage.Adapter, log *zap.Logger) *Deferreds {
	if log == nil {
		log = zap.NewNop()
	}
	return &Deferreds{db: db, log: log, notifier: newNotifier()}
}

// Handle is the awaitable returned by Create.
type Handle struct {
	URL string
	d   *Deferreds
}

// CreateOptions tunes a Create call.
type CreateOptions struct {
	TTLSeconds int64
}

// Create inserts a row and registers an in-process single-shot notifier
// keyed by the caller-supplied url.
func (d *Deferreds) Create(ctx context.Context, url string, opts CreateOptions) (*Handle, error) {
	if opts.TTLSeconds == 0 {
		opts.TTLSeconds = 300
	}
	now := time.Now().UnixMilli()
	expiresAt := now + opts.TTLSeconds*1000

	_, err := d.db.Exec(ctx,
		`INSERT INTO deferreds (url, resolved, value, error, expires_at, created_at) VALUES ($1,0,NULL,NULL,$2,$3)`,
		url, expiresAt, now)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	d.notifier.register(url)
	return &Handle{URL: url, d: d}, nil
}

// Resolve atomically updates the row to resolved=1 with value, only if
// the row exists and is still unresolved. It signals the in-process
// notifier on success.
func (d *Deferreds) Resolve(ctx context.Context, url string, value json.RawMessage) error {
	return d.settle(ctx, url, Outcome{Value: value})
}

// Reject is Resolve's failure-path twin, populating error instead of
// value.
func (d *Deferreds) Reject(ctx context.Context, url string, errMsg string) error {
	return d.settle(ctx, url, Outcome{Err: errMsg})
}

func (d *Deferreds) settle(ctx context.Context, url string, o Outcome) error {
	var res sql.Result
	var err error
	if o.Err != "" {
		res, err = d.db.Exec(ctx, `UPDATE deferreds SET resolved = 1, error = $1 WHERE url = $2 AND resolved = 0`, o.Err, url)
	} else {
		res, err = d.db.Exec(ctx, `UPDATE deferreds SET resolved = 1, value = $1 WHERE url = $2 AND resolved = 0`, string(o.Value), url)
	}
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	if n == 0 {
		return errs.New(errs.NotFound, "deferred absent or already resolved: "+url)
	}
	d.notifier.fire(url, o)
	return nil
}

// Await blocks until url resolves, the poll loop observes a terminal
// state, or ctx is cancelled. Whichever observes the outcome first wins;
// the other path is abandoned.
func (h *Handle) Await(ctx context.Context) (Outcome, error) {
	ch := h.d.notifier.register(h.URL)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case o := <-ch:
			return o, nil
		case <-ticker.C:
			o, done, err := h.d.poll(ctx, h.URL)
			if err != nil {
				return Outcome{}, err
			}
			if done {
				return o, nil
			}
		case <-ctx.Done():
			return Outcome{}, errs.New(errs.TimeoutError, "await cancelled: "+h.URL)
		}
	}
}

func (d *Deferreds) poll(ctx context.Context, url string) (Outcome, bool, error) {
	var resolved int
	var value, errMsg sql.NullString
	row := d.db.QueryRow(ctx, `SELECT resolved, value, error FROM deferreds WHERE url = $1`, url)
	switch err := row.Scan(&resolved, &value, &errMsg); {
	case errors.Is(err, sql.ErrNoRows):
		return Outcome{}, false, errs.New(errs.NotFound, "deferred not found: "+url)
	case err != nil:
		return Outcome{}, false, errs.Wrap(errs.Storage, err)
	}
	if resolved == 0 {
		return Outcome{}, false, nil
	}
	out := Outcome{Err: errMsg.String}
	if value.Valid {
		out.Value = json.RawMessage(value.String)
	}
	return out, true, nil
}

// CleanupExpired removes rows past their expiry, resolved or not.
func (d *Deferreds) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := d.db.Exec(ctx, `DELETE FROM deferreds WHERE expires_at < $1`, time.Now().UnixMilli())
	if err != nil {
		return 0, errs.Wrap(errs.Storage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.Storage, err)
	}
	return n, nil
}
