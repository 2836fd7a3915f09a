// Package lock implements the durable, single-row-per-resource mutex:
// acquire, release, and a withLock convenience wrapper, backed by a
// compare-and-set update against the locks table.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/metrics"
	"github.com/swarmhive/core/internal/storage"
)

// AcquireOptions tunes a single acquire call. Zero values fall back to
// the documented defaults.
type AcquireOptions struct {
	TTLSeconds   int64
	MaxRetries   int
	BaseDelayMs  int64
	Holder       string
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.TTLSeconds <= 0 {
		o.TTLSeconds = 30
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 10
	}
	if o.BaseDelayMs <= 0 {
		o.BaseDelayMs = 50
	}
	return o
}

// Handle is the return value of a successful acquire. Release is
// idempotent from the caller's perspective: repeated calls after the
// first only re-expire a row that is already expired, and match nothing
// once another holder owns the row.
type Handle struct {
	Resource   string
	Holder     string
	Seq        int64
	AcquiredAt int64
	ExpiresAt  int64

	locks *Locks
}

// Release expires the lock row in place, but only if it still names this
// handle's (resource, holder) pair — so a handle that outlived its own
// lease, or was already released, cannot touch a lock some other holder
// has since acquired. The row is expired rather than deleted so the next
// acquirer's seq keeps counting up from where this holder left off,
// rather than resetting to 0 as if the resource were never locked.
func (h *Handle) Release(ctx context.Context) error {
	return h.locks.release(ctx, h.Resource, h.Holder)
}

// Locks is the durable-lock surface.
type Locks struct {
	db      storage.Adapter
	log     *zap.Logger
	metrics *metrics.Registry
}

func New(db storage.Adapter, log *zap.Logger, m *metrics.Registry) *Locks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locks{db: db, log: log, metrics: m}
}

// Acquire attempts a CAS-style acquisition of resource, retrying with
// exponential jittered backoff on contention up to MaxRetries. There is
// no fairness guarantee: under persistent contention some holder may
// starve, which this design accepts.
func (l *Locks) Acquire(ctx context.Context, resource string, opts AcquireOptions) (*Handle, error) {
	opts = opts.withDefaults()
	if opts.Holder == "" {
		return nil, errs.New(errs.Validation, "acquire requires a holder")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(opts.BaseDelayMs) * time.Millisecond
	bo.Multiplier = 2
	withRetries := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(opts.MaxRetries)), ctx)

	var handle *Handle
	operation := func() error {
		h, contended, err := l.tryAcquire(ctx, resource, opts)
		if err != nil {
			return backoff.Permanent(err)
		}
		if contended {
			if l.metrics != nil {
				l.metrics.LockContention.Inc()
			}
			return errs.New(errs.LockContention, "lock held by another holder: "+resource)
		}
		handle = h
		return nil
	}

	if err := backoff.Retry(operation, withRetries); err != nil {
		if errs.Is(err, errs.LockContention) {
			return nil, errs.New(errs.LockTimeout, "exhausted retries acquiring lock: "+resource)
		}
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.LockAcquired.Inc()
	}
	return handle, nil
}

// tryAcquire makes a single CAS attempt inside a transaction, returning
// (handle, contended, err).
func (l *Locks) tryAcquire(ctx context.Context, resource string, opts AcquireOptions) (*Handle, bool, error) {
	now := time.Now().UnixMilli()
	expiresAt := now + opts.TTLSeconds*1000

	var handle *Handle
	contended := false

	err := l.db.Transaction(ctx, func(tx storage.Tx) error {
		var holder string
		var seq, acquiredAt, rowExpiresAt int64
		row := tx.QueryRowContext(ctx, `SELECT holder, seq, acquired_at, expires_at FROM locks WHERE resource = $1`, resource)
		switch err := row.Scan(&holder, &seq, &acquiredAt, &rowExpiresAt); {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO locks (resource, holder, seq, acquired_at, expires_at) VALUES ($1,$2,0,$3,$4)`,
				resource, opts.Holder, now, expiresAt); err != nil {
				return errs.Wrap(errs.Storage, err)
			}
			handle = &Handle{Resource: resource, Holder: opts.Holder, Seq: 0, AcquiredAt: now, ExpiresAt: expiresAt, locks: l}
			return nil
		case err != nil:
			return errs.Wrap(errs.Storage, err)
		}

		if rowExpiresAt < now || holder == opts.Holder {
			newSeq := seq + 1
			if _, err := tx.ExecContext(ctx,
				`UPDATE locks SET seq = $1, holder = $2, acquired_at = $3, expires_at = $4 WHERE resource = $5`,
				newSeq, opts.Holder, now, expiresAt, resource); err != nil {
				return errs.Wrap(errs.Storage, err)
			}
			handle = &Handle{Resource: resource, Holder: opts.Holder, Seq: newSeq, AcquiredAt: now, ExpiresAt: expiresAt, locks: l}
			return nil
		}

		contended = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return handle, contended, nil
}

func (l *Locks) release(ctx context.Context, resource, holder string) error {
	_, err := l.db.Exec(ctx, `UPDATE locks SET expires_at = $1 WHERE resource = $2 AND holder = $3`, time.Now().UnixMilli()-1, resource, holder)
	if err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// WithLock acquires resource, runs work, and releases on every exit path
// including context cancellation inside work.
func (l *Locks) WithLock(ctx context.Context, resource string, opts AcquireOptions, work func(ctx context.Context) error) error {
	h, err := l.Acquire(ctx, resource, opts)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(context.WithoutCancel(ctx)); rerr != nil {
			l.log.Warn("lock release failed", zap.String("resource", resource), zap.Error(rerr))
		}
	}()
	return work(ctx)
}
