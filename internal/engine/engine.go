// Package engine wires every substrate component into the one object a
// host process constructs: storage, migrations, the event log, the
// mailbox, reservations, the durable lock, durable deferreds, the hive,
// semantic memory, analytics, and replay, mirroring the teacher's
// core.Engine as the single entrypoint a runtime holds onto.
package engine

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/config"
	"github.com/swarmhive/core/internal/deferred"
	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/hive"
	"github.com/swarmhive/core/internal/inference"
	"github.com/swarmhive/core/internal/lock"
	"github.com/swarmhive/core/internal/logging"
	"github.com/swarmhive/core/internal/mail"
	"github.com/swarmhive/core/internal/memory"
	"github.com/swarmhive/core/internal/metrics"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/reservations"
	"github.com/swarmhive/core/internal/storage"
)

// deferredCleanupSchedule runs the expired-deferred janitor once a minute;
// deferreds default to a 300s TTL, so a minute keeps expired rows from
// lingering much past their own deadline.
const deferredCleanupSchedule = "@every 1m"

// Engine is the single constructed object a host process holds: every
// subsystem above the raw storage.Adapter, already wired to each other.
type Engine struct {
	DB           storage.Adapter
	Log          *zap.Logger
	Metrics      *metrics.Registry
	EventLog     *eventlog.Log
	Mail         *mail.Mailbox
	Reservations *reservations.Reservations
	Locks        *lock.Locks
	Deferreds    *deferred.Deferreds
	Hive         *hive.Hive
	Memory       *memory.Memories
	Inference    *inference.Registry
	Analytics    *Analytics
	Replay       *Replay

	cron       *cron.Cron
	watcher    *fsnotify.Watcher
	snapshotCh chan string
	cancel     context.CancelFunc
}

// Open builds and wires every component from cfg: opens storage, runs
// migrations, then constructs each subsystem over the same db handle.
func Open(cfg *config.Config) (*Engine, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	e, err := open(db, logger, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// open is the shared constructor body, factored out so tests can pass an
// in-memory adapter without going through the file-backed Open.
func open(db storage.Adapter, logger *zap.Logger, cfg *config.Config) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if err := migration.New(db, logger).Migrate(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	m := metrics.New()
	infer := inference.NewRegistry()
	infer.Register("noop", inference.Noop{})

	evlog := eventlog.New(db, logger)
	mb := mail.New(db, evlog, mail.Config{MaxInboxLimit: cfg.MaxInboxLimit}, logger)
	res := reservations.New(db, logger, m)
	locks := lock.New(db, logger, m)
	defs := deferred.New(db, logger)
	hv := hive.New(db, logger, m)
	mem := memory.New(db, logger, m, infer)

	e := &Engine{
		DB:           db,
		Log:          logger,
		Metrics:      m,
		EventLog:     evlog,
		Mail:         mb,
		Reservations: res,
		Locks:        locks,
		Deferreds:    defs,
		Hive:         hv,
		Memory:       mem,
		Inference:    infer,
		Analytics:    &Analytics{db: db},
		Replay:       &Replay{log: evlog},
		snapshotCh:   make(chan string, 1),
		cancel:       cancel,
	}

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(deferredCleanupSchedule, func() {
		if _, err := defs.CleanupExpired(ctx); err != nil {
			logger.Warn("deferred cleanup failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("schedule deferred janitor: %w", err)
	}
	e.cron.Start()

	if cfg.SnapshotDir != "" {
		if err := e.watchSnapshotDir(ctx, cfg.SnapshotDir); err != nil {
			logger.Warn("snapshot directory watch disabled", zap.Error(err))
		}
	}

	return e, nil
}

// watchSnapshotDir starts an fsnotify watch over dir, forwarding every
// write as a SnapshotChanged signal on e.SnapshotChanged(). Adapted from
// the teacher's own fsnotify-backed config watcher.
func (e *Engine) watchSnapshotDir(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	e.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					select {
					case e.snapshotCh <- ev.Name:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.Log.Warn("snapshot watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// SnapshotChanged receives the path of the most recently changed file
// under the watched snapshot directory, one pending notification deep.
func (e *Engine) SnapshotChanged() <-chan string {
	return e.snapshotCh
}

// Close stops the janitor and snapshot watch, cancels background work,
// and closes the underlying storage handle.
func (e *Engine) Close() error {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.cancel()
	if err := e.DB.Close(); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}
