// Package hive is the work-item surface: cells, dependencies, labels,
// comments, the blocked cache, and the ready queue, all driven by
// appending one of the fixed cell_* event family and folding it through
// internal/projections in the same transaction.
package hive

import (
	"context"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/metrics"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

// blockedCacheSize bounds the in-process membership cache IsBlockedCached
// keeps in front of the cell_blocked_cache table; it's a hot read on the
// ready-queue path, and most projects' blocked sets fit well inside this.
const blockedCacheSize = 1024

// Hive is the work-item surface.
type Hive struct {
	db      storage.Adapter
	log     *zap.Logger
	metrics *metrics.Registry
	blocked *lru.Cache[string, bool]
}

func New(db storage.Adapter, log *zap.Logger, m *metrics.Registry) *Hive {
	if log == nil {
		log = zap.NewNop()
	}
	blocked, _ := lru.New[string, bool](blockedCacheSize)
	return &Hive{db: db, log: log, metrics: m, blocked: blocked}
}

// CreateRequest is the input to CreateCell.
type CreateRequest struct {
	ProjectKey  string
	ProjectSlug string
	Type        string
	Title       string
	Description string
	Priority    int
	ParentID    string
	Assignee    string
}

// CreateCell appends a cell_created event and its projection row,
// returning the generated cell id.
func (h *Hive) CreateCell(ctx context.Context, req CreateRequest) (string, error) {
	if req.Title == "" {
		return "", errs.New(errs.Validation, "cell requires a title")
	}
	cellID := NewCellID(req.ProjectKey, req.ProjectSlug)
	priority := req.Priority
	if priority == 0 {
		priority = 2
	}

	err := h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CellPayload{
			CellID: cellID, ProjectKey: req.ProjectKey, Type: req.Type, Status: "open",
			Title: req.Title, Description: req.Description, Priority: priority,
			ParentID: req.ParentID, Assignee: req.Assignee,
		}
		return h.appendAndApply(ctx, tx, req.ProjectKey, payload)
	})
	if err != nil {
		return "", err
	}
	return cellID, nil
}

// UpdateFields carries a sparse field-level update; zero values mean "no
// change" except where noted.
type UpdateFields struct {
	Title       string
	Description string
	Priority    int
	Assignee    string
}

// UpdateCell appends a cell_updated event for a field-level edit.
func (h *Hive) UpdateCell(ctx context.Context, projectKey, cellID string, fields UpdateFields) error {
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CellPayload{
			CellID: cellID, ProjectKey: projectKey, Title: fields.Title,
			Description: fields.Description, Priority: fields.Priority, Assignee: fields.Assignee,
		}
		return h.appendAndApply(ctx, tx, projectKey, payload)
	})
}

// ChangeStatus appends a cell_status_changed event. Valid transitions are
// enforced by the caller's domain logic; this layer records whatever
// status is given.
func (h *Hive) ChangeStatus(ctx context.Context, projectKey, cellID, status string) error {
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CellPayload{CellID: cellID, ProjectKey: projectKey, Status: status}
		if err := h.appendAndApply(ctx, tx, projectKey, payload); err != nil {
			return err
		}
		return h.rebuildAndTrack(ctx, tx, projectKey)
	})
}

// Close appends a cell_closed event, setting status closed with reason.
// Tombstoning is Delete's job.
func (h *Hive) Close(ctx context.Context, projectKey, cellID, reason string) error {
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CellPayload{CellID: cellID, ProjectKey: projectKey, Status: "closed", ClosedReason: reason}
		if err := h.appendAndApply(ctx, tx, projectKey, payload); err != nil {
			return err
		}
		return h.rebuildAndTrack(ctx, tx, projectKey)
	})
}

// Reopen appends a cell_reopened event, clearing any closed stamp.
func (h *Hive) Reopen(ctx context.Context, projectKey, cellID string) error {
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CellPayload{CellID: cellID, ProjectKey: projectKey, Status: "open"}
		if err := h.appendAndApply(ctx, tx, projectKey, payload); err != nil {
			return err
		}
		return h.rebuildAndTrack(ctx, tx, projectKey)
	})
}

// Delete appends a cell_deleted event, soft-tombstoning the row so
// dependency history is preserved.
func (h *Hive) Delete(ctx context.Context, projectKey, cellID string) error {
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CellPayload{CellID: cellID, ProjectKey: projectKey, Status: "tombstone"}
		if err := h.appendAndApply(ctx, tx, projectKey, payload); err != nil {
			return err
		}
		return h.rebuildAndTrack(ctx, tx, projectKey)
	})
}

// rebuildAndTrack rebuilds the blocked cache and, if a metrics registry
// is attached, refreshes the BlockedCells gauge from the rebuilt count.
func (h *Hive) rebuildAndTrack(ctx context.Context, tx storage.Tx, projectKey string) error {
	if err := rebuildBlockedCache(ctx, tx, projectKey); err != nil {
		return err
	}
	h.purgeBlockedCache()
	if h.metrics == nil {
		return nil
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cell_blocked_cache`).Scan(&count); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	h.metrics.BlockedCells.Set(float64(count))
	return nil
}

// purgeBlockedCache drops the in-process membership cache after any write
// that may have changed blocked status, since a full rebuild can flip
// membership for cells the cache never saw written directly.
func (h *Hive) purgeBlockedCache() {
	if h.blocked != nil {
		h.blocked.Purge()
	}
}

func (h *Hive) appendAndApply(ctx context.Context, tx storage.Tx, projectKey string, payload eventlog.CellPayload) error {
	ack, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeCell, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.Validation, err)
	}
	return projections.ApplyCell(ctx, tx, eventlog.Event{
		ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeCell, Payload: b,
	})
}

