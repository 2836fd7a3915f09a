package hive

import (
	"context"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/storage"
)

// rebuildBlockedCache fully rebuilds cell_blocked_cache for projectKey: a
// cell is blocked if it has a live "blocks" dependency on a cell that
// isn't closed/tombstone, or if its parent is blocked (propagated
// transitively, capped at maxPathDepth to match the cycle-check bound).
// Full delete+insert rather than incremental update, since dependency and
// status changes are rare relative to reads of the cache.
func rebuildBlockedCache(ctx context.Context, tx storage.Tx, projectKey string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cell_blocked_cache WHERE cell_id IN (SELECT id FROM cells WHERE project_key = $1)`,
		projectKey); err != nil {
		return errs.Wrap(errs.Storage, err)
	}

	query := `
		INSERT INTO cell_blocked_cache (cell_id)
		WITH RECURSIVE
		  blocked_directly AS (
		    SELECT DISTINCT d.from_cell AS cell_id
		    FROM dependencies d
		    JOIN cells blocker ON d.to_cell = blocker.id
		    WHERE d.relationship = 'blocks'
		      AND blocker.status NOT IN ('closed', 'tombstone')
		      AND blocker.project_key = $1
		  ),
		  blocked_transitively AS (
		    SELECT cell_id, 0 AS depth FROM blocked_directly

		    UNION ALL

		    SELECT c.id, bt.depth + 1
		    FROM blocked_transitively bt
		    JOIN cells c ON c.parent_id = bt.cell_id
		    WHERE bt.depth < 64
		  )
		SELECT DISTINCT cell_id FROM blocked_transitively
		WHERE cell_id IN (SELECT id FROM cells WHERE project_key = $1)
	`
	if _, err := tx.ExecContext(ctx, query, projectKey); err != nil {
		return errs.Wrap(errs.Storage, err)
	}
	return nil
}

// IsBlocked reports whether cellID is currently in the blocked cache.
func IsBlocked(ctx context.Context, db storage.Adapter, cellID string) (bool, error) {
	var count int
	row := db.QueryRow(ctx, `SELECT COUNT(*) FROM cell_blocked_cache WHERE cell_id = $1`, cellID)
	if err := row.Scan(&count); err != nil {
		return false, errs.Wrap(errs.Storage, err)
	}
	return count > 0, nil
}

// IsBlockedCached is IsBlocked fronted by the hive's in-process LRU:
// a purge on every blocked-cache rebuild keeps it from serving stale
// membership past the write that would have changed it.
func (h *Hive) IsBlockedCached(ctx context.Context, cellID string) (bool, error) {
	if h.blocked != nil {
		if v, ok := h.blocked.Get(cellID); ok {
			return v, nil
		}
	}
	blocked, err := IsBlocked(ctx, h.db, cellID)
	if err != nil {
		return false, err
	}
	if h.blocked != nil {
		h.blocked.Add(cellID, blocked)
	}
	return blocked, nil
}

// RebuildBlockedCache re-folds dependencies into the blocked cache for
// projectKey outside of any other operation's transaction, for callers
// that want to recompute the cache on demand (e.g. after a bulk import).
func RebuildBlockedCache(ctx context.Context, db storage.Adapter, projectKey string) error {
	return db.Transaction(ctx, func(tx storage.Tx) error {
		return rebuildBlockedCache(ctx, tx, projectKey)
	})
}
