package hive

import (
	"context"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

// ReadyQueue returns open, unblocked cells for projectKey ordered by
// priority ascending (lower number = higher priority), ties broken by
// created_at ascending.
func ReadyQueue(ctx context.Context, db storage.Adapter, projectKey string, limit int) ([]projections.Cell, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx,
		`SELECT c.id, c.project_key, c.type, c.status, c.title, c.description, c.priority, c.parent_id, c.assignee, c.created_at, c.updated_at, c.closed_at, c.closed_reason
		 FROM cells c
		 WHERE c.project_key = $1 AND c.status = 'open'
		   AND c.id NOT IN (SELECT cell_id FROM cell_blocked_cache)
		 ORDER BY c.priority ASC, c.created_at ASC
		 LIMIT $2`,
		projectKey, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err)
	}
	defer rows.Close()

	var out []projections.Cell
	for rows.Next() {
		var c projections.Cell
		if err := rows.Scan(&c.ID, &c.ProjectKey, &c.Type, &c.Status, &c.Title, &c.Description, &c.Priority, &c.ParentID, &c.Assignee, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt, &c.ClosedReason); err != nil {
			return nil, errs.Wrap(errs.Storage, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Next returns the single highest-priority ready cell, or errs.NotFound
// if the queue is empty.
func Next(ctx context.Context, db storage.Adapter, projectKey string) (projections.Cell, error) {
	cells, err := ReadyQueue(ctx, db, projectKey, 1)
	if err != nil {
		return projections.Cell{}, err
	}
	if len(cells) == 0 {
		return projections.Cell{}, errs.New(errs.NotFound, "no ready cells for "+projectKey)
	}
	return cells[0], nil
}
