package projections

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/storage"
)

// Cell is the materialized cells row — a work item in the hive.
type Cell struct {
	ID           string
	ProjectKey   string
	Type         string
	Status       string
	Title        string
	Description  string
	Priority     int
	ParentID     *string
	Assignee     *string
	CreatedAt    int64
	UpdatedAt    int64
	ClosedAt     *int64
	ClosedReason *string
}

// ApplyCell folds the cell_* event family into the cells table.
func ApplyCell(ctx context.Context, tx storage.Tx, e eventlog.Event) error {
	var p eventlog.CellPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells WHERE id = $1`, p.CellID).Scan(&exists); err != nil {
		return wrapStorage(err)
	}

	if exists == 0 {
		status := p.Status
		if status == "" {
			status = "open"
		}
		var parentID, assignee any
		if p.ParentID != "" {
			parentID = p.ParentID
		}
		if p.Assignee != "" {
			assignee = p.Assignee
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cells (id, project_key, type, status, title, description, priority, parent_id, assignee, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
			p.CellID, e.ProjectKey, p.Type, status, p.Title, p.Description, p.Priority, parentID, assignee, e.Timestamp)
		return wrapStorage(err)
	}

	switch {
	case p.Status == "closed" || p.Status == "tombstone":
		_, err := tx.ExecContext(ctx,
			`UPDATE cells SET status = $1, closed_at = $2, closed_reason = $3, updated_at = $4 WHERE id = $5`,
			p.Status, e.Timestamp, nullableString(p.ClosedReason), e.Timestamp, p.CellID)
		return wrapStorage(err)
	case p.Status == "open":
		// cell_reopened: clears any prior close stamp.
		_, err := tx.ExecContext(ctx,
			`UPDATE cells SET status = 'open', closed_at = NULL, closed_reason = NULL, updated_at = $1 WHERE id = $2`,
			e.Timestamp, p.CellID)
		return wrapStorage(err)
	case p.Status != "":
		_, err := tx.ExecContext(ctx, `UPDATE cells SET status = $1, updated_at = $2 WHERE id = $3`, p.Status, e.Timestamp, p.CellID)
		return wrapStorage(err)
	default:
		return applyCellFieldUpdate(ctx, tx, e, p)
	}
}

func applyCellFieldUpdate(ctx context.Context, tx storage.Tx, e eventlog.Event, p eventlog.CellPayload) error {
	query := `UPDATE cells SET updated_at = $1`
	params := []any{e.Timestamp}
	n := 1
	if p.Title != "" {
		n++
		query += `, title = $` + strconv.Itoa(n)
		params = append(params, p.Title)
	}
	if p.Description != "" {
		n++
		query += `, description = $` + strconv.Itoa(n)
		params = append(params, p.Description)
	}
	if p.Priority != 0 {
		n++
		query += `, priority = $` + strconv.Itoa(n)
		params = append(params, p.Priority)
	}
	if p.Assignee != "" {
		n++
		query += `, assignee = $` + strconv.Itoa(n)
		params = append(params, p.Assignee)
	}
	n++
	query += ` WHERE id = $` + strconv.Itoa(n)
	params = append(params, p.CellID)

	_, err := tx.ExecContext(ctx, query, params...)
	return wrapStorage(err)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetCell returns a single cell row, or errs.NotFound.
func GetCell(ctx context.Context, db storage.Adapter, id string) (Cell, error) {
	var c Cell
	row := db.QueryRow(ctx, `SELECT id, project_key, type, status, title, description, priority, parent_id, assignee, created_at, updated_at, closed_at, closed_reason FROM cells WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.ProjectKey, &c.Type, &c.Status, &c.Title, &c.Description, &c.Priority, &c.ParentID, &c.Assignee, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt, &c.ClosedReason); err != nil {
		return Cell{}, errs.New(errs.NotFound, "cell not found: "+id)
	}
	return c, nil
}

// ChildrenClosed reports whether every non-tombstoned child of epicID is
// closed — the epic-closure-eligibility check.
func ChildrenClosed(ctx context.Context, db storage.Adapter, epicID string) (bool, error) {
	var openCount int
	row := db.QueryRow(ctx,
		`SELECT COUNT(*) FROM cells WHERE parent_id = $1 AND status NOT IN ('closed', 'tombstone')`, epicID)
	if err := row.Scan(&openCount); err != nil {
		return false, wrapStorage(err)
	}
	return openCount == 0, nil
}
