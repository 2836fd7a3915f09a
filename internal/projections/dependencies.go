package projections

import (
	"context"
	"encoding/json"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/storage"
)

// Dependency is one edge in the cell dependency graph.
type Dependency struct {
	FromCell     string
	ToCell       string
	Relationship string
	CreatedAt    int64
}

// ApplyDependency folds cell_dependency_added/removed events; the caller
// says which through removed. A removed event deletes the
// (from,to,relationship) edge; an added event inserts it with INSERT OR
// IGNORE, so adding an edge that already exists is a no-op.
func ApplyDependency(ctx context.Context, tx storage.Tx, e eventlog.Event, removed bool) error {
	var p eventlog.DependencyPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	if removed {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM dependencies WHERE from_cell = $1 AND to_cell = $2 AND relationship = $3`,
			p.FromCell, p.ToCell, p.Relationship)
		return wrapStorage(err)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO dependencies (from_cell, to_cell, relationship, created_at) VALUES ($1,$2,$3,$4)`,
		p.FromCell, p.ToCell, p.Relationship, e.Timestamp)
	return wrapStorage(err)
}

// OutgoingBlocks returns the cell ids that fromCell is blocked on via an
// unresolved "blocks" relationship.
func OutgoingBlocks(ctx context.Context, db storage.Adapter, fromCell string) ([]string, error) {
	rows, err := db.Query(ctx,
		`SELECT d.to_cell FROM dependencies d WHERE d.from_cell = $1 AND d.relationship = 'blocks'`, fromCell)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, wrapStorage(err)
		}
		out = append(out, to)
	}
	return out, rows.Err()
}

// HasPath reports whether a directed path of "blocks" edges exists from
// start to target, used for cycle detection before inserting a new edge.
// The walk is a visited-set DFS capped at depth 64 to bound pathological
// graphs.
func HasPath(ctx context.Context, db storage.Adapter, start, target string) (bool, error) {
	const maxDepth = 64
	visited := map[string]bool{}
	var walk func(node string, depth int) (bool, error)
	walk = func(node string, depth int) (bool, error) {
		if node == target {
			return true, nil
		}
		if depth >= maxDepth || visited[node] {
			return false, nil
		}
		visited[node] = true
		next, err := OutgoingBlocks(ctx, db, node)
		if err != nil {
			return false, err
		}
		for _, n := range next {
			found, err := walk(n, depth+1)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
		return false, nil
	}
	return walk(start, 0)
}
