package hive

import (
	"context"
	"encoding/json"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

// AddDependency inserts a fromCell->toCell edge of the given
// relationship, rejecting self-dependency and any edge that would close
// a cycle back to fromCell. "blocks" edges trigger a blocked-cache
// rebuild since they're the only relationship that gates the ready
// queue.
func (h *Hive) AddDependency(ctx context.Context, projectKey, fromCell, toCell, relationship string) error {
	if fromCell == toCell {
		return errs.New(errs.Cycle, "cell cannot depend on itself: "+fromCell)
	}

	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		hasPath, err := hasPathTx(ctx, tx, toCell, fromCell)
		if err != nil {
			return err
		}
		if hasPath {
			return errs.New(errs.Cycle, "adding "+fromCell+"->"+toCell+" would close a cycle")
		}

		payload := eventlog.DependencyPayload{FromCell: fromCell, ToCell: toCell, Relationship: relationship}
		ack, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeDependency, payload)
		if err != nil {
			return err
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return errs.Wrap(errs.Validation, err)
		}
		if err := projections.ApplyDependency(ctx, tx, eventlog.Event{
			ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeDependency, Payload: b,
		}, false); err != nil {
			return err
		}
		if relationship == "blocks" {
			return h.rebuildAndTrack(ctx, tx, projectKey)
		}
		return nil
	})
}

// RemoveDependency deletes the edge and, for "blocks" edges, rebuilds the
// blocked cache since removing a blocker may unblock its target.
func (h *Hive) RemoveDependency(ctx context.Context, projectKey, fromCell, toCell, relationship string) error {
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.DependencyPayload{FromCell: fromCell, ToCell: toCell, Relationship: relationship}
		ack, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeDependency, payload)
		if err != nil {
			return err
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return errs.Wrap(errs.Validation, err)
		}
		if err := projections.ApplyDependency(ctx, tx, eventlog.Event{
			ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeDependency, Payload: b,
		}, true); err != nil {
			return err
		}
		if relationship == "blocks" {
			return h.rebuildAndTrack(ctx, tx, projectKey)
		}
		return nil
	})
}

const maxPathDepth = 64

// hasPathTx mirrors projections.HasPath but walks against an open
// transaction, for the pre-insert cycle check that must see its own
// transaction's uncommitted state consistently.
func hasPathTx(ctx context.Context, tx storage.Tx, start, target string) (bool, error) {
	visited := map[string]bool{}
	var walk func(node string, depth int) (bool, error)
	walk = func(node string, depth int) (bool, error) {
		if node == target {
			return true, nil
		}
		if depth >= maxPathDepth || visited[node] {
			return false, nil
		}
		visited[node] = true

		rows, err := tx.QueryContext(ctx, `SELECT to_cell FROM dependencies WHERE from_cell = $1 AND relationship = 'blocks'`, node)
		if err != nil {
			return false, errs.Wrap(errs.Storage, err)
		}
		defer rows.Close()

		var next []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return false, errs.Wrap(errs.Storage, err)
			}
			next = append(next, n)
		}
		if err := rows.Err(); err != nil {
			return false, errs.Wrap(errs.Storage, err)
		}

		for _, n := range next {
			found, err := walk(n, depth+1)
			if err != nil || found {
				return found, err
			}
		}
		return false, nil
	}
	return walk(start, 0)
}
