package projections

import (
	"context"

	"github.com/swarmhive/core/internal/storage"
)

// MarkDirty records that cellID's projection row changed since the last
// JSONL export. Idempotent — marking an already-dirty cell is a no-op.
func MarkDirty(ctx context.Context, tx storage.Tx, cellID string, at int64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dirty_cells (cell_id, marked_at) VALUES ($1, $2)`, cellID, at)
	return wrapStorage(err)
}

// DrainDirty returns every dirty cell id and clears the set, for a
// consumer about to export them.
func DrainDirty(ctx context.Context, db storage.Adapter) ([]string, error) {
	var ids []string
	err := db.Transaction(ctx, func(tx storage.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT cell_id FROM dirty_cells ORDER BY marked_at ASC`)
		if err != nil {
			return wrapStorage(err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return wrapStorage(err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return wrapStorage(err)
		}
		rows.Close()

		_, err = tx.ExecContext(ctx, `DELETE FROM dirty_cells`)
		return wrapStorage(err)
	})
	return ids, err
}
