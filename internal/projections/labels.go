package projections

import (
	"context"

	"github.com/swarmhive/core/internal/storage"
)

// AddLabel attaches a label to a cell; duplicates are silently ignored.
func AddLabel(ctx context.Context, tx storage.Tx, cellID, label string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cell_labels (cell_id, label) VALUES ($1, $2)`, cellID, label)
	return wrapStorage(err)
}

// RemoveLabel detaches a label from a cell.
func RemoveLabel(ctx context.Context, tx storage.Tx, cellID, label string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cell_labels WHERE cell_id = $1 AND label = $2`, cellID, label)
	return wrapStorage(err)
}

// Labels returns every label attached to a cell.
func Labels(ctx context.Context, db storage.Adapter, cellID string) ([]string, error) {
	rows, err := db.Query(ctx, `SELECT label FROM cell_labels WHERE cell_id = $1 ORDER BY label`, cellID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, wrapStorage(err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
