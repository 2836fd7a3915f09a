package projections

import (
	"context"
	"database/sql"
	"errors"

	"github.com/swarmhive/core/internal/storage"
)

// Cursor tracks a consumer's read position on a stream. Cursor rows are
// ephemeral: a consumer that loses its cursor simply starts over from
// position 0, so the table is never part of the replay-determinism law.
type Cursor struct {
	Stream     string
	Checkpoint string
	Position   int64
	UpdatedAt  int64
}

// Advance upserts a cursor's position.
func Advance(ctx context.Context, tx storage.Tx, stream, checkpoint string, position, at int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursors (stream, checkpoint, position, updated_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (stream, checkpoint) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
	`, stream, checkpoint, position, at)
	return wrapStorage(err)
}

// GetCursor returns a consumer's recorded position, or (0, false) if none.
func GetCursor(ctx context.Context, db storage.Adapter, stream, checkpoint string) (int64, bool, error) {
	var pos int64
	err := db.QueryRow(ctx, `SELECT position FROM cursors WHERE stream = $1 AND checkpoint = $2`, stream, checkpoint).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapStorage(err)
	}
	return pos, true, nil
}
