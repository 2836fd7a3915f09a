package projections

import (
	"context"

	"github.com/swarmhive/core/internal/storage"
)

// Comment is a materialized cell_comments row.
type Comment struct {
	ID        string
	CellID    string
	Author    string
	Body      string
	CreatedAt int64
	UpdatedAt *int64
}

// AddComment inserts a new comment row for cell_comment_added.
func AddComment(ctx context.Context, tx storage.Tx, id, cellID, author, body string, at int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cell_comments (id, cell_id, author, body, created_at) VALUES ($1,$2,$3,$4,$5)`,
		id, cellID, author, body, at)
	return wrapStorage(err)
}

// UpdateComment rewrites the body of an existing comment for
// cell_comment_updated.
func UpdateComment(ctx context.Context, tx storage.Tx, id, body string, at int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE cell_comments SET body = $1, updated_at = $2 WHERE id = $3`, body, at, id)
	return wrapStorage(err)
}

// DeleteComment removes a comment row for cell_comment_deleted.
func DeleteComment(ctx context.Context, tx storage.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cell_comments WHERE id = $1`, id)
	return wrapStorage(err)
}

// CommentsForCell returns every comment on a cell, oldest first.
func CommentsForCell(ctx context.Context, db storage.Adapter, cellID string) ([]Comment, error) {
	rows, err := db.Query(ctx,
		`SELECT id, cell_id, author, body, created_at, updated_at FROM cell_comments WHERE cell_id = $1 ORDER BY created_at ASC`, cellID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.CellID, &c.Author, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrapStorage(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
