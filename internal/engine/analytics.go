package engine

import (
	"context"
	"database/sql"

	"github.com/swarmhive/core/internal/analytics"
	"github.com/swarmhive/core/internal/storage"
)

// Analytics runs ad-hoc read queries built with Query() against the
// engine's own storage handle.
type Analytics struct {
	db storage.Adapter
}

// Query starts a fresh fluent query chain; the builder carries no state
// from one call to the next.
func (a *Analytics) Query() *analytics.Builder {
	return analytics.New()
}

// Run compiles q and executes it as a read-only query.
func (a *Analytics) Run(ctx context.Context, q *analytics.Builder) (*sql.Rows, error) {
	built, err := q.Build()
	if err != nil {
		return nil, err
	}
	return a.db.Query(ctx, built.SQL, built.Parameters...)
}
