package projections

import (
	"context"
	"encoding/json"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/storage"
)

// ApplyEpicChild folds cell_epic_child_added/removed into the child cell's
// parent_id column — the epic/child relationship is just that column, not
// a separate junction table.
func ApplyEpicChild(ctx context.Context, tx storage.Tx, e eventlog.Event) error {
	var p eventlog.EpicChildPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	if p.Removed {
		_, err := tx.ExecContext(ctx,
			`UPDATE cells SET parent_id = NULL, updated_at = $1 WHERE id = $2 AND parent_id = $3`,
			e.Timestamp, p.ChildID, p.EpicID)
		return wrapStorage(err)
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE cells SET parent_id = $1, updated_at = $2 WHERE id = $3`,
		p.EpicID, e.Timestamp, p.ChildID)
	return wrapStorage(err)
}
