package hive

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

// AddLabel appends a cell_label_added event and attaches label to cellID.
func (h *Hive) AddLabel(ctx context.Context, projectKey, cellID, label string) error {
	if cellID == "" || label == "" {
		return errs.New(errs.Validation, "label requires a cell id and a label")
	}
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.LabelPayload{CellID: cellID, Label: label}
		if _, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeLabel, payload); err != nil {
			return err
		}
		return projections.AddLabel(ctx, tx, cellID, label)
	})
}

// RemoveLabel appends a cell_label_removed event and detaches label.
func (h *Hive) RemoveLabel(ctx context.Context, projectKey, cellID, label string) error {
	if cellID == "" || label == "" {
		return errs.New(errs.Validation, "label requires a cell id and a label")
	}
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.LabelPayload{CellID: cellID, Label: label, Removed: true}
		if _, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeLabel, payload); err != nil {
			return err
		}
		return projections.RemoveLabel(ctx, tx, cellID, label)
	})
}

// AddComment appends a cell_comment_added event, returning the generated
// comment id.
func (h *Hive) AddComment(ctx context.Context, projectKey, cellID, author, body string) (string, error) {
	if cellID == "" || body == "" {
		return "", errs.New(errs.Validation, "comment requires a cell id and a body")
	}
	commentID := uuid.NewString()
	err := h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CommentPayload{CommentID: commentID, CellID: cellID, Author: author, Body: body, Action: "added"}
		ack, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeComment, payload)
		if err != nil {
			return err
		}
		return projections.AddComment(ctx, tx, commentID, cellID, author, body, ack.Timestamp)
	})
	if err != nil {
		return "", err
	}
	return commentID, nil
}

// UpdateComment appends a cell_comment_updated event, rewriting body.
func (h *Hive) UpdateComment(ctx context.Context, projectKey, commentID, body string) error {
	if commentID == "" {
		return errs.New(errs.Validation, "comment update requires a comment id")
	}
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CommentPayload{CommentID: commentID, Body: body, Action: "updated"}
		ack, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeComment, payload)
		if err != nil {
			return err
		}
		return projections.UpdateComment(ctx, tx, commentID, body, ack.Timestamp)
	})
}

// DeleteComment appends a cell_comment_deleted event and removes the row.
func (h *Hive) DeleteComment(ctx context.Context, projectKey, commentID string) error {
	if commentID == "" {
		return errs.New(errs.Validation, "comment deletion requires a comment id")
	}
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.CommentPayload{CommentID: commentID, Action: "deleted"}
		if _, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeComment, payload); err != nil {
			return err
		}
		return projections.DeleteComment(ctx, tx, commentID)
	})
}

// AddEpicChild appends a cell_epic_child_added event, setting childID's
// parent_id to epicID.
func (h *Hive) AddEpicChild(ctx context.Context, projectKey, epicID, childID string) error {
	if epicID == "" || childID == "" {
		return errs.New(errs.Validation, "epic child link requires an epic id and a child id")
	}
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.EpicChildPayload{EpicID: epicID, ChildID: childID}
		return h.appendEpicChild(ctx, tx, projectKey, payload)
	})
}

// RemoveEpicChild appends a cell_epic_child_removed event, clearing
// childID's parent_id if it still points at epicID.
func (h *Hive) RemoveEpicChild(ctx context.Context, projectKey, epicID, childID string) error {
	if epicID == "" || childID == "" {
		return errs.New(errs.Validation, "epic child link requires an epic id and a child id")
	}
	return h.db.Transaction(ctx, func(tx storage.Tx) error {
		payload := eventlog.EpicChildPayload{EpicID: epicID, ChildID: childID, Removed: true}
		return h.appendEpicChild(ctx, tx, projectKey, payload)
	})
}

func (h *Hive) appendEpicChild(ctx context.Context, tx storage.Tx, projectKey string, payload eventlog.EpicChildPayload) error {
	ack, err := eventlog.Append(ctx, tx, "hive", projectKey, eventlog.TypeEpicChild, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.Validation, err)
	}
	return projections.ApplyEpicChild(ctx, tx, eventlog.Event{
		ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeEpicChild, Payload: b,
	})
}
