package hive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/projections"
)

func TestLabels_AddAndRemoveRoundTrip(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	cellID, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "A"})
	require.NoError(t, err)

	require.NoError(t, h.AddLabel(ctx, "proj", cellID, "urgent"))
	require.NoError(t, h.AddLabel(ctx, "proj", cellID, "backend"))

	labels, err := projections.Labels(ctx, h.db, cellID)
	require.NoError(t, err)
	require.Equal(t, []string{"backend", "urgent"}, labels)

	require.NoError(t, h.RemoveLabel(ctx, "proj", cellID, "urgent"))
	labels, err = projections.Labels(ctx, h.db, cellID)
	require.NoError(t, err)
	require.Equal(t, []string{"backend"}, labels)
}

func TestComments_AddUpdateDelete(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	cellID, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "A"})
	require.NoError(t, err)

	commentID, err := h.AddComment(ctx, "proj", cellID, "alice", "first pass looks fine")
	require.NoError(t, err)
	require.NotEmpty(t, commentID)

	comments, err := projections.CommentsForCell(ctx, h.db, cellID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "first pass looks fine", comments[0].Body)
	require.Nil(t, comments[0].UpdatedAt)

	require.NoError(t, h.UpdateComment(ctx, "proj", commentID, "actually needs another look"))
	comments, err = projections.CommentsForCell(ctx, h.db, cellID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Equal(t, "actually needs another look", comments[0].Body)
	require.NotNil(t, comments[0].UpdatedAt)

	require.NoError(t, h.DeleteComment(ctx, "proj", commentID))
	comments, err = projections.CommentsForCell(ctx, h.db, cellID)
	require.NoError(t, err)
	require.Empty(t, comments)
}

func TestEpicChild_AddSetsParentRemoveClears(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	epic, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Epic", Type: "epic"})
	require.NoError(t, err)
	child, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Child"})
	require.NoError(t, err)

	require.NoError(t, h.AddEpicChild(ctx, "proj", epic, child))
	cell, err := projections.GetCell(ctx, h.db, child)
	require.NoError(t, err)
	require.NotNil(t, cell.ParentID)
	require.Equal(t, epic, *cell.ParentID)

	require.NoError(t, h.RemoveEpicChild(ctx, "proj", epic, child))
	cell, err = projections.GetCell(ctx, h.db, child)
	require.NoError(t, err)
	require.Nil(t, cell.ParentID)
}
