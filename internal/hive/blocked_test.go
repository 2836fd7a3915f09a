package hive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsBlockedCached_ReflectsRebuildAfterDependencyChange(t *testing.T) {
	h := newTestHive(t)
	ctx := context.Background()

	blocker, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Blocker"})
	require.NoError(t, err)
	blocked, err := h.CreateCell(ctx, CreateRequest{ProjectKey: "proj", Title: "Blocked"})
	require.NoError(t, err)

	before, err := h.IsBlockedCached(ctx, blocked)
	require.NoError(t, err)
	require.False(t, before)

	require.NoError(t, h.AddDependency(ctx, "proj", blocked, blocker, "blocks"))

	after, err := h.IsBlockedCached(ctx, blocked)
	require.NoError(t, err)
	require.True(t, after)

	require.NoError(t, h.RemoveDependency(ctx, "proj", blocked, blocker, "blocks"))

	cleared, err := h.IsBlockedCached(ctx, blocked)
	require.NoError(t, err)
	require.False(t, cleared)
}
