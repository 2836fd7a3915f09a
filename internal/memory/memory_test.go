package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/inference"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/smartop"
	"github.com/swarmhive/core/internal/storage"
)

func newTestMemories(t *testing.T, client inference.Client) *Memories {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))

	reg := inference.NewRegistry()
	if client != nil {
		reg.Register("mock", client)
	}
	return New(db, nil, nil, reg)
}

func TestStore_RoundTripsThroughGet(t *testing.T) {
	m := newTestMemories(t, &inference.Mock{})
	ctx := context.Background()

	stored, err := m.Store(ctx, "the deploy runbook lives in ops/runbook.md", StoreOptions{})
	require.NoError(t, err)

	got, embedding, err := m.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, stored.Content, got.Content)
	require.Len(t, embedding, embeddingDim)
}

func TestStore_WithoutInferenceClientStoresFTSOnlyRow(t *testing.T) {
	m := newTestMemories(t, nil)
	ctx := context.Background()

	stored, err := m.Store(ctx, "no embedding backend configured", StoreOptions{})
	require.NoError(t, err)

	_, embedding, err := m.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.Nil(t, embedding)
}

func TestSearch_FTSFallbackFindsTextualMatch(t *testing.T) {
	m := newTestMemories(t, nil)
	ctx := context.Background()

	_, err := m.Store(ctx, "rotate the staging database credentials monthly", StoreOptions{})
	require.NoError(t, err)
	_, err = m.Store(ctx, "the office coffee machine needs descaling", StoreOptions{})
	require.NoError(t, err)

	results, err := m.Search(ctx, "database credentials", SearchOptions{Mode: ModeFTS})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Memory.Content, "database credentials")
}

func TestDecayMultiplier_HigherConfidenceDecaysSlower(t *testing.T) {
	lowConf := decayMultiplier(30, 0.1)
	highConf := decayMultiplier(30, 0.9)
	require.Greater(t, highConf, lowConf)
	require.InDelta(t, 1.0, decayMultiplier(0, 0.8), 1e-9)
}

func TestSupersede_ChainWalksToNewestVersion(t *testing.T) {
	m := newTestMemories(t, &inference.Mock{})
	ctx := context.Background()

	v1, err := m.Store(ctx, "v1 of the policy", StoreOptions{})
	require.NoError(t, err)
	v2, err := m.Store(ctx, "v2 of the policy", StoreOptions{})
	require.NoError(t, err)
	v3, err := m.Store(ctx, "v3 of the policy", StoreOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Supersede(ctx, v1.ID, v2.ID))
	require.NoError(t, m.Supersede(ctx, v2.ID, v3.ID))

	chain, err := m.GetSupersessionChain(ctx, v1.ID)
	require.NoError(t, err)
	require.Equal(t, []string{v1.ID, v2.ID, v3.ID}, chain)

	old, _, err := m.Get(ctx, v1.ID)
	require.NoError(t, err)
	require.Equal(t, v2.ID, old.SupersededBy)
	require.NotNil(t, old.ValidUntil)
}

func TestFindValidAt_ExcludesMemoriesOutsideWindow(t *testing.T) {
	m := newTestMemories(t, &inference.Mock{})
	ctx := context.Background()

	v1, err := m.Store(ctx, "temporary policy about expense limits", StoreOptions{})
	require.NoError(t, err)
	v2, err := m.Store(ctx, "updated policy about expense limits", StoreOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Supersede(ctx, v1.ID, v2.ID))

	old, _, err := m.Get(ctx, v1.ID)
	require.NoError(t, err)

	results, err := m.FindValidAt(ctx, "expense limits", *old.ValidUntil+1000, SearchOptions{Mode: ModeFTS})
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, v1.ID, r.Memory.ID)
	}
}

func TestUpsert_DegradesToAddWhenNoInferenceClient(t *testing.T) {
	m := newTestMemories(t, nil)
	ctx := context.Background()

	row, decision, err := m.Upsert(ctx, "a brand new fact", UpsertOptions{UseSmartOps: true})
	require.NoError(t, err)
	require.Equal(t, smartop.OpAdd, decision.Op)
	require.Equal(t, "a brand new fact", row.Content)
}

func TestUpsert_UpdateOverwritesTargetContentAndEmbedding(t *testing.T) {
	mock := &inference.Mock{}
	m := newTestMemories(t, mock)
	ctx := context.Background()

	first, err := m.Store(ctx, "the api key rotates every 90 days", StoreOptions{})
	require.NoError(t, err)

	mock.DecideResponse = `{"decision":"UPDATE","target":"` + first.ID + `","reason":"refines prior note"}`
	updated, decision, err := m.Upsert(ctx, "the api key rotates every 30 days now", UpsertOptions{UseSmartOps: true})
	require.NoError(t, err)
	require.Equal(t, smartop.OpUpdate, decision.Op)
	require.Equal(t, first.ID, updated.ID)
	require.Equal(t, "the api key rotates every 30 days now", updated.Content)
}

func TestUpsert_NoopLeavesStoreUntouched(t *testing.T) {
	mock := &inference.Mock{}
	m := newTestMemories(t, mock)
	ctx := context.Background()

	first, err := m.Store(ctx, "the build takes about four minutes", StoreOptions{})
	require.NoError(t, err)

	mock.DecideResponse = `{"decision":"NOOP","target":"` + first.ID + `","reason":"near duplicate"}`
	_, decision, err := m.Upsert(ctx, "the build takes about four minutes", UpsertOptions{UseSmartOps: true})
	require.NoError(t, err)
	require.Equal(t, smartop.OpNoop, decision.Op)

	still, _, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "the build takes about four minutes", still.Content)
}

func TestExportImport_RoundTripsEmbeddingAndFields(t *testing.T) {
	src := newTestMemories(t, &inference.Mock{})
	ctx := context.Background()

	stored, err := src.Store(ctx, "a memory worth exporting", StoreOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	dst := newTestMemories(t, nil)
	n, err = dst.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, embedding, err := dst.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, stored.Content, got.Content)
	require.Len(t, embedding, embeddingDim)
}

func TestImport_SkipsRowsWhoseIDAlreadyExists(t *testing.T) {
	src := newTestMemories(t, &inference.Mock{})
	ctx := context.Background()

	stored, err := src.Store(ctx, "original content", StoreOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = src.Export(ctx, &buf)
	require.NoError(t, err)

	edited, err := src.overwrite(ctx, stored.ID, "edited after export")
	require.NoError(t, err)
	require.Equal(t, "edited after export", edited.Content)

	n, err := src.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	still, _, err := src.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, "edited after export", still.Content)
}

func TestImport_InvalidLineDoesNotAbortTheBatch(t *testing.T) {
	src := newTestMemories(t, &inference.Mock{})
	ctx := context.Background()

	_, err := src.Store(ctx, "first memory", StoreOptions{})
	require.NoError(t, err)
	_, err = src.Store(ctx, "second memory", StoreOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = src.Export(ctx, &buf)
	require.NoError(t, err)

	lines := append([]byte("not valid json\n"), buf.Bytes()...)

	dst := newTestMemories(t, nil)
	n, err := dst.Import(ctx, bytes.NewReader(lines))
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
