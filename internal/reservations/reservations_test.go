package reservations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/migration"
	"github.com/swarmhive/core/internal/storage"
)

func newTestReservations(t *testing.T) *Reservations {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migration.New(db, nil).Migrate(context.Background()))
	_ = eventlog.New(db, nil)
	return New(db, nil, nil)
}

func TestReserve_ConflictingExclusiveReservationReportsHolder(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()

	first, err := r.Reserve(ctx, "proj", ReserveRequest{Agent: "A1", Paths: []string{"src/x.ts"}, Exclusive: true})
	require.NoError(t, err)
	require.Len(t, first.Granted, 1)
	require.Empty(t, first.Conflicts)

	second, err := r.Reserve(ctx, "proj", ReserveRequest{Agent: "A2", Paths: []string{"src/x.ts"}, Exclusive: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(second.Granted), 1)
	require.Len(t, second.Conflicts, 1)
	require.Equal(t, "src/x.ts", second.Conflicts[0].Path)
	require.Contains(t, second.Conflicts[0].Holders, "A1")
	require.Contains(t, second.Warning, "already reserved")
}

func TestReserve_NonOverlappingPatternsGrantCleanly(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()

	_, err := r.Reserve(ctx, "proj", ReserveRequest{Agent: "A1", Paths: []string{"src/a/**"}, Exclusive: true})
	require.NoError(t, err)

	res, err := r.Reserve(ctx, "proj", ReserveRequest{Agent: "A2", Paths: []string{"src/b/**"}, Exclusive: true})
	require.NoError(t, err)
	require.Empty(t, res.Conflicts)
}

func TestRelease_ReleasesExactResolvedSet(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()

	granted, err := r.Reserve(ctx, "proj", ReserveRequest{Agent: "A1", Paths: []string{"src/x.ts", "src/y.ts"}, Exclusive: true})
	require.NoError(t, err)
	require.Len(t, granted.Granted, 2)

	n, err := r.Release(ctx, "proj", ReleaseRequest{Agent: "A1", Paths: []string{"src/x.ts"}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Releasing again with no criteria clears the remainder.
	n, err = r.Release(ctx, "proj", ReleaseRequest{Agent: "A1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
