package projections

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/storage"
)

// Reservation is the materialized reservations row.
type Reservation struct {
	ID          string
	ProjectKey  string
	Agent       string
	PathPattern string
	Reason      string
	Exclusive   bool
	CreatedAt   int64
	ExpiresAt   int64
	ReleasedAt  *int64
}

// ApplyReservation folds file_reserved/file_released events. file_conflict
// events are informational and carry no projection write of their own —
// the conflicting reservation rows already exist from their own
// file_reserved events.
func ApplyReservation(ctx context.Context, tx storage.Tx, e eventlog.Event) error {
	var p eventlog.ReservationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return errs.Wrap(errs.Validation, err)
	}

	if len(p.ReleasedIDs) > 0 {
		_, err := tx.ExecContext(ctx, `UPDATE reservations SET released_at = $1 WHERE id = ANY($2)`, e.Timestamp, p.ReleasedIDs)
		return wrapStorage(err)
	}
	if p.PathPattern != "" && len(p.ConflictWith) == 0 {
		excl := 0
		if p.Exclusive {
			excl = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reservations (id, project_key, agent, path_pattern, reason, exclusive, created_at, expires_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			p.ReservationID, e.ProjectKey, p.Agent, p.PathPattern, p.Reason, excl, e.Timestamp, p.ExpiresAt)
		return wrapStorage(err)
	}
	// file_conflict: informational only, no projection write of its own.
	return nil
}

// LiveReservations returns reservations for projectKey that are not
// released and have not expired as of now (unix millis).
func LiveReservations(ctx context.Context, db storage.Adapter, projectKey string, now int64) ([]Reservation, error) {
	rows, err := db.Query(ctx,
		`SELECT id, project_key, agent, path_pattern, reason, exclusive, created_at, expires_at, released_at
		 FROM reservations WHERE project_key = $1 AND released_at IS NULL AND expires_at > $2`,
		projectKey, now)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		var excl int
		if err := rows.Scan(&r.ID, &r.ProjectKey, &r.Agent, &r.PathPattern, &r.Reason, &excl, &r.CreatedAt, &r.ExpiresAt, &r.ReleasedAt); err != nil {
			return nil, wrapStorage(err)
		}
		r.Exclusive = excl != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// LiveReservationsTx is LiveReservations run against an open transaction,
// for callers that need a consistent read of live reservations before
// writing new ones in the same transaction.
func LiveReservationsTx(ctx context.Context, tx storage.Tx, projectKey string, now int64) ([]Reservation, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, project_key, agent, path_pattern, reason, exclusive, created_at, expires_at, released_at
		 FROM reservations WHERE project_key = $1 AND released_at IS NULL AND expires_at > $2`,
		projectKey, now)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		var excl int
		if err := rows.Scan(&r.ID, &r.ProjectKey, &r.Agent, &r.PathPattern, &r.Reason, &excl, &r.CreatedAt, &r.ExpiresAt, &r.ReleasedAt); err != nil {
			return nil, wrapStorage(err)
		}
		r.Exclusive = excl != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// MatchLiveForRelease returns the ids of agent's unreleased reservations
// (expiry is not checked) that match reservationIDs and paths, where an
// empty list imposes no restriction (so both empty selects all of them)
// — the set a release() call is about to release. Callers
// append a file_released event naming exactly this set before calling
// MarkReleased, so replay reconstructs the same outcome regardless of
// what "now" looks like when it runs.
func MatchLiveForRelease(ctx context.Context, tx storage.Tx, agent string, reservationIDs, paths []string) ([]string, error) {
	query := `SELECT id FROM reservations WHERE agent = $1 AND released_at IS NULL`
	params := []any{agent}
	n := 1
	if len(reservationIDs) > 0 {
		n++
		query += ` AND id = ANY($` + strconv.Itoa(n) + `)`
		params = append(params, reservationIDs)
	}
	if len(paths) > 0 {
		n++
		query += ` AND path_pattern = ANY($` + strconv.Itoa(n) + `)`
		params = append(params, paths)
	}
	rows, err := tx.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, wrapStorage(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkReleased stamps released_at on exactly the given ids.
func MarkReleased(ctx context.Context, tx storage.Tx, ids []string, at int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `UPDATE reservations SET released_at = $1 WHERE id = ANY($2)`, at, ids)
	return wrapStorage(err)
}
