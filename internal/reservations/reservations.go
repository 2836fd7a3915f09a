package reservations

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swarmhive/core/internal/errs"
	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/metrics"
	"github.com/swarmhive/core/internal/projections"
	"github.com/swarmhive/core/internal/storage"
)

// Reservations is the file-reservation surface: reserve, release.
type Reservations struct {
	db      storage.Adapter
	log     *zap.Logger
	metrics *metrics.Registry
}

func New(db storage.Adapter, log *zap.Logger, m *metrics.Registry) *Reservations {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reservations{db: db, log: log, metrics: m}
}

// ReserveRequest is the input to Reserve.
type ReserveRequest struct {
	Agent     string
	Paths     []string
	Reason    string
	Exclusive bool
	TTLSeconds int64
}

// Conflict reports a path whose reservation collided with other holders.
type Conflict struct {
	Path    string
	Holders []string
}

// ReserveResult carries the granted rows plus any conflicts detected. The
// grant policy is permissive: conflicting paths are still granted, with
// the conflict surfaced as a warning for the caller to act on.
type ReserveResult struct {
	Granted   []string
	Conflicts []Conflict
	Warning   string
}

// Reserve grants a reservation row per requested path regardless of
// conflicts, reporting any it finds. Default TTL is one hour. Exclusive
// is used as given: a request that leaves it unset is non-exclusive.
func (r *Reservations) Reserve(ctx context.Context, projectKey string, req ReserveRequest) (ReserveResult, error) {
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = 3600
	}
	if len(req.Paths) == 0 {
		return ReserveResult{}, errs.New(errs.Validation, "reserve requires at least one path")
	}

	var result ReserveResult
	now := time.Now().UnixMilli()
	expiresAt := now + req.TTLSeconds*1000

	err := r.db.Transaction(ctx, func(tx storage.Tx) error {
		live, err := projections.LiveReservationsTx(ctx, tx, projectKey, now)
		if err != nil {
			return err
		}

		for _, path := range req.Paths {
			var holders []string
			for _, l := range live {
				if l.Agent == req.Agent || !l.Exclusive {
					continue
				}
				if Intersects(l.PathPattern, path) {
					holders = append(holders, l.Agent)
				}
			}
			if len(holders) > 0 {
				result.Conflicts = append(result.Conflicts, Conflict{Path: path, Holders: holders})
				result.Warning = "already reserved"
				if r.metrics != nil {
					r.metrics.ReservationConflicts.Inc()
				}

				conflictPayload := eventlog.ReservationPayload{Agent: req.Agent, PathPattern: path, ConflictWith: holders}
				ack, err := eventlog.Append(ctx, tx, "reservation", projectKey, eventlog.TypeReservation, conflictPayload)
				if err != nil {
					return err
				}
				if err := projections.ApplyReservation(ctx, tx, eventlog.Event{
					ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeReservation,
					Payload: mustMarshal(conflictPayload),
				}); err != nil {
					return err
				}
			}

			reservationID := uuid.NewString()
			payload := eventlog.ReservationPayload{
				ReservationID: reservationID, Agent: req.Agent, PathPattern: path, Reason: req.Reason,
				Exclusive: req.Exclusive, ExpiresAt: expiresAt,
			}
			ack, err := eventlog.Append(ctx, tx, "reservation", projectKey, eventlog.TypeReservation, payload)
			if err != nil {
				return err
			}
			if err := projections.ApplyReservation(ctx, tx, eventlog.Event{
				ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeReservation,
				Payload: mustMarshal(payload),
			}); err != nil {
				return err
			}
			result.Granted = append(result.Granted, reservationID)
		}
		return nil
	})
	if err != nil {
		return ReserveResult{}, err
	}
	return result, nil
}

// ReleaseRequest is the input to Release. If both ReservationIDs and
// Paths are empty, every unreleased reservation held by Agent, expired or
// not, is released.
type ReleaseRequest struct {
	Agent          string
	ReservationIDs []string
	Paths          []string
}

// Release marks the matching live reservations released and appends a
// single file_released event naming exactly the rows it affected.
func (r *Reservations) Release(ctx context.Context, projectKey string, req ReleaseRequest) (int, error) {
	var released []string
	err := r.db.Transaction(ctx, func(tx storage.Tx) error {
		ids, err := projections.MatchLiveForRelease(ctx, tx, req.Agent, req.ReservationIDs, req.Paths)
		if err != nil {
			return err
		}
		released = ids
		if len(ids) == 0 {
			return nil
		}

		now := time.Now().UnixMilli()
		if err := projections.MarkReleased(ctx, tx, ids, now); err != nil {
			return err
		}

		payload := eventlog.ReservationPayload{Agent: req.Agent, ReleasedIDs: ids}
		ack, err := eventlog.Append(ctx, tx, "reservation", projectKey, eventlog.TypeReservation, payload)
		if err != nil {
			return err
		}
		return projections.ApplyReservation(ctx, tx, eventlog.Event{
			ProjectKey: projectKey, Timestamp: ack.Timestamp, Type: eventlog.TypeReservation,
			Payload: mustMarshal(payload),
		})
	})
	if err != nil {
		return 0, err
	}
	return len(released), nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
