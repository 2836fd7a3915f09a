package engine

import (
	"context"

	"github.com/swarmhive/core/internal/eventlog"
	"github.com/swarmhive/core/internal/replay"
)

// Replay reconstructs and paces epic timelines off the engine's event log.
type Replay struct {
	log *eventlog.Log
}

// Epic fetches every event referencing epicID, optionally restricted to
// one stream, narrows it by filter, and returns it oldest first with
// inter-event gaps annotated.
func (r *Replay) Epic(ctx context.Context, epicID, source string, filter replay.EventFilter) ([]replay.TimedEvent, error) {
	events, err := replay.FetchEpicEvents(ctx, r.log, epicID, source)
	if err != nil {
		return nil, err
	}
	return replay.FilterEvents(events, filter), nil
}

// Play streams events at the given speed, pacing delivery against their
// recorded timing; SpeedInstant delivers them as fast as the channel is
// drained.
func (r *Replay) Play(ctx context.Context, events []replay.TimedEvent, speed replay.Speed) <-chan replay.TimedEvent {
	return replay.ReplayWithTiming(ctx, events, speed)
}
