// Package replay reconstructs the timeline of one epic for playback: it
// gathers the epic's events, lets a caller narrow them by type/agent/time
// window, and paces delivery against the original inter-event timing so a
// viewer can watch a decomposition unfold the way it actually happened.
package replay

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/swarmhive/core/internal/eventlog"
)

// schedulerSlack compensates for goroutine-scheduling and timer-firing
// overhead: without it, cumulative waits drift later than the recorded
// deltas because every timer fires a little after its deadline.
const schedulerSlack = 3 * time.Millisecond

// Speed controls ReplayWithTiming's pacing.
type Speed string

const (
	Speed1x      Speed = "1x"
	Speed2x      Speed = "2x"
	SpeedInstant Speed = "instant"
)

// TimedEvent is one log event annotated with its gap from the predecessor.
type TimedEvent struct {
	eventlog.Event
	DeltaMS int64
}

// EventFilter narrows a timeline by AND-of-criteria; a zero value matches
// everything.
type EventFilter struct {
	Types []eventlog.Type
	Agent string
	From  int64
	To    int64
}

// FetchEpicEvents reads every event naming epicID — as a cell_id, an
// epic_id, a parent_id, or either side of a dependency — optionally
// restricted to one stream, sorts by timestamp, and annotates each with
// its gap from the previous event.
func FetchEpicEvents(ctx context.Context, log *eventlog.Log, epicID, source string) ([]TimedEvent, error) {
	events, err := log.Read(ctx, eventlog.Filter{Stream: source})
	if err != nil {
		return nil, err
	}

	var relevant []eventlog.Event
	for _, e := range events {
		if referencesEpic(e, epicID) {
			relevant = append(relevant, e)
		}
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Timestamp < relevant[j].Timestamp
	})

	out := make([]TimedEvent, len(relevant))
	var prev int64
	for i, e := range relevant {
		delta := int64(0)
		if i > 0 {
			delta = e.Timestamp - prev
		}
		out[i] = TimedEvent{Event: e, DeltaMS: delta}
		prev = e.Timestamp
	}
	return out, nil
}

// epicIDFields names the payload keys, in relevance order, that can
// reference an epic or its children across the event families.
var epicIDFields = []string{"cell_id", "epic_id", "parent_id", "from_cell", "to_cell"}

func referencesEpic(e eventlog.Event, epicID string) bool {
	var fields map[string]any
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return false
	}
	for _, key := range epicIDFields {
		if v, ok := fields[key].(string); ok && v == epicID {
			return true
		}
	}
	if children, ok := fields["children"].([]any); ok {
		for _, c := range children {
			if s, ok := c.(string); ok && s == epicID {
				return true
			}
		}
	}
	return false
}

// FilterEvents applies an AND-of-criteria narrowing: type membership,
// actor, and an inclusive [From, To] timestamp window. Zero fields in
// filter impose no restriction.
func FilterEvents(events []TimedEvent, filter EventFilter) []TimedEvent {
	typeSet := make(map[eventlog.Type]bool, len(filter.Types))
	for _, t := range filter.Types {
		typeSet[t] = true
	}

	var out []TimedEvent
	for _, e := range events {
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		if filter.Agent != "" && extractAgent(e.Payload) != filter.Agent {
			continue
		}
		if filter.From > 0 && e.Timestamp < filter.From {
			continue
		}
		if filter.To > 0 && e.Timestamp > filter.To {
			continue
		}
		out = append(out, e)
	}
	return out
}

// actorFields names the payload keys, in relevance order, that carry the
// acting agent's name across the event families that record one.
var actorFields = []string{"agent", "from_agent", "assignee"}

func extractAgent(payload json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	for _, key := range actorFields {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ReplayWithTiming is a lazy, restartable producer: each call starts a
// fresh goroutine pacing delivery of events against the cumulative
// delta_ms, scaled by speed. instant suppresses all waits. The returned
// channel closes after the last event or when ctx is cancelled.
func ReplayWithTiming(ctx context.Context, events []TimedEvent, speed Speed) <-chan TimedEvent {
	out := make(chan TimedEvent)
	go func() {
		defer close(out)
		for _, e := range events {
			if speed != SpeedInstant {
				if wait := scaledDelay(e.DeltaMS, speed); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
						return
					}
				}
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func scaledDelay(deltaMS int64, speed Speed) time.Duration {
	factor := 1.0
	if speed == Speed2x {
		factor = 0.5
	}
	d := time.Duration(float64(deltaMS)*factor)*time.Millisecond - schedulerSlack
	if d < 0 {
		return 0
	}
	return d
}
