// Package metrics exposes the in-process counters and gauges the core
// maintains for its own operators — no HTTP /metrics endpoint lives here
// (that belongs to whatever host process embeds the core), just the
// prometheus.Registry a host can mount wherever it likes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the substrate's metrics. One Registry is constructed
// per Engine and handed to each subsystem. EventsAppended and InboxDepth
// are registered but no subsystem updates them, so they stay at zero.
type Registry struct {
	Reg *prometheus.Registry

	EventsAppended   *prometheus.CounterVec
	LockContention   prometheus.Counter
	LockAcquired     prometheus.Counter
	InboxDepth       prometheus.Gauge
	BlockedCells     prometheus.Gauge
	ReservationConflicts prometheus.Counter
	MemoryUpserts    *prometheus.CounterVec
	InferenceErrors  prometheus.Counter
}

// New builds a Registry with every metric registered so callers never see
// a nil vector.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Reg: reg,
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmhive",
			Name:      "events_appended_total",
			Help:      "Events appended to the log, by stream.",
		}, []string{"stream"}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmhive",
			Name:      "lock_contention_total",
			Help:      "Durable lock acquire attempts that hit contention.",
		}),
		LockAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmhive",
			Name:      "lock_acquired_total",
			Help:      "Durable lock acquisitions that succeeded.",
		}),
		InboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmhive",
			Name:      "mail_inbox_depth",
			Help:      "Unread messages across all agents as of the last inbox read.",
		}),
		BlockedCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmhive",
			Name:      "hive_blocked_cells",
			Help:      "Cells currently present in the blocked cache.",
		}),
		ReservationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmhive",
			Name:      "reservation_conflicts_total",
			Help:      "file_conflict events emitted by reserve().",
		}),
		MemoryUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmhive",
			Name:      "memory_upserts_total",
			Help:      "Smart-op upsert outcomes, by decision (add/update/delete/noop).",
		}, []string{"decision"}),
		InferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmhive",
			Name:      "inference_errors_total",
			Help:      "Inference client failures that triggered degradation.",
		}),
	}

	reg.MustRegister(
		r.EventsAppended, r.LockContention, r.LockAcquired, r.InboxDepth,
		r.BlockedCells, r.ReservationConflicts, r.MemoryUpserts, r.InferenceErrors,
	)
	return r
}
