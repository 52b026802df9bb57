// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames seen by the receive loops, by outcome
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_capture_frames_total",
			Help: "Frames read from interfaces by the capture hook",
		},
		[]string{"interface", "outcome"}, // delivered|skipped|no_buffer|malformed
	)

	// CaptureErrorsTotal counts port read errors other than poll timeouts
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_capture_errors_total",
			Help: "Port read errors",
		},
		[]string{"interface"},
	)

	// DispatchFramesTotal counts frames by the path the dispatch engine took
	DispatchFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_dispatch_frames_total",
			Help: "Frames handled by the dispatch engine, by path",
		},
		[]string{"path"}, // flood|unicast|echo|unknown_ingress|closed
	)

	// TransmitTotal counts transmissions per egress interface
	TransmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_transmit_total",
			Help: "Frames handed to an egress interface",
		},
		[]string{"interface"},
	)

	// TransmitErrorsTotal counts failed transmissions per egress interface
	TransmitErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_transmit_errors_total",
			Help: "Frames the egress interface failed to send",
		},
		[]string{"interface"},
	)

	// CloneFailuresTotal counts flood copies skipped for lack of buffers
	CloneFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "l2sw_clone_failures_total",
			Help: "Flood copies that could not be allocated",
		},
	)

	// FDBUpdatesTotal counts learning outcomes
	FDBUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_fdb_updates_total",
			Help: "Forwarding database updates, by result",
		},
		[]string{"result"}, // learned|refreshed|moved|rejected
	)

	// FDBRemovedTotal counts entries removed by sweeps
	FDBRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_fdb_removed_total",
			Help: "Forwarding database entries removed",
		},
		[]string{"reason"}, // expired|flushed
	)

	// FDBEntries tracks the current table size
	FDBEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2sw_fdb_entries",
			Help: "Current number of forwarding database entries",
		},
	)

	// SweepDurationSeconds measures how long the aging task holds the lock
	SweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "l2sw_fdb_sweep_duration_seconds",
			Help:    "Duration of forwarding database sweeps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// EventsDroppedTotal counts FDB events lost to full queues
	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_events_dropped_total",
			Help: "FDB events dropped because the partition queue was full",
		},
		[]string{"partition"},
	)

	// EventSinkErrorsTotal counts sink failures by sink name
	EventSinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2sw_event_sink_errors_total",
			Help: "FDB event sink errors",
		},
		[]string{"sink"},
	)

	// SwitchStatus tracks the switch lifecycle state
	SwitchStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2sw_switch_status",
			Help: "Switch state (0=stopped, 1=running, 2=shutting down)",
		},
	)
)

// Switch status values for the SwitchStatus gauge
const (
	SwitchStatusStopped      = 0
	SwitchStatusRunning      = 1
	SwitchStatusShuttingDown = 2
)
