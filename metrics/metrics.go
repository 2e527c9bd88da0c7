// Package metrics exposes the counters and gauges a deployment scrapes
// to observe selector and session behavior, built with
// promauto/prometheus the way flow.metrics and connection/metrics.go
// register theirs: package-level vectors wrapped by small update
// methods, rather than a struct threaded through every constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mina"

var (
	sessionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "accepted_total",
		Help:      "Count of sessions accepted or connected, by processor label",
	}, []string{"processor"})

	sessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "closed_total",
		Help:      "Count of sessions closed, by processor label and whether the close was clean",
	}, []string{"processor", "outcome"})

	decoderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "codec",
		Name:      "decode_errors_total",
		Help:      "Count of malformed-input errors raised by a session's decoder state machine",
	}, []string{"processor"})

	managedSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "managed",
		Help:      "Current count of sessions tracked by a processor",
	}, []string{"processor"})

	flushQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "flush_queue_depth",
		Help:      "Pending write requests queued for a session awaiting flush",
	}, []string{"processor"})

	backpressured = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "backpressured",
		Help:      "1 if a session's flush queue depth is at or above the configured high-water mark, else 0",
	}, []string{"processor"})
)

// SessionAccepted records a newly accepted or connected session under
// processor (normally a selector.Processor's address or bind label).
func SessionAccepted(processor string) {
	sessionsAccepted.WithLabelValues(processor).Inc()
}

// SessionClosed records a session close. clean is false when the
// session closed because of an I/O error or decoder exception rather
// than an orderly Close call.
func SessionClosed(processor string, clean bool) {
	outcome := "clean"
	if !clean {
		outcome = "error"
	}
	sessionsClosed.WithLabelValues(processor, outcome).Inc()
}

// DecoderError records a decode failure (spec.md's exceptionCaught
// path for malformed input).
func DecoderError(processor string) {
	decoderErrors.WithLabelValues(processor).Inc()
}

// SetManagedSessions reports the current session count for processor.
func SetManagedSessions(processor string, n int) {
	managedSessions.WithLabelValues(processor).Set(float64(n))
}

// SetFlushQueueDepth reports a session's pending-write count, and
// derives the backpressured gauge from highWaterMark.
func SetFlushQueueDepth(processor string, depth int, highWaterMark int) {
	flushQueueDepth.WithLabelValues(processor).Set(float64(depth))
	if highWaterMark > 0 && depth >= highWaterMark {
		backpressured.WithLabelValues(processor).Set(1)
	} else {
		backpressured.WithLabelValues(processor).Set(0)
	}
}
