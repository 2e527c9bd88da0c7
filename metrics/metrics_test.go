package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionAcceptedIncrementsCounter(t *testing.T) {
	SessionAccepted("p0")
	SessionAccepted("p0")
	assert.Equal(t, float64(2), testutil.ToFloat64(sessionsAccepted.WithLabelValues("p0")))
}

func TestSessionClosedSplitsByOutcome(t *testing.T) {
	SessionClosed("p1", true)
	SessionClosed("p1", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionsClosed.WithLabelValues("p1", "clean")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionsClosed.WithLabelValues("p1", "error")))
}

func TestSetFlushQueueDepthDerivesBackpressure(t *testing.T) {
	SetFlushQueueDepth("p2", 10, 5)
	assert.Equal(t, float64(10), testutil.ToFloat64(flushQueueDepth.WithLabelValues("p2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(backpressured.WithLabelValues("p2")))

	SetFlushQueueDepth("p2", 1, 5)
	assert.Equal(t, float64(0), testutil.ToFloat64(backpressured.WithLabelValues("p2")))
}

func TestDecoderErrorIncrementsCounter(t *testing.T) {
	DecoderError("p3")
	assert.Equal(t, float64(1), testutil.ToFloat64(decoderErrors.WithLabelValues("p3")))
}
