package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueblueblue/mina/filter"
	"github.com/blueblueblue/mina/iohandler"
)

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	chain := filter.New(iohandler.Adapter{})
	return New(server, iohandler.Adapter{}, chain, cfg)
}

func TestNewSessionHasUniqueIncreasingID(t *testing.T) {
	a := newTestSession(t, Config{})
	b := newTestSession(t, Config{})
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestCorrelationIDIsUniqueAndStable(t *testing.T) {
	a := newTestSession(t, Config{})
	b := newTestSession(t, Config{})
	assert.NotEmpty(t, a.CorrelationID())
	assert.NotEqual(t, a.CorrelationID(), b.CorrelationID())
	assert.Equal(t, a.CorrelationID(), a.CorrelationID())
}

func TestAttributeRoundTrip(t *testing.T) {
	s := newTestSession(t, Config{})
	assert.False(t, s.ContainsAttribute("k"))

	s.SetAttribute("k", 42)
	v, ok := s.GetAttribute("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	s.RemoveAttribute("k")
	assert.False(t, s.ContainsAttribute("k"))
}

func TestWriteAfterCloseFailsFuture(t *testing.T) {
	s := newTestSession(t, Config{})
	s.Close(true)

	future := s.Write([]byte("hi"))
	assert.True(t, future.IsDone())
	assert.False(t, future.IsSuccess())
	assert.ErrorIs(t, future.Cause(), ErrSessionClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestSession(t, Config{})
	f1 := s.Close(false)
	f2 := s.Close(false)
	assert.Same(t, f1, f2)
}

type fakeProcessor struct {
	flushed []uint64
	closed  []uint64
}

func (p *fakeProcessor) Flush(s *Session)       { p.flushed = append(p.flushed, s.ID()) }
func (p *fakeProcessor) EnqueueClose(s *Session) { p.closed = append(p.closed, s.ID()) }

func TestWriteEnqueuesAndFlushesProcessor(t *testing.T) {
	s := newTestSession(t, Config{})
	proc := &fakeProcessor{}
	s.BindProcessor(proc)

	s.Write([]byte("hi"))

	assert.Equal(t, 1, s.WriteQueue().Len())
	assert.Equal(t, []uint64{s.ID()}, proc.flushed)
}

func TestCloseEnqueuesOnProcessor(t *testing.T) {
	s := newTestSession(t, Config{})
	proc := &fakeProcessor{}
	s.BindProcessor(proc)

	s.Close(true)
	assert.Equal(t, []uint64{s.ID()}, proc.closed)
	assert.True(t, s.ImmediateClose())
}

func TestMarkIdleIfDueFiresOncePerPeriod(t *testing.T) {
	s := newTestSession(t, Config{ReaderIdle: 10 * time.Millisecond})
	now := s.LastReadTime().Add(20 * time.Millisecond)

	assert.True(t, s.MarkIdleIfDue(iohandler.ReaderIdle, now))
	assert.False(t, s.MarkIdleIfDue(iohandler.ReaderIdle, now.Add(time.Millisecond)))
	assert.Equal(t, int64(1), s.IdleCount(iohandler.ReaderIdle))

	s.MarkRead()
	assert.True(t, s.MarkIdleIfDue(iohandler.ReaderIdle, s.LastReadTime().Add(20*time.Millisecond)))
	assert.Equal(t, int64(2), s.IdleCount(iohandler.ReaderIdle))
}

func TestMarkIdleIfDueDisabledWhenThresholdZero(t *testing.T) {
	s := newTestSession(t, Config{})
	assert.False(t, s.MarkIdleIfDue(iohandler.ReaderIdle, time.Now().Add(time.Hour)))
}

func TestMarkIdleIfDueBothRequiresBothDirectionsIdle(t *testing.T) {
	s := newTestSession(t, Config{BothIdle: 10 * time.Millisecond})

	// Writer was active recently; reader has been quiet far longer. Both
	// directions have not been simultaneously idle for the threshold, so
	// BothIdle must not fire yet.
	s.MarkWrite()
	s.lastReadNano.Store(s.LastWriteTime().Add(-time.Second).UnixNano())
	assert.False(t, s.MarkIdleIfDue(iohandler.BothIdle, s.LastWriteTime().Add(5*time.Millisecond)))

	// Once both directions are stale past the threshold, it fires.
	assert.True(t, s.MarkIdleIfDue(iohandler.BothIdle, s.LastWriteTime().Add(20*time.Millisecond)))
}
