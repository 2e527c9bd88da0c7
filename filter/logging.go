package filter

import (
	"github.com/rs/zerolog"

	"github.com/blueblueblue/mina/iohandler"
)

// LoggingFilter logs lifecycle and exception events at Debug/Warn, the
// same level discipline cloudflared's h2mux.MuxReader/MuxWriter use for
// their own event loops. It embeds Adapter so every event not explicitly
// overridden passes through unchanged.
type LoggingFilter struct {
	Adapter
	Log *zerolog.Logger
}

// correlated is satisfied by session.Session; kept as an optional
// interface (rather than widened onto filter.Session) so test fakes that
// only implement the core contract still compile.
type correlated interface {
	CorrelationID() string
}

func withCorrelation(e *zerolog.Event, s Session) *zerolog.Event {
	e = e.Uint64("session", s.ID())
	if c, ok := s.(correlated); ok {
		e = e.Str("correlation_id", c.CorrelationID())
	}
	return e
}

func (f *LoggingFilter) SessionOpened(next NextFilter, s Session) {
	withCorrelation(f.Log.Debug(), s).Msg("session opened")
	next.SessionOpened(s)
}

func (f *LoggingFilter) SessionClosed(next NextFilter, s Session) {
	withCorrelation(f.Log.Debug(), s).Msg("session closed")
	next.SessionClosed(s)
}

func (f *LoggingFilter) SessionIdle(next NextFilter, s Session, status iohandler.IdleStatus) {
	withCorrelation(f.Log.Debug(), s).Stringer("kind", status).Msg("session idle")
	next.SessionIdle(s, status)
}

func (f *LoggingFilter) ExceptionCaught(next NextFilter, s Session, cause error) {
	withCorrelation(f.Log.Warn(), s).Err(cause).Msg("exception caught")
	next.ExceptionCaught(s, cause)
}

var _ Filter = (*LoggingFilter)(nil)
