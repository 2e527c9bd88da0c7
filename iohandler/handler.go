// Package iohandler declares the user-facing callback surface described in
// spec.md §4.6, generalized from cloudflared's single-method
// h2mux.MuxedStreamHandler / MuxedStreamFunc pair to the seven lifecycle
// and message events a session can raise.
package iohandler

// IdleStatus identifies which direction of a session has gone idle.
type IdleStatus int

const (
	// ReaderIdle fires when no bytes have been read for the reader idle
	// threshold.
	ReaderIdle IdleStatus = iota
	// WriterIdle fires when no bytes have been written for the writer
	// idle threshold.
	WriterIdle
	// BothIdle fires when both directions have been idle.
	BothIdle
)

func (s IdleStatus) String() string {
	switch s {
	case ReaderIdle:
		return "reader"
	case WriterIdle:
		return "writer"
	case BothIdle:
		return "both"
	default:
		return "unknown"
	}
}

// Session is the minimal surface a Handler needs from a session; it is
// satisfied by *session.Session. Declared here, rather than imported from
// package session, to avoid a dependency cycle (session needs to hold a
// Handler, Handler needs to receive a Session).
type Session interface {
	ID() uint64
}

// Handler is the application callback surface. Every event receives the
// session it happened on. Ordering across the seven events for one
// session is fixed by spec.md §3: Created, then Opened, then any mix of
// Received/Sent/Idle, then Closed exactly once, last.
type Handler interface {
	SessionCreated(s Session)
	SessionOpened(s Session)
	SessionClosed(s Session)
	SessionIdle(s Session, status IdleStatus)
	MessageReceived(s Session, msg interface{})
	MessageSent(s Session, msg interface{})
	ExceptionCaught(s Session, cause error)
}

// Adapter implements Handler with no-op bodies, so a caller that only
// cares about a subset of events can embed Adapter and override the rest,
// the same "embed the pass-through, override a method" shape as
// cloudflared's MuxedStreamFunc gives for its single method.
type Adapter struct{}

func (Adapter) SessionCreated(Session)              {}
func (Adapter) SessionOpened(Session)               {}
func (Adapter) SessionClosed(Session)                {}
func (Adapter) SessionIdle(Session, IdleStatus)      {}
func (Adapter) MessageReceived(Session, interface{}) {}
func (Adapter) MessageSent(Session, interface{})     {}
func (Adapter) ExceptionCaught(Session, error)       {}

var _ Handler = Adapter{}
