// Package filter implements the bidirectional FilterChain described in
// spec.md §4.4 and the Filter SPI of §6: inbound events flow
// bytes/messages toward the IoHandler, outbound writes flow
// messages/bytes toward the socket, and every filter is given a
// NextFilter continuation so it can choose to forward, transform, or
// swallow an event.
//
// Grounded on cloudflared's MuxedStreamHandler composition idiom
// (connection package wraps one handler around another to add
// cross-cutting behavior) generalized from a single ServeStream method to
// the full inbound/outbound event set spec.md requires.
package filter

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blueblueblue/mina/iohandler"
	"github.com/blueblueblue/mina/wqueue"
)

// Session is the subset of *session.Session a Filter needs. It embeds
// iohandler.Session so any filter.Session is automatically usable
// wherever an iohandler.Session is expected.
type Session interface {
	iohandler.Session
	GetAttribute(key string) (interface{}, bool)
	SetAttribute(key string, value interface{})
}

// NextFilter is the continuation a Filter invokes to let an event proceed
// further along the chain.
type NextFilter interface {
	SessionCreated(s Session)
	SessionOpened(s Session)
	SessionClosed(s Session)
	SessionIdle(s Session, status iohandler.IdleStatus)
	MessageReceived(s Session, msg interface{})
	MessageSent(s Session, msg interface{})
	ExceptionCaught(s Session, cause error)
	FilterWrite(s Session, msg interface{}) (*wqueue.Request, error)
	FilterClose(s Session) error
}

// Filter is one interceptor in the chain. Every method receives a
// NextFilter; Adapter's embeddable default simply forwards to it
// unchanged, the required pass-through behavior from spec.md §6.
type Filter interface {
	SessionCreated(next NextFilter, s Session)
	SessionOpened(next NextFilter, s Session)
	SessionClosed(next NextFilter, s Session)
	SessionIdle(next NextFilter, s Session, status iohandler.IdleStatus)
	MessageReceived(next NextFilter, s Session, msg interface{})
	MessageSent(next NextFilter, s Session, msg interface{})
	ExceptionCaught(next NextFilter, s Session, cause error)
	FilterWrite(next NextFilter, s Session, msg interface{}) (*wqueue.Request, error)
	FilterClose(next NextFilter, s Session) error
}

// Adapter implements Filter as a pure pass-through; embed it and override
// only the methods a concrete filter cares about.
type Adapter struct{}

func (Adapter) SessionCreated(next NextFilter, s Session) { next.SessionCreated(s) }
func (Adapter) SessionOpened(next NextFilter, s Session)  { next.SessionOpened(s) }
func (Adapter) SessionClosed(next NextFilter, s Session)  { next.SessionClosed(s) }
func (Adapter) SessionIdle(next NextFilter, s Session, status iohandler.IdleStatus) {
	next.SessionIdle(s, status)
}
func (Adapter) MessageReceived(next NextFilter, s Session, msg interface{}) {
	next.MessageReceived(s, msg)
}
func (Adapter) MessageSent(next NextFilter, s Session, msg interface{}) {
	next.MessageSent(s, msg)
}
func (Adapter) ExceptionCaught(next NextFilter, s Session, cause error) {
	next.ExceptionCaught(s, cause)
}
func (Adapter) FilterWrite(next NextFilter, s Session, msg interface{}) (*wqueue.Request, error) {
	return next.FilterWrite(s, msg)
}
func (Adapter) FilterClose(next NextFilter, s Session) error { return next.FilterClose(s) }

var _ Filter = Adapter{}

// terminalHandler is the inbound chain's tail: it forwards events to the
// application Handler.
type terminalHandler struct {
	handler iohandler.Handler
}

func (t terminalHandler) SessionCreated(s Session) { t.handler.SessionCreated(s) }
func (t terminalHandler) SessionOpened(s Session)  { t.handler.SessionOpened(s) }
func (t terminalHandler) SessionClosed(s Session)  { t.handler.SessionClosed(s) }
func (t terminalHandler) SessionIdle(s Session, status iohandler.IdleStatus) {
	t.handler.SessionIdle(s, status)
}
func (t terminalHandler) MessageReceived(s Session, msg interface{}) {
	t.handler.MessageReceived(s, msg)
}
func (t terminalHandler) MessageSent(s Session, msg interface{}) {
	t.handler.MessageSent(s, msg)
}
func (t terminalHandler) ExceptionCaught(s Session, cause error) {
	t.handler.ExceptionCaught(s, cause)
}

// FilterWrite/FilterClose are never reached through terminalHandler: the
// outbound direction's tail is terminalWriter, below. They exist only so
// terminalHandler satisfies NextFilter.
func (t terminalHandler) FilterWrite(s Session, msg interface{}) (*wqueue.Request, error) {
	return defaultEncode(s, msg)
}
func (t terminalHandler) FilterClose(s Session) error { return nil }

// terminalWriter is the outbound chain's tail: by default it expects msg
// to already be wire-ready (a *buffer.Buffer or []byte) and wraps it in a
// wqueue.Request. A codec filter earlier in the chain is expected to have
// done the actual encoding.
type terminalWriter struct{}

func (terminalWriter) SessionCreated(Session)                        {}
func (terminalWriter) SessionOpened(Session)                         {}
func (terminalWriter) SessionClosed(Session)                         {}
func (terminalWriter) SessionIdle(Session, iohandler.IdleStatus)      {}
func (terminalWriter) MessageReceived(Session, interface{})          {}
func (terminalWriter) MessageSent(Session, interface{})              {}
func (terminalWriter) ExceptionCaught(Session, error)                {}
func (terminalWriter) FilterWrite(s Session, msg interface{}) (*wqueue.Request, error) {
	return defaultEncode(s, msg)
}
func (terminalWriter) FilterClose(Session) error { return nil }

// Chain is an ordered, bidirectional pipeline of Filters between raw bytes
// and handler messages, per spec.md §4.4.
type Chain struct {
	filters []Filter
	handler iohandler.Handler

	// Log receives a warning when a panic inside exceptionCaught itself is
	// swallowed (spec.md §7: "an exception thrown inside exceptionCaught
	// itself is logged and swallowed to prevent loops"). Nil disables the
	// log line; the swallow still happens.
	Log *zerolog.Logger
}

// New builds a Chain. Filters run inbound in the given order (filters[0]
// sees events first) and outbound in reverse order (filters[0] sees
// writes last, closest to the socket).
func New(handler iohandler.Handler, filters ...Filter) *Chain {
	return &Chain{filters: filters, handler: handler}
}

// inboundCursor walks filters forward, terminating at the handler.
type inboundCursor struct {
	c   *Chain
	idx int
}

func (cur *inboundCursor) next() NextFilter {
	if cur.idx >= len(cur.c.filters) {
		return terminalHandler{handler: cur.c.handler}
	}
	f := cur.c.filters[cur.idx]
	return &dispatchingNext{filter: f, cursor: &inboundCursor{c: cur.c, idx: cur.idx + 1}}
}

// dispatchingNext adapts a single Filter plus "what comes after it" into
// a NextFilter that, when invoked, calls the filter with the continuation
// for whichever comes next.
type dispatchingNext struct {
	filter Filter
	cursor interface{ next() NextFilter }
}

func (d *dispatchingNext) SessionCreated(s Session) { d.filter.SessionCreated(d.cursor.next(), s) }
func (d *dispatchingNext) SessionOpened(s Session)  { d.filter.SessionOpened(d.cursor.next(), s) }
func (d *dispatchingNext) SessionClosed(s Session)  { d.filter.SessionClosed(d.cursor.next(), s) }
func (d *dispatchingNext) SessionIdle(s Session, status iohandler.IdleStatus) {
	d.filter.SessionIdle(d.cursor.next(), s, status)
}
func (d *dispatchingNext) MessageReceived(s Session, msg interface{}) {
	d.filter.MessageReceived(d.cursor.next(), s, msg)
}
func (d *dispatchingNext) MessageSent(s Session, msg interface{}) {
	d.filter.MessageSent(d.cursor.next(), s, msg)
}
func (d *dispatchingNext) ExceptionCaught(s Session, cause error) {
	d.filter.ExceptionCaught(d.cursor.next(), s, cause)
}
func (d *dispatchingNext) FilterWrite(s Session, msg interface{}) (*wqueue.Request, error) {
	return d.filter.FilterWrite(d.cursor.next(), s, msg)
}
func (d *dispatchingNext) FilterClose(s Session) error {
	return d.filter.FilterClose(d.cursor.next(), s)
}

// outboundCursor walks filters in reverse, terminating at terminalWriter.
type outboundCursor struct {
	c   *Chain
	idx int // next filter index to visit, counting down from len-1
}

func (cur *outboundCursor) next() NextFilter {
	if cur.idx < 0 {
		return terminalWriter{}
	}
	f := cur.c.filters[cur.idx]
	return &dispatchingNext{filter: f, cursor: &outboundCursor{c: cur.c, idx: cur.idx - 1}}
}

func (c *Chain) inboundHead() NextFilter {
	return (&inboundCursor{c: c, idx: 0}).next()
}

func (c *Chain) outboundHead() NextFilter {
	return (&outboundCursor{c: c, idx: len(c.filters) - 1}).next()
}

// SessionCreated, SessionOpened, SessionClosed, SessionIdle,
// MessageReceived and MessageSent drive an event into the head of the
// inbound chain. Per spec.md §4.6/§7, a panic raised by a filter or the
// application Handler is caught here and re-dispatched as exceptionCaught
// rather than crashing the owning selector.Processor worker goroutine.
func (c *Chain) SessionCreated(s Session) {
	c.dispatchInbound(s, func() { c.inboundHead().SessionCreated(s) })
}
func (c *Chain) SessionOpened(s Session) {
	c.dispatchInbound(s, func() { c.inboundHead().SessionOpened(s) })
}
func (c *Chain) SessionClosed(s Session) {
	c.dispatchInbound(s, func() { c.inboundHead().SessionClosed(s) })
}
func (c *Chain) SessionIdle(s Session, status iohandler.IdleStatus) {
	c.dispatchInbound(s, func() { c.inboundHead().SessionIdle(s, status) })
}
func (c *Chain) MessageReceived(s Session, msg interface{}) {
	c.dispatchInbound(s, func() { c.inboundHead().MessageReceived(s, msg) })
}
func (c *Chain) MessageSent(s Session, msg interface{}) {
	c.dispatchInbound(s, func() { c.inboundHead().MessageSent(s, msg) })
}

// dispatchInbound runs fn and, if it panics, converts the panic into an
// ExceptionCaught dispatch instead of letting it propagate to the caller
// (the selector.Processor worker goroutine).
func (c *Chain) dispatchInbound(s Session, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.ExceptionCaught(s, panicCause(r))
		}
	}()
	fn()
}

func panicCause(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}

// ExceptionCaught drives an exception into the head of the inbound chain.
// Per spec.md §7, a panic raised while handling the exception itself is
// logged and swallowed rather than propagated or re-dispatched, to
// prevent an exceptionCaught-in-exceptionCaught loop.
func (c *Chain) ExceptionCaught(s Session, cause error) {
	defer func() {
		if r := recover(); r != nil {
			if c.Log != nil {
				c.Log.Error().Interface("panic", r).Uint64("session", s.ID()).
					Msg("filter: panic inside exceptionCaught, swallowed")
			}
		}
	}()
	c.inboundHead().ExceptionCaught(s, cause)
}

// FilterWrite drives an outbound write through the chain in reverse
// order, terminating in the default wire-ready encode.
func (c *Chain) FilterWrite(s Session, msg interface{}) (*wqueue.Request, error) {
	return c.outboundHead().FilterWrite(s, msg)
}

// FilterClose drives a close request through the outbound chain.
func (c *Chain) FilterClose(s Session) error {
	return c.outboundHead().FilterClose(s)
}

func defaultEncode(s Session, msg interface{}) (*wqueue.Request, error) {
	switch v := msg.(type) {
	case *wqueue.Request:
		return v, nil
	default:
		return encodeRaw(v)
	}
}
