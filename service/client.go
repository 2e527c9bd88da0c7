package service

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/blueblueblue/mina/filter"
	"github.com/blueblueblue/mina/iofuture"
	"github.com/blueblueblue/mina/iohandler"
	"github.com/blueblueblue/mina/session"
	"github.com/blueblueblue/mina/strategy"
)

// Client is the IoClient of spec.md §6.
type Client struct {
	Log           *zerolog.Logger
	Strategy      strategy.Strategy
	SessionConfig session.Config

	mu      sync.Mutex
	handler iohandler.Handler
	filters []filter.Filter

	tracker sessionTracker
}

// NewClient builds a Client that dispatches to handler until SetHandler
// replaces it; SetFilters is optional.
func NewClient(log *zerolog.Logger, strat strategy.Strategy, handler iohandler.Handler) *Client {
	return &Client{
		Log:      log,
		Strategy: strat,
		handler:  handler,
		tracker:  newSessionTracker(),
	}
}

func (c *Client) SetHandler(h iohandler.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) SetFilters(filters ...filter.Filter) {
	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
}

// connectFuture is completed by a connectCompleteFilter prepended to the
// chain of the one session this Connect call produces: spec.md §4.3 fires
// sessionOpened only after the processor has finished registering the
// session for read-interest, which is also the earliest point a
// ConnectFuture can honestly report success.
type connectCompleteFilter struct {
	filter.Adapter
	tracker *sessionTracker
	future  *iofuture.ConnectFuture
}

func (f *connectCompleteFilter) SessionOpened(next filter.NextFilter, s filter.Session) {
	f.tracker.add(s)
	f.future.Complete(true, nil)
	next.SessionOpened(s)
}

func (f *connectCompleteFilter) SessionClosed(next filter.NextFilter, s filter.Session) {
	f.tracker.remove(s)
	next.SessionClosed(s)
}

// Connect dials remote and hands the resulting connection to a processor
// chosen by Strategy. The dial itself runs on its own goroutine so
// Connect never blocks its caller, matching every other public operation
// in this module returning a future rather than suspending.
func (c *Client) Connect(remote string, local string) *iofuture.ConnectFuture {
	future := iofuture.NewConnectFuture()

	c.mu.Lock()
	handler := c.handler
	fs := make([]filter.Filter, 0, len(c.filters)+1)
	fs = append(fs, &connectCompleteFilter{tracker: &c.tracker, future: future})
	fs = append(fs, c.filters...)
	chain := filter.New(handler, fs...)
	chain.Log = c.Log
	c.mu.Unlock()

	go func() {
		var d net.Dialer
		if local != "" {
			laddr, err := net.ResolveTCPAddr("tcp", local)
			if err != nil {
				future.Complete(false, errors.Wrapf(err, "service: resolve local addr %s", local))
				return
			}
			d.LocalAddr = laddr
		}
		conn, err := d.DialContext(context.Background(), "tcp", remote)
		if err != nil {
			future.Complete(false, errors.Wrapf(err, "service: connect %s", remote))
			return
		}
		proc := c.Strategy.SelectorForNewSession(nil)
		proc.CreateSession(conn, handler, chain, c.SessionConfig)
	}()

	return future
}

// GetManagedSessions returns a snapshot of every session this client has
// open.
func (c *Client) GetManagedSessions() map[uint64]*session.Session {
	return c.tracker.managedSessions()
}
