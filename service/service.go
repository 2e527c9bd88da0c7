// Package service implements the IoServer/IoClient surface of spec.md §6:
// bind/unbind a set of listening addresses (or connect to a remote one),
// dispatch every accepted/connected session through a configured Handler
// and filter chain, and track the resulting sessions for the service's
// lifetime. Grounded on supervisor.TunnelSupervisor.Run's coordinated,
// errgroup-joined startup/shutdown shape, generalized from cloudflared's
// single tunnel connection to an arbitrary pool of listeners or outbound
// connections.
package service

import (
	"sync"

	"github.com/blueblueblue/mina/filter"
	"github.com/blueblueblue/mina/session"
)

// sessionTracker is the common session-bookkeeping half of Server and
// Client: a concurrent map of managed sessions, kept current by a small
// filter prepended to every chain this package builds.
type sessionTracker struct {
	mu       sync.RWMutex
	sessions map[uint64]*session.Session
}

func newSessionTracker() sessionTracker {
	return sessionTracker{sessions: make(map[uint64]*session.Session)}
}

func (t *sessionTracker) add(s filter.Session) {
	cs, ok := s.(*session.Session)
	if !ok {
		return
	}
	t.mu.Lock()
	t.sessions[cs.ID()] = cs
	t.mu.Unlock()
}

func (t *sessionTracker) remove(s filter.Session) {
	cs, ok := s.(*session.Session)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.sessions, cs.ID())
	t.mu.Unlock()
}

// managedSessions returns a snapshot copy, per spec.md §6's
// getManagedSessions() -> map<id, session>.
func (t *sessionTracker) managedSessions() map[uint64]*session.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[uint64]*session.Session, len(t.sessions))
	for k, v := range t.sessions {
		cp[k] = v
	}
	return cp
}

// trackingFilter adds/removes a session from a sessionTracker as it is
// created and closed. Placed at the head of every chain Server builds
// (Client chains use connectCompleteFilter instead); every other event
// passes through unchanged via filter.Adapter.
type trackingFilter struct {
	filter.Adapter
	tracker *sessionTracker
}

func (f *trackingFilter) SessionCreated(next filter.NextFilter, s filter.Session) {
	f.tracker.add(s)
	next.SessionCreated(s)
}

func (f *trackingFilter) SessionClosed(next filter.NextFilter, s filter.Session) {
	f.tracker.remove(s)
	next.SessionClosed(s)
}

var _ filter.Filter = (*trackingFilter)(nil)
