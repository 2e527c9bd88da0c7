// Package iofuture implements the one-shot completion latches used
// throughout the framework: ConnectFuture, WriteFuture and CloseFuture are
// all built on the same Future primitive.
//
// The design is lifted from cloudflared's h2mux.BooleanFuse (set-once latch
// guarded by sync.Cond) generalized to carry a success flag plus an
// optional failure cause, and from h2mux.Signal for the non-blocking
// wake-a-waiter idiom exposed through Done, so a caller can notice
// completion inside a select statement without polling.
package iofuture

import (
	"sync"
	"time"
)

// Future is a value that is set at most once and can be awaited by any
// number of goroutines, blocking or with a timeout.
type Future struct {
	mu     sync.Mutex
	cond   *sync.Cond
	done   bool
	ok     bool
	cause  error
	waitCh chan struct{}
}

// New returns an unset Future.
func New() *Future {
	f := &Future{waitCh: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Complete sets the future's outcome. Only the first call has any effect;
// subsequent calls are no-ops, matching BooleanFuse's Fuse semantics.
func (f *Future) Complete(ok bool, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.ok = ok
	f.cause = cause
	close(f.waitCh)
	f.cond.Broadcast()
}

// IsDone reports whether Complete has been called.
func (f *Future) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// IsSuccess reports whether the future completed successfully. False both
// while pending and after a failure.
func (f *Future) IsSuccess() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done && f.ok
}

// Cause returns the failure cause, or nil if the future succeeded or is
// still pending.
func (f *Future) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cause
}

// Await blocks until the future completes.
func (f *Future) Await() {
	<-f.waitCh
}

// AwaitTimeout blocks until the future completes or the timeout elapses,
// returning true if it completed in time.
func (f *Future) AwaitTimeout(timeout time.Duration) bool {
	select {
	case <-f.waitCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done returns a channel that is closed once the future completes, for use
// in select statements by callers that must not block on the future
// synchronously.
func (f *Future) Done() <-chan struct{} {
	return f.waitCh
}

// ConnectFuture is returned by IoClient.Connect.
type ConnectFuture struct{ *Future }

// NewConnectFuture returns a new, pending ConnectFuture.
func NewConnectFuture() *ConnectFuture { return &ConnectFuture{New()} }

// WriteFuture is returned by Session.Write.
type WriteFuture struct{ *Future }

// NewWriteFuture returns a new, pending WriteFuture.
func NewWriteFuture() *WriteFuture { return &WriteFuture{New()} }

// IsWritten is an alias for IsSuccess, matching the vocabulary of
// spec.md's external interface (`isWritten`).
func (w *WriteFuture) IsWritten() bool { return w.IsSuccess() }

// CloseFuture is returned by Session.Close.
type CloseFuture struct{ *Future }

// NewCloseFuture returns a new, pending CloseFuture.
func NewCloseFuture() *CloseFuture { return &CloseFuture{New()} }

// IsClosed is an alias for IsSuccess, matching spec.md's `isClosed`.
func (c *CloseFuture) IsClosed() bool { return c.IsSuccess() }
