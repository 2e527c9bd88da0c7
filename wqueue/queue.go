// Package wqueue implements the per-session FIFO of pending outbound
// buffers described in spec.md §4.2, grounded on the writeBuffer /
// writeBufferHasSpace pairing in cloudflared's h2mux.MuxedStream.
package wqueue

import (
	"container/list"
	"sync"
	"time"

	"github.com/blueblueblue/mina/buffer"
	"github.com/blueblueblue/mina/iofuture"
)

// Request pairs an outgoing payload with the future that completes once it
// is fully written (success) or the session closes before it drains
// (failure).
type Request struct {
	Payload *buffer.Buffer
	Future  *iofuture.WriteFuture
	// Message is the original encoder input, retained so filter.Chain can
	// fire messageSent with the application-level message rather than the
	// encoded bytes.
	Message interface{}
	// EnqueuedAt records when this request joined its queue, used by
	// selector.Processor to enforce the per-session write timeout
	// (SPEC_FULL.md §6 supplement).
	EnqueuedAt time.Time
}

// NewRequest builds a pending Request.
func NewRequest(payload *buffer.Buffer, msg interface{}) *Request {
	return &Request{
		Payload:    payload,
		Future:     iofuture.NewWriteFuture(),
		Message:    msg,
		EnqueuedAt: time.Now(),
	}
}

// ErrWriteTimeout is the cause completed on a WriteFuture when a request
// has sat at the head of its queue longer than the session's configured
// write timeout without draining (SPEC_FULL.md §6 supplement).
var ErrWriteTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "wqueue: write timed out" }

// Queue is a FIFO of *Request. Multiple goroutines may Offer concurrently;
// only the owning selector.Processor's worker goroutine Peeks and Removes,
// per spec.md §5's single-writer-per-session discipline.
type Queue struct {
	mu    sync.Mutex
	items list.List
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Offer appends req to the tail of the queue.
func (q *Queue) Offer(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(req)
}

// Peek returns the head of the queue without removing it, or (nil, false)
// if empty.
func (q *Queue) Peek() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*Request), true
}

// Remove drops the head of the queue. No-op if empty.
func (q *Queue) Remove() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if front := q.items.Front(); front != nil {
		q.items.Remove(front)
	}
}

// FailHeadIfExpired fails and drops the head request if it has been
// waiting longer than timeout, returning true if it did so. A timeout of
// zero disables the check.
func (q *Queue) FailHeadIfExpired(timeout time.Duration, now time.Time) bool {
	if timeout <= 0 {
		return false
	}
	q.mu.Lock()
	front := q.items.Front()
	if front == nil {
		q.mu.Unlock()
		return false
	}
	req := front.Value.(*Request)
	if now.Sub(req.EnqueuedAt) <= timeout {
		q.mu.Unlock()
		return false
	}
	q.items.Remove(front)
	q.mu.Unlock()
	req.Future.Complete(false, ErrWriteTimeout)
	return true
}

// IsEmpty reports whether the queue currently has no pending requests.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

// Len returns the number of pending requests, used by selector.Processor to
// report flush-queue depth via metrics.SetFlushQueueDepth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Drain removes every pending request and fails each one's future with
// cause, used when a session closes with undelivered writes.
func (q *Queue) Drain(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = e.Next() {
		e.Value.(*Request).Future.Complete(false, cause)
	}
	q.items.Init()
}
