// Package session implements the per-connection state object described in
// spec.md §3: identity, attributes, write queue, idle bookkeeping, and the
// close/connect futures. It is grounded on cloudflared's
// datagramsession.Session (activeAt bookkeeping, per-session idle ticking)
// and h2mux.MuxedStream (field layout: buffers and windows owned by the
// session, back-references to the owning structures kept as plain,
// non-owning pointers).
package session

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/blueblueblue/mina/codec"
	"github.com/blueblueblue/mina/filter"
	"github.com/blueblueblue/mina/iofuture"
	"github.com/blueblueblue/mina/iohandler"
	"github.com/blueblueblue/mina/wqueue"
)

var nextID uint64

// nextSessionID returns a process-wide unique 64-bit id. A plain atomic
// counter, not a UUID: spec.md §3 requires a 64-bit numeric identity, and
// random UUIDs would only add collision-avoidance machinery this process
// doesn't need (see DESIGN.md for the one place this module diverges from
// mirroring the teacher's choice of github.com/google/uuid).
func nextSessionID() uint64 {
	return atomic.AddUint64(&nextID, 1)
}

// Processor is the subset of selector.Processor a Session needs: the
// ability to ask its owning processor to register write-interest, or to
// enqueue itself for close. Declared here (rather than imported from
// package selector) to avoid a dependency cycle; selector.Processor
// satisfies it.
type Processor interface {
	Flush(s *Session)
	EnqueueClose(s *Session)
}

// Config bundles the per-session construction parameters that spec.md §3
// leaves to the owning Service: idle thresholds per kind and a write
// timeout (see SPEC_FULL.md §6, the write-timeout supplement drawn from
// the original Apache MINA engine).
type Config struct {
	ReaderIdle   time.Duration
	WriterIdle   time.Duration
	BothIdle     time.Duration
	WriteTimeout time.Duration
}

// Session is a single connection's state, owned by exactly one
// selector.Processor for its entire life (spec.md §3 invariant).
type Session struct {
	id uint64

	// correlationID is a random UUID used only as a log field (see
	// filter.LoggingFilter), mirroring datagramsession.Manager's
	// correlation-id-per-session convention. The numeric id remains the
	// sole identity per spec.md §3; this never substitutes for it.
	correlationID uuid.UUID

	attrs *Attributes

	remoteAddr net.Addr
	localAddr  net.Addr

	Conn net.Conn

	// service and processor are weak back-references: they carry lookup
	// capability only, never lifetime. Service owns Processors, Processors
	// own Sessions; see DESIGN.md's ownership-tree note.
	service   interface{}
	processor Processor

	writeQueue *wqueue.Queue
	Handler    iohandler.Handler
	Chain      *filter.Chain

	decoder *codec.StateMachine

	fd    int
	hasFD bool

	connected atomic.Bool
	closing   atomic.Bool
	closeImmediate bool

	lastReadNano  atomic.Int64
	lastWriteNano atomic.Int64

	cfg Config

	idleSince    [3]atomic.Int64 // indexed by iohandler.IdleStatus; 0 = not currently idle
	idleCounters [3]atomic.Int64

	CloseFuture *iofuture.CloseFuture
}

// New constructs a Session in the created-but-not-yet-registered state.
// sessionCreated must be fired by the caller (selector.Processor) before
// the session is handed to its filter chain for sessionOpened, per
// spec.md §3's ordering invariant.
func New(conn net.Conn, handler iohandler.Handler, chain *filter.Chain, cfg Config) *Session {
	now := time.Now().UnixNano()
	s := &Session{
		id:            nextSessionID(),
		correlationID: uuid.New(),
		attrs:         newAttributes(),
		remoteAddr:  conn.RemoteAddr(),
		localAddr:   conn.LocalAddr(),
		Conn:        conn,
		writeQueue:  wqueue.New(),
		Handler:     handler,
		Chain:       chain,
		cfg:         cfg,
		CloseFuture: iofuture.NewCloseFuture(),
	}
	s.lastReadNano.Store(now)
	s.lastWriteNano.Store(now)
	return s
}

func (s *Session) ID() uint64              { return s.id }
func (s *Session) CorrelationID() string   { return s.correlationID.String() }
func (s *Session) RemoteAddr() net.Addr  { return s.remoteAddr }
func (s *Session) LocalAddr() net.Addr   { return s.localAddr }
func (s *Session) IsConnected() bool     { return s.connected.Load() }
func (s *Session) IsClosing() bool       { return s.closing.Load() }
func (s *Session) WriteQueue() *wqueue.Queue { return s.writeQueue }

// Attribute accessors, per spec.md §6 external interface.
func (s *Session) GetAttribute(key string) (interface{}, bool) { return s.attrs.Get(key) }
func (s *Session) SetAttribute(key string, value interface{})  { s.attrs.Set(key, value) }
func (s *Session) ContainsAttribute(key string) bool            { return s.attrs.Contains(key) }
func (s *Session) RemoveAttribute(key string)                   { s.attrs.Remove(key) }

// Decoder returns the DecodingStateMachine attached to this session by its
// protocol codec filter, or nil if none is attached yet.
func (s *Session) Decoder() *codec.StateMachine { return s.decoder }

// SetDecoder attaches (or replaces) the session's decoder. The enclosing
// machine exclusively owns its current state per spec.md §3.
func (s *Session) SetDecoder(m *codec.StateMachine) { s.decoder = m }

// Service returns the owning service back-reference (relation only, never
// ownership -- see DESIGN.md's ownership-tree note).
func (s *Session) Service() interface{} { return s.service }

// BindService records the owning service back-reference.
func (s *Session) BindService(svc interface{}) { s.service = svc }

// BindProcessor records the selector.Processor that owns this session. A
// session is owned by exactly one processor for the duration of its life.
func (s *Session) BindProcessor(p Processor) { s.processor = p }

// SetFD records the raw file descriptor the owning processor registered
// this session's connection under. Set exactly once, when the worker
// drains the sessions-to-connect queue.
func (s *Session) SetFD(fd int) {
	s.fd = fd
	s.hasFD = true
}

// FD returns the registered file descriptor, or (0, false) if the session
// has not yet been registered with its processor's selector.
func (s *Session) FD() (int, bool) { return s.fd, s.hasFD }

// MarkConnected transitions the session to connected. Called by the
// processor immediately before firing sessionOpened.
func (s *Session) MarkConnected() { s.connected.Store(true) }

// MarkRead records read activity and clears the reader/both idle markers,
// so a subsequent read-idle period starts counting fresh.
func (s *Session) MarkRead() {
	s.lastReadNano.Store(time.Now().UnixNano())
	s.idleSince[iohandler.ReaderIdle].Store(0)
	s.idleSince[iohandler.BothIdle].Store(0)
}

// MarkWrite records write activity and clears the writer/both idle markers.
func (s *Session) MarkWrite() {
	s.lastWriteNano.Store(time.Now().UnixNano())
	s.idleSince[iohandler.WriterIdle].Store(0)
	s.idleSince[iohandler.BothIdle].Store(0)
}

// LastReadTime and LastWriteTime report the last recorded activity.
func (s *Session) LastReadTime() time.Time {
	return time.Unix(0, s.lastReadNano.Load())
}

func (s *Session) LastWriteTime() time.Time {
	return time.Unix(0, s.lastWriteNano.Load())
}

// IdleThreshold returns the configured threshold for the given idle kind,
// or zero if idle detection is disabled for that kind.
func (s *Session) IdleThreshold(kind iohandler.IdleStatus) time.Duration {
	switch kind {
	case iohandler.ReaderIdle:
		return s.cfg.ReaderIdle
	case iohandler.WriterIdle:
		return s.cfg.WriterIdle
	default:
		return s.cfg.BothIdle
	}
}

// WriteTimeout returns the configured per-write timeout, zero meaning no
// timeout (idle thresholds alone govern liveness).
func (s *Session) WriteTimeout() time.Duration { return s.cfg.WriteTimeout }

// MarkIdleIfDue fires sessionIdle at most once per idle period: it returns
// true the first time the threshold is crossed, and false on subsequent
// calls until activity resets the marker via MarkRead/MarkWrite.
func (s *Session) MarkIdleIfDue(kind iohandler.IdleStatus, now time.Time) bool {
	threshold := s.IdleThreshold(kind)
	if threshold <= 0 {
		return false
	}
	var last time.Time
	switch kind {
	case iohandler.ReaderIdle:
		last = s.LastReadTime()
	case iohandler.WriterIdle:
		last = s.LastWriteTime()
	default:
		// "Both" idle means neither direction has seen activity for the
		// threshold, so the relevant timestamp is the most recent of the
		// two, not the stalest.
		lr, lw := s.LastReadTime(), s.LastWriteTime()
		if lr.After(lw) {
			last = lr
		} else {
			last = lw
		}
	}
	if now.Sub(last) <= threshold {
		return false
	}
	if !s.idleSince[kind].CompareAndSwap(0, now.UnixNano()) {
		return false
	}
	s.idleCounters[kind].Add(1)
	return true
}

// IdleCount returns the total number of idle events fired for kind over
// the session's life (SPEC_FULL.md §6 supplement); activity does not reset
// it. Purely informational; handlers decide what, if anything, to do with it.
func (s *Session) IdleCount(kind iohandler.IdleStatus) int64 {
	return s.idleCounters[kind].Load()
}

// Write traverses the session's outbound filter chain (encoder -> bytes),
// enqueues the resulting WriteRequest and asks the owning processor to
// register write-interest. It never blocks: the caller gets a WriteFuture
// immediately, per spec.md §5.
func (s *Session) Write(msg interface{}) *iofuture.WriteFuture {
	future := iofuture.NewWriteFuture()
	if s.closing.Load() {
		future.Complete(false, ErrSessionClosed)
		return future
	}
	req, err := s.Chain.FilterWrite(s, msg)
	if err != nil {
		future.Complete(false, err)
		return future
	}
	req.Future = future
	s.writeQueue.Offer(req)
	if s.processor != nil {
		s.processor.Flush(s)
	}
	return future
}

// Close enqueues the session for closing. If immediate, pending writes
// are discarded; otherwise the processor waits for the write queue to
// drain before actually closing the socket (spec.md §5).
func (s *Session) Close(immediate bool) *iofuture.CloseFuture {
	if !s.closing.CompareAndSwap(false, true) {
		return s.CloseFuture
	}
	s.closeImmediate = immediate
	if s.processor != nil {
		s.processor.EnqueueClose(s)
	} else {
		s.CloseFuture.Complete(true, nil)
	}
	return s.CloseFuture
}

// ImmediateClose reports whether Close(true) was requested, used by
// selector.Processor to decide whether to drain the write queue before
// closing the socket.
func (s *Session) ImmediateClose() bool { return s.closeImmediate }
