// Package selector implements the SelectorProcessor of spec.md §4.3: the
// worker loop that multiplexes many sessions' readiness across one
// OS-level selector per processor. Grounded on cloudflared's
// h2mux.MuxReader/MuxWriter select-loop shape, h2mux.ReadyList's
// write-interest scheduling, and h2mux.IdleTimer's idle bookkeeping.
package selector

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blueblueblue/mina/buffer"
	"github.com/blueblueblue/mina/codec"
	"github.com/blueblueblue/mina/filter"
	"github.com/blueblueblue/mina/iohandler"
	"github.com/blueblueblue/mina/metrics"
	"github.com/blueblueblue/mina/session"
)

// Strategy chooses which Processor should own a newly accepted session,
// per spec.md §4.4. Declared locally, not imported from package strategy,
// to avoid a cycle: strategy's implementations hold *Processor values and
// are handed to processors at construction.
type Strategy interface {
	SelectorForNewSession(accepting *Processor) *Processor
}

// Config bundles the construction-time parameters spec.md §4.3 names: the
// shared read buffer size, the select timeout, and how often the idle
// check (step 8) actually runs relative to select's own wakeups --
// sessions flushing frequently wake the loop far more often than the
// idle granularity needs.
type Config struct {
	ReadBufferSize int
	SelectTimeout  time.Duration
	IdleCheckEvery time.Duration

	// WriteQueueHighWaterMark is advisory only: it feeds the
	// metrics.SetFlushQueueDepth backpressure gauge and nothing else. Zero
	// disables the derived backpressure gauge.
	WriteQueueHighWaterMark int
}

func (c Config) withDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	if c.SelectTimeout <= 0 {
		c.SelectTimeout = time.Second
	}
	if c.IdleCheckEvery <= 0 {
		c.IdleCheckEvery = c.SelectTimeout
	}
	return c
}

type boundServer struct {
	listener net.Listener
	fd       int
	handler  iohandler.Handler
	chain    *filter.Chain
	sessCfg  session.Config
}

// Processor is the SelectorProcessor: one readiness selector, four intake
// queues, a flush queue and a shared read buffer, driven by a single
// worker goroutine that is the sole mutator of registered keys and
// session I/O state (spec.md §5's single-writer-per-session invariant).
// Every other method here may be called from any goroutine; they only
// ever append to an intake queue and wake the worker.
type Processor struct {
	Log      *zerolog.Logger
	Strategy Strategy
	// Label identifies this processor in metrics; defaults to its
	// pointer address if left unset before the worker starts.
	Label string
	cfg   Config

	poller  *poller
	readBuf *buffer.Buffer

	serversAddMu sync.Mutex
	serversAdd   []*boundServer

	serversRemoveMu sync.Mutex
	serversRemove   []net.Listener

	connectMu sync.Mutex
	toConnect []*session.Session

	closeMu sync.Mutex
	toClose []*session.Session

	flushMu sync.Mutex
	flush   map[uint64]*session.Session

	workerMu      sync.Mutex
	workerRunning bool

	// Worker-owned state below; read and written only from run().
	listenersByFD   map[int]*boundServer
	listenersByPtr  map[net.Listener]*boundServer
	sessionsByFD    map[int]*session.Session
	writeRegistered map[int]bool
	pendingClose    map[int]*session.Session
	lastIdleCheck   time.Time
}

// NewProcessor allocates a Processor and its underlying epoll instance.
// The worker goroutine is not started until the first public operation
// enqueues work, per spec.md §4.3's "worker shutdown... next wakeup*
// relaunches" lifecycle.
func NewProcessor(log *zerolog.Logger, strategy Strategy, cfg Config) (*Processor, error) {
	cfg = cfg.withDefaults()
	pl, err := newPoller()
	if err != nil {
		return nil, err
	}
	p := &Processor{
		Log:             log,
		Strategy:        strategy,
		cfg:             cfg,
		poller:          pl,
		readBuf:         buffer.New(cfg.ReadBufferSize),
		flush:           make(map[uint64]*session.Session),
		listenersByFD:   make(map[int]*boundServer),
		listenersByPtr:  make(map[net.Listener]*boundServer),
		sessionsByFD:    make(map[int]*session.Session),
		writeRegistered: make(map[int]bool),
		pendingClose:    make(map[int]*session.Session),
	}
	p.Label = fmt.Sprintf("%p", p)
	return p, nil
}

func (p *Processor) label() string {
	if p.Label == "" {
		return fmt.Sprintf("%p", p)
	}
	return p.Label
}

// Bind enqueues listener for accept-interest registration.
func (p *Processor) Bind(listener net.Listener, handler iohandler.Handler, chain *filter.Chain, sessCfg session.Config) error {
	fd, err := rawFD(listener)
	if err != nil {
		return err
	}
	bs := &boundServer{listener: listener, fd: fd, handler: handler, chain: chain, sessCfg: sessCfg}
	p.serversAddMu.Lock()
	p.serversAdd = append(p.serversAdd, bs)
	p.serversAddMu.Unlock()
	p.wakeAndStart()
	return nil
}

// Unbind enqueues listener for removal. Silent if listener is unknown to
// this processor, per spec.md §4.3's "silent if unknown" failure mode.
func (p *Processor) Unbind(listener net.Listener) {
	p.serversRemoveMu.Lock()
	p.serversRemove = append(p.serversRemove, listener)
	p.serversRemoveMu.Unlock()
	p.wakeAndStart()
}

// CreateSession registers conn for read-interest on this processor.
// sessionCreated fires synchronously, before registration; sessionOpened
// fires from the worker loop once registration completes, matching
// spec.md §4.3's ordering guarantee.
func (p *Processor) CreateSession(conn net.Conn, handler iohandler.Handler, chain *filter.Chain, sessCfg session.Config) *session.Session {
	s := session.New(conn, handler, chain, sessCfg)
	s.BindProcessor(p)
	chain.SessionCreated(s)
	p.connectMu.Lock()
	p.toConnect = append(p.toConnect, s)
	p.connectMu.Unlock()
	p.wakeAndStart()
	return s
}

// Flush marks s as having pending writes; idempotent if already flushed.
func (p *Processor) Flush(s *session.Session) {
	if s.IsClosing() {
		return
	}
	p.flushMu.Lock()
	p.flush[s.ID()] = s
	p.flushMu.Unlock()
	p.wakeAndStart()
}

// EnqueueClose schedules s for close on the next loop iteration.
func (p *Processor) EnqueueClose(s *session.Session) {
	p.closeMu.Lock()
	p.toClose = append(p.toClose, s)
	p.closeMu.Unlock()
	p.wakeAndStart()
}

// wakeAndStart implements the wake discipline of spec.md §4.3: start the
// worker under lock if absent, then interrupt any blocking select.
func (p *Processor) wakeAndStart() {
	p.startWorker()
	p.poller.wake()
}

func (p *Processor) startWorker() {
	p.workerMu.Lock()
	defer p.workerMu.Unlock()
	if p.workerRunning {
		return
	}
	p.workerRunning = true
	go p.run()
}

// run is the worker loop: one pass per selection cycle, per spec.md
// §4.3's nine-step algorithm.
func (p *Processor) run() {
	for {
		p.drainServersRemove()
		p.drainServersAdd()
		p.drainSessionsConnect()
		p.drainSessionsClose()
		p.drainFlush()

		ready, err := p.poller.wait(p.cfg.SelectTimeout)
		if err != nil {
			p.logError(err, "selector: wait failed")
		} else {
			p.processReady(ready)
		}
		now := time.Now()
		if now.Sub(p.lastIdleCheck) >= p.cfg.IdleCheckEvery {
			p.idleCheck(now)
			p.lastIdleCheck = now
		}

		if p.tryExit() {
			return
		}
	}
}

func (p *Processor) tryExit() bool {
	p.workerMu.Lock()
	defer p.workerMu.Unlock()
	if len(p.listenersByFD) != 0 || len(p.sessionsByFD) != 0 || p.hasPendingIntake() {
		return false
	}
	p.workerRunning = false
	return true
}

func (p *Processor) hasPendingIntake() bool {
	p.serversAddMu.Lock()
	n := len(p.serversAdd)
	p.serversAddMu.Unlock()
	if n > 0 {
		return true
	}
	p.serversRemoveMu.Lock()
	n = len(p.serversRemove)
	p.serversRemoveMu.Unlock()
	if n > 0 {
		return true
	}
	p.connectMu.Lock()
	n = len(p.toConnect)
	p.connectMu.Unlock()
	if n > 0 {
		return true
	}
	p.closeMu.Lock()
	n = len(p.toClose)
	p.closeMu.Unlock()
	if n > 0 {
		return true
	}
	p.flushMu.Lock()
	n = len(p.flush)
	p.flushMu.Unlock()
	return n > 0
}

// Step 1: drain servers-to-remove.
func (p *Processor) drainServersRemove() {
	p.serversRemoveMu.Lock()
	batch := p.serversRemove
	p.serversRemove = nil
	p.serversRemoveMu.Unlock()

	for _, l := range batch {
		bs, ok := p.listenersByPtr[l]
		if !ok {
			p.logWarn(nil, "selector: unbind of unregistered listener")
			continue
		}
		if err := p.poller.remove(bs.fd); err != nil {
			p.logWarn(err, "selector: remove listener key failed")
		}
		delete(p.listenersByFD, bs.fd)
		delete(p.listenersByPtr, l)
		_ = bs.listener.Close()
	}
}

// Step 2: drain servers-to-add.
func (p *Processor) drainServersAdd() {
	p.serversAddMu.Lock()
	batch := p.serversAdd
	p.serversAdd = nil
	p.serversAddMu.Unlock()

	for _, bs := range batch {
		if err := p.poller.add(bs.fd, interestRead); err != nil {
			p.logError(err, "selector: register listener failed")
			continue
		}
		p.listenersByFD[bs.fd] = bs
		p.listenersByPtr[bs.listener] = bs
	}
}

// Step 3: drain sessions-to-connect.
func (p *Processor) drainSessionsConnect() {
	p.connectMu.Lock()
	batch := p.toConnect
	p.toConnect = nil
	p.connectMu.Unlock()

	for _, s := range batch {
		fd, err := rawFD(s.Conn)
		if err != nil {
			s.Chain.ExceptionCaught(s, err)
			p.closeSession(s, err)
			continue
		}
		if err := p.poller.add(fd, interestRead); err != nil {
			s.Chain.ExceptionCaught(s, err)
			p.closeSession(s, err)
			continue
		}
		s.SetFD(fd)
		p.sessionsByFD[fd] = s
		s.MarkConnected()
		s.Chain.SessionOpened(s)
		metrics.SessionAccepted(p.label())
	}
}

// Step 4: drain sessions-to-close. A session simultaneously flushed and
// closed is closed (close wins, spec.md §4.3 tie-break). A non-immediate
// close with a non-empty write queue defers the actual socket close until
// handleWritable observes the queue has drained.
func (p *Processor) drainSessionsClose() {
	p.closeMu.Lock()
	batch := p.toClose
	p.toClose = nil
	p.closeMu.Unlock()

	for _, s := range batch {
		p.flushMu.Lock()
		delete(p.flush, s.ID())
		p.flushMu.Unlock()

		if s.ImmediateClose() || s.WriteQueue().IsEmpty() {
			p.closeSession(s, nil)
			continue
		}
		fd, ok := s.FD()
		if !ok {
			p.closeSession(s, nil)
			continue
		}
		p.pendingClose[fd] = s
		p.ensureWriteInterest(fd)
	}
}

// Step 5: drain flush queue.
func (p *Processor) drainFlush() {
	p.flushMu.Lock()
	batch := p.flush
	p.flush = make(map[uint64]*session.Session)
	p.flushMu.Unlock()

	for _, s := range batch {
		fd, ok := s.FD()
		if !ok {
			continue
		}
		p.ensureWriteInterest(fd)
	}
}

func (p *Processor) ensureWriteInterest(fd int) {
	if p.writeRegistered[fd] {
		return
	}
	if err := p.poller.modify(fd, interestBoth); err == nil {
		p.writeRegistered[fd] = true
	} else {
		p.logWarn(err, "selector: register write-interest failed")
	}
}

// Step 7: process ready keys.
func (p *Processor) processReady(ready []readyFD) {
	for _, r := range ready {
		if bs, ok := p.listenersByFD[r.fd]; ok {
			if r.readable() {
				p.handleAccept(bs)
			}
			continue
		}
		s, ok := p.sessionsByFD[r.fd]
		if !ok {
			continue
		}
		if r.readable() {
			p.handleReadable(s)
		}
		if _, stillOpen := p.sessionsByFD[r.fd]; stillOpen && r.writable() {
			p.handleWritable(s)
		}
	}
}

func (p *Processor) handleAccept(bs *boundServer) {
	conn, err := bs.listener.Accept()
	if err != nil {
		p.logWarn(err, "selector: accept failed")
		return
	}
	target := p
	if p.Strategy != nil {
		if chosen := p.Strategy.SelectorForNewSession(p); chosen != nil {
			target = chosen
		}
	}
	target.CreateSession(conn, bs.handler, bs.chain, bs.sessCfg)
}

func (p *Processor) handleReadable(s *session.Session) {
	p.readBuf.Clear()
	n, err := s.Conn.Read(p.readBuf.Bytes())
	if err != nil {
		if err == io.EOF {
			// Peer closed cleanly: the Go equivalent of spec.md §4.3 step
			// 7's "n < 0 ⇒ enqueue for close". Not an exception -- §8
			// scenarios 1/2's event traces have no exception on normal
			// teardown.
			p.EnqueueClose(s)
			return
		}
		s.Chain.ExceptionCaught(s, err)
		p.EnqueueClose(s)
		return
	}
	if n == 0 {
		return
	}
	p.readBuf.SetPosition(n)
	p.readBuf.Flip()
	s.MarkRead()

	// Decode is driven from here rather than from a filter.CodecFilter in
	// the chain: a decode error must enqueue the session for close, and
	// only the owning Processor holds the close queue and the shared
	// p.readBuf whose backing array is about to be compacted/cleared. See
	// filter.CodecFilter's doc comment and DESIGN.md for the chain-based
	// alternative this gives protocols that don't need that buffer reuse.
	if dec := s.Decoder(); dec != nil {
		sink := codec.NewMessageSink()
		if err := dec.Decode(p.readBuf, sink); err != nil {
			metrics.DecoderError(p.label())
			s.Chain.ExceptionCaught(s, err)
			p.EnqueueClose(s)
			return
		}
		for _, msg := range sink.Messages() {
			s.Chain.MessageReceived(s, msg)
		}
	} else {
		msg := append([]byte(nil), p.readBuf.Bytes()...)
		s.Chain.MessageReceived(s, msg)
		p.readBuf.SetPosition(p.readBuf.Limit())
	}

	if p.readBuf.HasRemaining() {
		p.readBuf.Compact()
	} else {
		p.readBuf.Clear()
	}
}

func (p *Processor) handleWritable(s *session.Session) {
	fd, ok := s.FD()
	if !ok {
		return
	}
	for {
		req, ok := s.WriteQueue().Peek()
		if !ok {
			if err := p.poller.modify(fd, interestRead); err == nil {
				p.writeRegistered[fd] = false
			}
			break
		}
		n, err := writeOnce(s.Conn, req.Payload.Bytes())
		if err != nil {
			s.Chain.ExceptionCaught(s, err)
			p.EnqueueClose(s)
			return
		}
		if n == 0 {
			break // socket buffer full; wait for next writability, never spin
		}
		req.Payload.SetPosition(req.Payload.Position() + n)
		if req.Payload.HasRemaining() {
			break // partial write; resume from current position next time
		}
		s.WriteQueue().Remove()
		s.MarkWrite()
		req.Future.Complete(true, nil)
		s.Chain.MessageSent(s, req.Message)
	}

	if sess, pending := p.pendingClose[fd]; pending && sess.WriteQueue().IsEmpty() {
		delete(p.pendingClose, fd)
		p.closeSession(sess, nil)
	}
}

// Step 8: idle check. Also enforces the per-session write timeout
// (SPEC_FULL.md §6 supplement): a request sitting at the head of its
// queue longer than the configured timeout fails its future rather than
// waiting forever for a peer that never reads.
func (p *Processor) idleCheck(now time.Time) {
	label := p.label()
	for _, s := range p.sessionsByFD {
		if s.MarkIdleIfDue(iohandler.ReaderIdle, now) {
			s.Chain.SessionIdle(s, iohandler.ReaderIdle)
		}
		if s.MarkIdleIfDue(iohandler.WriterIdle, now) {
			s.Chain.SessionIdle(s, iohandler.WriterIdle)
		}
		if s.MarkIdleIfDue(iohandler.BothIdle, now) {
			s.Chain.SessionIdle(s, iohandler.BothIdle)
		}
		for s.WriteQueue().FailHeadIfExpired(s.WriteTimeout(), now) {
		}
		metrics.SetFlushQueueDepth(label, s.WriteQueue().Len(), p.cfg.WriteQueueHighWaterMark)
	}
	metrics.SetManagedSessions(label, len(p.sessionsByFD))
}

// closeSession tears down a session unconditionally: deregister, close
// the socket, drain and fail any pending writes, fire sessionClosed and
// complete the close future. Safe to call whether or not the session was
// ever registered (a connect-time failure never reaches sessionsByFD).
func (p *Processor) closeSession(s *session.Session, cause error) {
	if fd, ok := s.FD(); ok {
		_ = p.poller.remove(fd)
		delete(p.sessionsByFD, fd)
		delete(p.writeRegistered, fd)
		delete(p.pendingClose, fd)
	}
	_ = s.Conn.Close()
	s.WriteQueue().Drain(session.ErrSessionClosed)
	s.Chain.SessionClosed(s)
	s.CloseFuture.Complete(cause == nil, cause)
	metrics.SessionClosed(p.label(), cause == nil)
}

func (p *Processor) logWarn(err error, msg string) {
	if p.Log == nil {
		return
	}
	ev := p.Log.Warn()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

func (p *Processor) logError(err error, msg string) {
	if p.Log == nil {
		return
	}
	p.Log.Error().Err(err).Msg(msg)
}
