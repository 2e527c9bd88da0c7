//go:build linux

package selector

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueblueblue/mina/filter"
	"github.com/blueblueblue/mina/iohandler"
	"github.com/blueblueblue/mina/session"
)

// echoHandler records lifecycle events on buffered channels and echoes
// every received message back to its sender, in the same "record events,
// assert on channels rather than sleeps" style as h2mux's test muxers.
type echoHandler struct {
	iohandler.Adapter
	openedC    chan *session.Session
	closedC    chan struct{}
	idleC      chan iohandler.IdleStatus
	receivedC  chan []byte
	exceptionC chan error
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		openedC:    make(chan *session.Session, 8),
		closedC:    make(chan struct{}, 8),
		idleC:      make(chan iohandler.IdleStatus, 8),
		receivedC:  make(chan []byte, 8),
		exceptionC: make(chan error, 8),
	}
}

func (h *echoHandler) SessionOpened(s iohandler.Session) {
	if cs, ok := s.(*session.Session); ok {
		h.openedC <- cs
	}
}

func (h *echoHandler) SessionClosed(iohandler.Session) {
	h.closedC <- struct{}{}
}

func (h *echoHandler) SessionIdle(_ iohandler.Session, status iohandler.IdleStatus) {
	h.idleC <- status
}

func (h *echoHandler) MessageReceived(s iohandler.Session, msg interface{}) {
	b, _ := msg.([]byte)
	cp := append([]byte(nil), b...)
	h.receivedC <- cp
	if cs, ok := s.(*session.Session); ok {
		cs.Write(append([]byte(nil), cp...))
	}
}

func (h *echoHandler) ExceptionCaught(_ iohandler.Session, cause error) {
	select {
	case h.exceptionC <- cause:
	default:
	}
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(nil, nil, Config{SelectTimeout: 30 * time.Millisecond})
	require.NoError(t, err)
	return p
}

func dialEcho(t *testing.T, p *Processor, h *echoHandler, cfg session.Config) (net.Conn, *session.Session) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	chain := filter.New(h)
	require.NoError(t, p.Bind(ln, h, chain, cfg))

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case s := <-h.openedC:
		return conn, s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sessionOpened")
		return nil, nil
	}
}

func TestAcceptedSessionEchoesMessage(t *testing.T) {
	p := newTestProcessor(t)
	h := newEchoHandler()
	conn, _ := dialEcho(t, p, h, session.Config{})

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-h.receivedC:
		assert.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messageReceived")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestSessionIdleFiresAfterThreshold(t *testing.T) {
	p := newTestProcessor(t)
	h := newEchoHandler()
	dialEcho(t, p, h, session.Config{ReaderIdle: 20 * time.Millisecond})

	select {
	case status := <-h.idleC:
		assert.Equal(t, iohandler.ReaderIdle, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sessionIdle")
	}
}

func TestNonImmediateCloseDrainsPendingWriteBeforeClosing(t *testing.T) {
	p := newTestProcessor(t)
	h := newEchoHandler()
	conn, s := dialEcho(t, p, h, session.Config{})

	payload := make([]byte, 4096)
	writeFuture := s.Write(payload)
	closeFuture := s.Close(false)

	require.True(t, closeFuture.AwaitTimeout(2*time.Second), "close future never completed")
	assert.True(t, closeFuture.IsClosed())
	require.True(t, writeFuture.AwaitTimeout(2*time.Second), "write future never completed")
	assert.True(t, writeFuture.IsWritten())

	select {
	case <-h.closedC:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sessionClosed")
	}

	buf := make([]byte, len(payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
}

func TestImmediateCloseDiscardsPendingWrites(t *testing.T) {
	p := newTestProcessor(t)
	h := newEchoHandler()
	_, s := dialEcho(t, p, h, session.Config{})

	writeFuture := s.Write(make([]byte, 64))
	closeFuture := s.Close(true)

	require.True(t, closeFuture.AwaitTimeout(2*time.Second))
	require.True(t, writeFuture.AwaitTimeout(2*time.Second))
	assert.False(t, writeFuture.IsWritten())
	assert.ErrorIs(t, writeFuture.Cause(), session.ErrSessionClosed)
}

// TestPeerCloseIsCleanNotException covers spec.md §4.3 step 7 ("n < 0 =>
// enqueue session for close") and the §8 scenario 1/2 event traces, which
// contain sessionClosed but no exceptionCaught on an ordinary peer
// disconnect.
func TestPeerCloseIsCleanNotException(t *testing.T) {
	p := newTestProcessor(t)
	h := newEchoHandler()
	conn, _ := dialEcho(t, p, h, session.Config{})

	require.NoError(t, conn.Close())

	select {
	case <-h.closedC:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sessionClosed")
	}

	select {
	case cause := <-h.exceptionC:
		t.Fatalf("unexpected exceptionCaught on clean peer close: %v", cause)
	case <-time.After(100 * time.Millisecond):
	}
}
