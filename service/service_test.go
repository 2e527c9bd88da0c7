package service

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueblueblue/mina/iohandler"
	"github.com/blueblueblue/mina/selector"
	"github.com/blueblueblue/mina/strategy"
)

type captureHandler struct {
	iohandler.Adapter
	receivedC chan []byte
}

func (h *captureHandler) MessageReceived(_ iohandler.Session, msg interface{}) {
	b, _ := msg.([]byte)
	h.receivedC <- append([]byte(nil), b...)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newRoundRobin(t *testing.T, n int) *strategy.RoundRobin {
	t.Helper()
	procs := make([]*selector.Processor, n)
	for i := range procs {
		p, err := selector.NewProcessor(nil, nil, selector.Config{SelectTimeout: 30 * time.Millisecond})
		require.NoError(t, err)
		procs[i] = p
	}
	return strategy.NewRoundRobin(procs)
}

func TestServerBindAcceptsAndTracksSession(t *testing.T) {
	strat := newRoundRobin(t, 2)
	h := &captureHandler{receivedC: make(chan []byte, 4)}
	srv := NewServer(nil, strat, h)

	addr := freeAddr(t)
	require.NoError(t, srv.Bind(addr))
	t.Cleanup(func() { srv.Unbind(addr) })

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-h.receivedC:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messageReceived")
	}

	assert.Eventually(t, func() bool {
		return len(srv.GetManagedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerBindRollsBackOnPartialFailure(t *testing.T) {
	strat := newRoundRobin(t, 1)
	h := &captureHandler{receivedC: make(chan []byte, 1)}
	srv := NewServer(nil, strat, h)

	good := freeAddr(t)
	// Occupy the "bad" address first so the second concurrent bind fails.
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	bad := occupied.Addr().String()

	err = srv.Bind(good, bad)
	require.Error(t, err)

	// The rollback should have unbound `good` too: a fresh listener can
	// rebind the same address immediately.
	ln, err := net.Listen("tcp", good)
	require.NoError(t, err)
	defer ln.Close()
}

func TestClientConnectCompletesFuture(t *testing.T) {
	strat := newRoundRobin(t, 1)
	h := &captureHandler{receivedC: make(chan []byte, 1)}
	srv := NewServer(nil, strat, h)
	addr := freeAddr(t)
	require.NoError(t, srv.Bind(addr))
	t.Cleanup(func() { srv.Unbind(addr) })

	clientStrat := newRoundRobin(t, 1)
	client := NewClient(nil, clientStrat, &iohandler.Adapter{})

	future := client.Connect(addr, "")
	require.True(t, future.AwaitTimeout(2*time.Second))
	assert.True(t, future.IsSuccess())
	assert.Equal(t, 1, len(client.GetManagedSessions()))
}

func TestClientConnectFailsFutureOnUnreachableAddress(t *testing.T) {
	strat := newRoundRobin(t, 1)
	client := NewClient(nil, strat, &iohandler.Adapter{})

	// A just-released port with no listener: dial should fail quickly.
	addr := fmt.Sprintf("127.0.0.1:%d", mustUnusedPort(t))
	future := client.Connect(addr, "")
	require.True(t, future.AwaitTimeout(2*time.Second))
	assert.False(t, future.IsSuccess())
	assert.Error(t, future.Cause())
}

func mustUnusedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
