package selector

import (
	"fmt"
	"net"
	"syscall"
)

// rawFD extracts the OS file descriptor backing a net.Conn or
// net.Listener for epoll registration. The fd is not owned by the
// caller: closing the originating net.Conn/net.Listener closes it too.
// Values that do not implement syscall.Conn have no fd and yield an error.
func rawFD(c interface{}) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("selector: %T has no raw file descriptor", c)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	if err := rc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, err
	}
	return fd, nil
}

// writeOnce performs a single non-blocking write attempt directly against
// the socket, returning (0, nil) instead of blocking when the send buffer
// is full -- the partial-write behavior the flush step requires so one
// slow session can never stall the worker loop. conn must satisfy
// syscall.Conn (true for *net.TCPConn); other net.Conn implementations
// (net.Pipe, used in tests) fall back to a plain blocking Write, since
// those have no fd to drive non-blocking.
func writeOnce(conn net.Conn, data []byte) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return conn.Write(data)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var operr error
	cerr := rc.Write(func(fd uintptr) bool {
		n, operr = syscall.Write(int(fd), data)
		return true
	})
	if cerr != nil {
		return n, cerr
	}
	if operr == syscall.EAGAIN || operr == syscall.EWOULDBLOCK {
		return 0, nil
	}
	return n, operr
}
