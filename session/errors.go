package session

import "errors"

// ErrSessionClosed is the cause completed on a WriteFuture when Write is
// called after the session has started closing.
var ErrSessionClosed = errors.New("session: write after close")
