package filter

import (
	"fmt"

	"github.com/blueblueblue/mina/buffer"
	"github.com/blueblueblue/mina/wqueue"
)

// encodeRaw wraps an already wire-ready message (a *buffer.Buffer, ready
// for reading, or a []byte) into a wqueue.Request. A codec filter earlier
// in the outbound chain is expected to have turned an application message
// into one of these two shapes before it reaches the chain's tail.
func encodeRaw(msg interface{}) (*wqueue.Request, error) {
	switch v := msg.(type) {
	case *buffer.Buffer:
		return wqueue.NewRequest(v, msg), nil
	case []byte:
		buf := buffer.Wrap(append([]byte(nil), v...))
		return wqueue.NewRequest(buf, msg), nil
	default:
		return nil, fmt.Errorf("filter: no encoder produced wire bytes for message of type %T", msg)
	}
}
