// Package codec implements the DecodingState substrate from spec.md §4.5:
// a composable incremental byte-level parser. Each DecodingState consumes
// whatever bytes are available and returns the state that should handle
// the next chunk, so a decoder makes forward progress on every non-empty
// input and buffers no more than the current state requires, allowing
// arbitrary fragmentation of the input stream.
//
// The loop shape is grounded on cloudflared's h2mux.MuxReader.run, which
// reads one frame at a time from whatever the wire offers and preserves
// partial state across reads; DecodingStateMachine generalizes that to an
// explicit, composable state interface instead of one hardcoded
// http2.Framer loop.
package codec

import (
	"encoding/binary"
	"errors"

	"github.com/blueblueblue/mina/buffer"
)

// ErrUnexpectedEndOfInput is a generic error a FinishDecode implementation
// may return when the session/stream ends with a state still expecting
// more bytes. The primitive states in this package do not return it; each
// returns its own error naming what it was waiting for. Either way, an
// end-of-input failure is a genuine decode error,
// not a "need more input" signal: "need more input" is simply the absence
// of an error from Decode, paired with a state that did not return nil.
var ErrUnexpectedEndOfInput = errors.New("codec: unexpected end of input")

// State is one node of an incremental parser. Decode consumes zero or more
// bytes from in, writes zero or more decoded messages to out, and returns
// the state that should process the next call (possibly itself), or nil to
// signal that the enclosing DecodingStateMachine is finished.
type State interface {
	// Decode consumes available bytes from in and appends any fully
	// decoded messages to out. It returns the next state, or nil if
	// decoding is complete.
	Decode(in *buffer.Buffer, out *MessageSink) (State, error)

	// FinishDecode is called when the input stream ends while this state
	// is current (session closing, or the parent machine finalizing). The
	// primitive states fail with an unexpected-end-of-session error naming
	// what they were waiting for; composite states may instead emit a
	// trailing message.
	FinishDecode(out *MessageSink) (State, error)
}

// MessageSink collects messages produced during a Decode/FinishDecode
// call. DecodingStateMachine uses two sinks: an inner one for child
// products withheld from the outer caller, and the caller-supplied outer
// one.
type MessageSink struct {
	messages []interface{}
}

// NewMessageSink returns an empty sink.
func NewMessageSink() *MessageSink {
	return &MessageSink{}
}

// Emit appends a decoded message.
func (s *MessageSink) Emit(msg interface{}) {
	s.messages = append(s.messages, msg)
}

// Messages returns the messages emitted so far, in order.
func (s *MessageSink) Messages() []interface{} {
	return s.messages
}

// Reset clears the sink for reuse.
func (s *MessageSink) Reset() {
	s.messages = s.messages[:0]
}

// ByteOrder selects endianness for the fixed-width integer states.
type ByteOrder = binary.ByteOrder

var (
	BigEndian    = binary.BigEndian
	LittleEndian = binary.LittleEndian
)
