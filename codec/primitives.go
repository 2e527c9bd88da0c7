package codec

import (
	"errors"
	"fmt"

	"github.com/blueblueblue/mina/buffer"
)

// SingleByteDecodingState consumes exactly one byte and hands it to Got,
// which decides the next state (return nil to finish the machine).
type SingleByteDecodingState struct {
	Got func(b byte) (State, error)
}

func (s *SingleByteDecodingState) Decode(in *buffer.Buffer, out *MessageSink) (State, error) {
	if !in.HasRemaining() {
		return s, nil
	}
	b, err := in.Get()
	if err != nil {
		return nil, err
	}
	return s.Got(b)
}

func (s *SingleByteDecodingState) FinishDecode(out *MessageSink) (State, error) {
	return nil, errors.New("codec: unexpected end of session while waiting for a single byte")
}

// FixedWidthIntState consumes exactly Width bytes (2, 4 or 8) as an
// unsigned integer in the given byte order and hands the value to Got.
// It buffers only the partial prefix it has seen so far across calls,
// matching spec.md's "buffers no more than the current state requires"
// invariant.
type FixedWidthIntState struct {
	Width int
	Order ByteOrder
	Got   func(v uint64) (State, error)

	scratch [8]byte
	filled  int
}

func NewFixedWidthIntState(width int, order ByteOrder, got func(uint64) (State, error)) *FixedWidthIntState {
	if width != 2 && width != 4 && width != 8 {
		panic(fmt.Sprintf("codec: unsupported fixed-width int size %d", width))
	}
	return &FixedWidthIntState{Width: width, Order: order, Got: got}
}

func (s *FixedWidthIntState) Decode(in *buffer.Buffer, out *MessageSink) (State, error) {
	for s.filled < s.Width && in.HasRemaining() {
		b, err := in.Get()
		if err != nil {
			return nil, err
		}
		s.scratch[s.filled] = b
		s.filled++
	}
	if s.filled < s.Width {
		return s, nil
	}
	var v uint64
	switch s.Width {
	case 2:
		v = uint64(s.Order.Uint16(s.scratch[:2]))
	case 4:
		v = uint64(s.Order.Uint32(s.scratch[:4]))
	case 8:
		v = s.Order.Uint64(s.scratch[:8])
	}
	s.filled = 0
	return s.Got(v)
}

func (s *FixedWidthIntState) FinishDecode(out *MessageSink) (State, error) {
	return nil, fmt.Errorf("codec: unexpected end of session while waiting for a %d-byte integer", s.Width)
}

// FixedLengthState consumes exactly Length bytes and hands the assembled
// slice to Got. Bytes are accumulated in an internal buffer sized exactly
// Length, so partial reads across many Decode calls never over-allocate.
type FixedLengthState struct {
	Length int
	Got    func(data []byte) (State, error)

	acc []byte
}

func NewFixedLengthState(length int, got func([]byte) (State, error)) *FixedLengthState {
	return &FixedLengthState{Length: length, Got: got, acc: make([]byte, 0, length)}
}

func (s *FixedLengthState) Decode(in *buffer.Buffer, out *MessageSink) (State, error) {
	need := s.Length - len(s.acc)
	if need > 0 {
		chunk := make([]byte, need)
		n := in.GetN(chunk)
		s.acc = append(s.acc, chunk[:n]...)
	}
	if len(s.acc) < s.Length {
		return s, nil
	}
	data := s.acc
	s.acc = nil
	return s.Got(data)
}

func (s *FixedLengthState) FinishDecode(out *MessageSink) (State, error) {
	return nil, fmt.Errorf("codec: unexpected end of session while waiting for %d fixed bytes (%d received)", s.Length, len(s.acc))
}

// ConsumeUntilDelimiterState accumulates bytes until it sees delim, then
// hands the accumulated bytes (excluding the delimiter) to Got.
type ConsumeUntilDelimiterState struct {
	Delim byte
	Got   func(data []byte) (State, error)

	acc []byte
}

func NewConsumeUntilDelimiterState(delim byte, got func([]byte) (State, error)) *ConsumeUntilDelimiterState {
	return &ConsumeUntilDelimiterState{Delim: delim, Got: got}
}

func (s *ConsumeUntilDelimiterState) Decode(in *buffer.Buffer, out *MessageSink) (State, error) {
	for in.HasRemaining() {
		b, err := in.Get()
		if err != nil {
			return nil, err
		}
		if b == s.Delim {
			data := s.acc
			s.acc = nil
			return s.Got(data)
		}
		s.acc = append(s.acc, b)
	}
	return s, nil
}

func (s *ConsumeUntilDelimiterState) FinishDecode(out *MessageSink) (State, error) {
	return nil, fmt.Errorf("codec: unexpected end of session while waiting for delimiter %q (%d bytes buffered)", s.Delim, len(s.acc))
}
