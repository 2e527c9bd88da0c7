package filter

import (
	"github.com/blueblueblue/mina/buffer"
	"github.com/blueblueblue/mina/codec"
	"github.com/blueblueblue/mina/wqueue"
)

// decoding is satisfied by session.Session; kept optional (rather than
// widened onto filter.Session) for the same reason as correlated in
// logging.go -- test fakes that don't attach a decoder still compile.
type decoding interface {
	Decoder() *codec.StateMachine
}

// CodecFilter gives the ProtocolDecoder/ProtocolEncoder SPI of spec.md §6
// a representative type in the chain, rather than leaving decode as pure
// plumbing private to selector.Processor. Outbound, this is the
// production path: Encode turns an application message into wire-ready
// bytes (a *buffer.Buffer or []byte) before the chain's tail wraps it in
// a wqueue.Request, the symmetric half of encodeRaw's "earlier filter
// already encoded this" contract, and SetFilters is how a caller attaches
// one. Inbound, selector.Processor still drives the same
// codec.StateMachine directly rather than through this filter's
// MessageReceived -- a decode error must enqueue the session for close,
// and only the Processor holds both the close queue and the shared read
// buffer being decoded out of, so ownership of that call stays there.
// MessageReceived is kept as the decode-dispatch logic factored out for
// any NextFilter-driven pipeline that isn't subject to that constraint
// (see codec_test.go), and because both directions belong on one SPI
// type even though only one of them sits on selector.Processor's hot
// path today.
type CodecFilter struct {
	Adapter
	Encode func(s Session, msg interface{}) (interface{}, error)
}

func (f *CodecFilter) MessageReceived(next NextFilter, s Session, msg interface{}) {
	in, ok := msg.(*buffer.Buffer)
	if !ok {
		next.MessageReceived(s, msg)
		return
	}
	ds, ok := s.(decoding)
	if !ok {
		next.MessageReceived(s, msg)
		return
	}
	dec := ds.Decoder()
	if dec == nil {
		next.MessageReceived(s, msg)
		return
	}
	sink := codec.NewMessageSink()
	if err := dec.Decode(in, sink); err != nil {
		next.ExceptionCaught(s, err)
		return
	}
	for _, decoded := range sink.Messages() {
		next.MessageReceived(s, decoded)
	}
}

func (f *CodecFilter) FilterWrite(next NextFilter, s Session, msg interface{}) (*wqueue.Request, error) {
	if f.Encode == nil {
		return next.FilterWrite(s, msg)
	}
	encoded, err := f.Encode(s, msg)
	if err != nil {
		return nil, err
	}
	return next.FilterWrite(s, encoded)
}
