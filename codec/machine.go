package codec

import "github.com/blueblueblue/mina/buffer"

// StateMachine is the composite described in spec.md §4.5. It owns the
// current State exclusively, initializes it lazily via Init, and tracks
// child products: messages emitted by inner states that should not reach
// the outer caller directly, only via FinishDecode's own Got/Emit calls
// (e.g. an outer "framed message" state wrapping an inner "length-prefixed
// body" state that itself never needs to surface partial decodes).
type StateMachine struct {
	// Init builds the initial State. Called exactly once after
	// construction, or again after Destroy resets the machine.
	Init func() (State, error)

	// Destroy, if set, is called once per Init when the machine finishes
	// or errors, for resource cleanup (e.g. releasing pooled scratch
	// buffers). A failure here is logged by the caller and never masks
	// the primary decode error.
	Destroy func() error

	current       State
	initialized   bool
	childProducts *MessageSink
}

// NewStateMachine builds a StateMachine around the given state factory.
func NewStateMachine(init func() (State, error)) *StateMachine {
	return &StateMachine{Init: init, childProducts: NewMessageSink()}
}

// Decode drives the current state forward, consuming as much of in as the
// states allow and appending completed messages to out. It implements the
// three termination conditions from spec.md §4.5: state returned nil
// (machine complete, finishDecode runs and cleanup follows -- then, since
// a single buffer may carry more than one whole message back-to-back, a
// fresh Init starts immediately if bytes remain), input exhausted (return,
// state preserved for the next call), or no progress (return, to avoid an
// infinite loop on a state that insists on more input it isn't getting).
func (m *StateMachine) Decode(in *buffer.Buffer, out *MessageSink) error {
	for {
		if !m.initialized {
			if !in.HasRemaining() {
				return nil
			}
			state, err := m.Init()
			if err != nil {
				return err
			}
			m.current = state
			m.initialized = true
		}

		pos := in.Position()
		oldState := m.current

		next, err := m.current.Decode(in, m.childProducts)
		if err != nil {
			m.current = nil
			_ = m.cleanup()
			return err
		}
		m.current = next

		if m.current == nil {
			if err := m.finish(out); err != nil {
				return err
			}
			// finish's cleanup left the machine uninitialized; loop back
			// around to start a fresh message if the buffer has more.
			continue
		}
		if in.Position() == in.Limit() {
			return nil
		}
		if in.Position() == pos && m.current == oldState {
			// No progress and no state transition: further looping would
			// spin forever on the same unconsumed bytes.
			return nil
		}
	}
}

// FinishDecode is called when the surrounding session/stream ends (EOF)
// while this machine still has a current state. It delegates to the
// current state's FinishDecode, which for the primitive states fails with
// an unexpected-end-of-session error.
func (m *StateMachine) FinishDecode(out *MessageSink) error {
	if m.current == nil {
		return nil
	}
	next, err := m.current.FinishDecode(m.childProducts)
	if err != nil {
		m.current = nil
		_ = m.cleanup()
		return err
	}
	m.current = next
	return m.finish(out)
}

func (m *StateMachine) finish(out *MessageSink) error {
	if m.current != nil {
		// Not actually finished yet (FinishDecode produced a successor
		// state rather than nil); nothing more to flush.
		return nil
	}
	for _, msg := range m.childProducts.Messages() {
		out.Emit(msg)
	}
	return m.cleanup()
}

func (m *StateMachine) cleanup() error {
	m.childProducts.Reset()
	m.initialized = false
	m.current = nil
	if m.Destroy != nil {
		return m.Destroy()
	}
	return nil
}

// Satisfied reports whether the machine has produced a terminal nil state
// and has been cleaned up, i.e. is ready for a fresh Init on the next
// Decode call. Useful for tests asserting invariant 4 (destroy called
// exactly once per init).
func (m *StateMachine) Satisfied() bool {
	return !m.initialized
}
