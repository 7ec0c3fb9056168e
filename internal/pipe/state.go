package pipe

import "sync/atomic"

type State int32

const (
	StateResolving State = iota
	StateBridging
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateBridging:
		return "bridging"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateMachine only allows Resolving -> Bridging, Resolving -> Closed and
// Bridging -> Closed. Every transition is a compare-and-swap, so exactly one
// caller wins the move into Closed.
type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

func (m *stateMachine) transition(from, to State) bool {
	if !validTransition(from, to) {
		return false
	}
	return m.v.CompareAndSwap(int32(from), int32(to))
}

// close moves any live state to Closed and reports the state it left.
func (m *stateMachine) close() (State, bool) {
	for {
		cur := m.load()
		if cur == StateClosed {
			return cur, false
		}
		if m.v.CompareAndSwap(int32(cur), int32(StateClosed)) {
			return cur, true
		}
	}
}

func validTransition(from, to State) bool {
	switch from {
	case StateResolving:
		return to == StateBridging || to == StateClosed
	case StateBridging:
		return to == StateClosed
	default:
		return false
	}
}
