package bridge

// State is a Manager lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Failed || s == Closed
}
