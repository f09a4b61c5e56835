package serial

// State represents the lifecycle state of a connection
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateError
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Live reports whether a connection in this state still holds its port
func (s State) Live() bool {
	return s != StateClosed
}
