package session

import "fmt"

// State is the connection lifecycle of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// CanTransition reports whether the lifecycle has an edge from s to next.
// Connected -> Disconnected is the link-lost edge that bypasses Disconnecting.
func (s State) CanTransition(next State) bool {
	switch s {
	case Disconnected:
		return next == Connecting
	case Connecting:
		return next == Connected || next == Disconnected
	case Connected:
		return next == Disconnecting || next == Disconnected
	case Disconnecting:
		return next == Disconnected
	default:
		return false
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func ParseState(text string) (State, error) {
	for s := Disconnected; s <= Disconnecting; s++ {
		if s.String() == text {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown session state %q", text)
}

func (s *State) UnmarshalText(text []byte) error {
	v, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
