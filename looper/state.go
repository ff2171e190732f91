package looper

import "fmt"

// State is the looper's playback state
type State int

const (
	Looping State = iota
	Recording
	Pause
)

func (s State) String() string {
	switch s {
	case Looping:
		return "looping"
	case Recording:
		return "recording"
	case Pause:
		return "pause"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Looping, Recording, Pause:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("unknown state %d", int(s))
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "looping":
		*s = Looping
	case "recording":
		*s = Recording
	case "pause":
		*s = Pause
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}
