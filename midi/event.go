package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

const (
	NumChannels = 16
	NumKeys     = 128
)

// AbsEvent is a message stamped with milliseconds since the recording clock
// started.
type AbsEvent struct {
	Message   gomidi.Message
	Timestamp uint32
}

// NoteTracker delivers messages outward and remembers which notes are held so
// they can be force-closed. Implementations must not call back into the
// looper.
type NoteTracker interface {
	Feed(msg gomidi.Message) error
	CloseOpenedNotes() error
}

// Sender writes a single message to an output port.
type Sender func(msg gomidi.Message) error

// Discard accepts and drops everything. Useful when a looper only needs to be
// inspected or exported.
var Discard NoteTracker = discard{}

type discard struct{}

func (discard) Feed(gomidi.Message) error { return nil }
func (discard) CloseOpenedNotes() error   { return nil }
