package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/multierr"
)

// PortTracker forwards messages to an output port and keeps a held-note grid
// per channel and key.
type PortTracker struct {
	send  Sender
	notes [NumChannels][NumKeys]bool
}

func NewPortTracker(send Sender) *PortTracker {
	return &PortTracker{send: send}
}

// Feed sends msg. A note is marked held as soon as its NoteOn is seen, and
// only released once the matching NoteOff actually went out, so a failed
// NoteOff is retried by CloseOpenedNotes.
func (t *PortTracker) Feed(msg gomidi.Message) error {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteStart(&channel, &key, &velocity):
		t.notes[channel][key] = true
	case msg.GetNoteEnd(&channel, &key):
		if err := t.send(msg); err != nil {
			return fmt.Errorf("send %s: %w", msg, err)
		}
		t.notes[channel][key] = false
		return nil
	}

	if err := t.send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg, err)
	}
	return nil
}

// CloseOpenedNotes sends a NoteOff for every held note.
func (t *PortTracker) CloseOpenedNotes() error {
	var err error
	for channel := 0; channel < NumChannels; channel++ {
		for key := 0; key < NumKeys; key++ {
			if !t.notes[channel][key] {
				continue
			}
			msg := gomidi.NoteOff(uint8(channel), uint8(key))
			if sendErr := t.send(msg); sendErr != nil {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", msg, sendErr))
				continue
			}
			t.notes[channel][key] = false
		}
	}
	return err
}

// IsHeld reports whether a NoteOn on channel/key has not been closed yet.
func (t *PortTracker) IsHeld(channel, key uint8) bool {
	return t.notes[channel&0x0F][key&0x7F]
}

// HeldCount returns the number of notes currently held.
func (t *PortTracker) HeldCount() int {
	n := 0
	for channel := range t.notes {
		for key := range t.notes[channel] {
			if t.notes[channel][key] {
				n++
			}
		}
	}
	return n
}
