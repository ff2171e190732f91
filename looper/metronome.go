package looper

import (
	"go-looper/midi"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Metronome is the click layer kept at the bottom of every composition.
type Metronome struct {
	Channel        uint8
	Key            uint8
	Velocity       uint8
	AccentVelocity uint8 // beat 0
}

// DefaultMetronome clicks the side stick on the GM drum channel.
var DefaultMetronome = Metronome{
	Channel:        9,
	Key:            37,
	Velocity:       80,
	AccentVelocity: 127,
}

// Events returns one NoteOn/NoteOff pair per beat of a measure with the
// given beat length and beat count.
func (m Metronome) Events(beatMillis, beats uint32) []midi.AbsEvent {
	events := make([]midi.AbsEvent, 0, 2*beats)
	for i := uint32(0); i < beats; i++ {
		velocity := m.Velocity
		if i == 0 {
			velocity = m.AccentVelocity
		}
		start := i * beatMillis
		events = append(events,
			midi.AbsEvent{Message: gomidi.NoteOn(m.Channel, m.Key, velocity), Timestamp: start},
			midi.AbsEvent{Message: gomidi.NoteOff(m.Channel, m.Key), Timestamp: start + 1},
		)
	}
	return events
}

func (l *Looper) makeMetronome() *Sample {
	return NewSample(l.metronome.Events(l.measure.BeatSizeMillis(), l.measure.MeasureSizeBPM), l.measure)
}
