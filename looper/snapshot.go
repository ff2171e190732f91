package looper

import (
	"fmt"

	"go-looper/measure"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Snapshot is everything needed to resume playback after a reload.
type Snapshot struct {
	Measure     measure.Measure  `json:"measure"`
	State       State            `json:"state"`
	TimeCursor  uint32           `json:"timeCursor"`
	Composition []SampleSnapshot `json:"composition"`
}

type SampleSnapshot struct {
	AmountOfMeasures uint32        `json:"amountOfMeasures"`
	Events           []QuantEvents `json:"events"`
}

// QuantEvents holds the raw messages at one sample-local quant.
type QuantEvents struct {
	Quant    measure.Quant `json:"quant"`
	Messages [][]byte      `json:"messages"`
}

// Snapshot captures the composition. A take in progress is not included and
// Recording is stored as Looping.
func (l *Looper) Snapshot() Snapshot {
	state := l.state
	if state == Recording {
		state = Looping
	}

	snap := Snapshot{
		Measure:     l.measure,
		State:       state,
		TimeCursor:  l.timeCursor,
		Composition: make([]SampleSnapshot, 0, len(l.composition)),
	}
	for _, s := range l.composition {
		snap.Composition = append(snap.Composition, s.snapshot())
	}
	return snap
}

func (s *Sample) snapshot() SampleSnapshot {
	out := SampleSnapshot{
		AmountOfMeasures: s.amountOfMeasures,
		Events:           make([]QuantEvents, 0, len(s.quants)),
	}
	for _, q := range s.quants {
		qe := QuantEvents{Quant: q}
		for _, msg := range s.events[q] {
			qe.Messages = append(qe.Messages, append([]byte(nil), msg...))
		}
		out.Events = append(out.Events, qe)
	}
	return out
}

// Restore replaces the looper's state with snap. On error nothing changes.
func (l *Looper) Restore(snap Snapshot) error {
	if err := snap.Measure.Validate(); err != nil {
		return err
	}
	if len(snap.Composition) == 0 {
		return invalidSnapshot("composition is empty")
	}
	if snap.State == Recording {
		return invalidSnapshot("cannot restore into recording")
	}

	composition := make([]*Sample, 0, len(snap.Composition))
	for i, ss := range snap.Composition {
		s, err := restoreSample(ss, snap.Measure)
		if err != nil {
			return fault.Wrap(err, fmsg.With(fmt.Sprintf("restore layer %d", i)))
		}
		composition = append(composition, s)
	}

	l.measure = snap.Measure
	l.state = snap.State
	l.next = nil
	l.timeCursor = snap.TimeCursor
	l.composition = composition
	l.recordBuffer = nil
	l.amountOfMeasures = compositionLength(composition)

	return l.tracker.CloseOpenedNotes()
}

func restoreSample(ss SampleSnapshot, m measure.Measure) (*Sample, error) {
	if ss.AmountOfMeasures == 0 {
		return nil, invalidSnapshot("layer has no length")
	}
	s := &Sample{
		events:           make(map[measure.Quant][]gomidi.Message, len(ss.Events)),
		amountOfMeasures: ss.AmountOfMeasures,
		lengthQuants:     ss.AmountOfMeasures * m.QuantsPerMeasure(),
		measure:          m,
	}
	for _, qe := range ss.Events {
		if uint32(qe.Quant) >= s.lengthQuants {
			return nil, invalidSnapshot(fmt.Sprintf("event at %v outside %d quants", qe.Quant, s.lengthQuants))
		}
		for _, raw := range qe.Messages {
			if len(raw) == 0 {
				return nil, invalidSnapshot(fmt.Sprintf("empty message at %v", qe.Quant))
			}
			s.events[qe.Quant] = append(s.events[qe.Quant], gomidi.Message(append([]byte(nil), raw...)))
		}
	}
	s.index()
	return s, nil
}

func invalidSnapshot(desc string) error {
	return fault.Wrap(fmt.Errorf("%w: %s", ErrInvalidSnapshot, desc), ftag.With(ftag.InvalidArgument))
}
