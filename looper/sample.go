package looper

import (
	"slices"

	"go-looper/measure"
	"go-looper/midi"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/multierr"
)

// Sample is one committed, quantized recording layer. Its events never change
// after construction; only the measure pacing it can be swapped on a tempo
// change.
type Sample struct {
	events map[measure.Quant][]gomidi.Message
	quants []measure.Quant // sorted keys of events

	amountOfMeasures uint32
	lengthQuants     uint32

	measure measure.Measure
}

// NewSample quantizes events onto the grid of m. The sample is the recorded
// span rounded up to whole measures, at least one. An event that rounds onto
// the end of the sample wraps to quant 0, ahead of the events recorded there:
// it closes the cycle before the next one starts.
func NewSample(events []midi.AbsEvent, m measure.Measure) *Sample {
	s := &Sample{
		events:  make(map[measure.Quant][]gomidi.Message),
		measure: m,
	}

	var span uint32
	for _, ev := range events {
		span = max(span, ev.Timestamp)
	}
	s.amountOfMeasures = measuresCovering(span, m)
	s.lengthQuants = s.amountOfMeasures * m.QuantsPerMeasure()

	length := measure.Quant(s.lengthQuants)
	for _, wrapped := range []bool{true, false} {
		for _, ev := range events {
			q := m.GridQuant(ev.Timestamp)
			if (q >= length) != wrapped {
				continue
			}
			q %= length
			s.events[q] = append(s.events[q], append(gomidi.Message(nil), ev.Message...))
		}
	}

	s.index()
	return s
}

// measuresCovering is ceil(span / measure length), at least 1.
func measuresCovering(span uint32, m measure.Measure) uint32 {
	size := uint64(m.MeasureSizeMillis())
	n := (uint64(span) + size - 1) / size
	return uint32(max(n, 1))
}

func (s *Sample) index() {
	s.quants = s.quants[:0]
	for q := range s.events {
		s.quants = append(s.quants, q)
	}
	slices.Sort(s.quants)
}

// local maps a global quant to the sample's own quant index.
func (s *Sample) local(q measure.Quant) measure.Quant {
	return q % measure.Quant(s.lengthQuants)
}

// ReplayQuant feeds every message scheduled at global quant q, wrapped to the
// sample's length, in recorded order. All messages are attempted even if one
// fails so a NoteOff is not lost behind a failed NoteOn.
func (s *Sample) ReplayQuant(q measure.Quant, tracker midi.NoteTracker) error {
	var err error
	for _, msg := range s.events[s.local(q)] {
		err = multierr.Append(err, tracker.Feed(msg))
	}
	return err
}

// UpdateMeasure re-paces the sample to m. Event-to-quant assignment is kept.
func (s *Sample) UpdateMeasure(m measure.Measure) {
	s.measure = m
}

func (s *Sample) AmountOfMeasures() uint32 {
	return s.amountOfMeasures
}

func (s *Sample) LengthQuants() uint32 {
	return s.lengthQuants
}

func (s *Sample) LengthMillis() uint32 {
	return s.amountOfMeasures * s.measure.MeasureSizeMillis()
}

func (s *Sample) Measure() measure.Measure {
	return s.measure
}

// Quants returns the sample-local quants that carry events, ascending.
func (s *Sample) Quants() []measure.Quant {
	return slices.Clone(s.quants)
}

// MessagesAt returns the messages at sample-local quant q. The slice must not
// be modified.
func (s *Sample) MessagesAt(q measure.Quant) []gomidi.Message {
	return s.events[q]
}

// LocalQuant maps a global quant onto the sample, for renderers.
func (s *Sample) LocalQuant(q measure.Quant) measure.Quant {
	return s.local(q)
}

// EventCount is the total number of messages in the sample.
func (s *Sample) EventCount() int {
	n := 0
	for _, msgs := range s.events {
		n += len(msgs)
	}
	return n
}
