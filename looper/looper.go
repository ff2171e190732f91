package looper

import (
	"errors"
	"fmt"
	"slices"

	"go-looper/measure"
	"go-looper/midi"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrInvalidTempo    = errors.New("invalid tempo")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// DefaultMeasure is 120 bpm, four beats per measure, sixteen quants per measure.
var DefaultMeasure = measure.Measure{
	TempoBPM:        120,
	MeasureSizeBPM:  4,
	QuantationLevel: 2,
}

// Looper owns the composition and drives it from a millisecond time cursor.
// It is not safe for concurrent use; sequencer.Manager serializes access.
type Looper struct {
	state State
	next  *State // applied on the next measure bar

	composition  []*Sample // layer 0 is the metronome
	recordBuffer []midi.AbsEvent

	tracker midi.NoteTracker

	timeCursor       uint32
	amountOfMeasures uint32 // lcm of every layer's length

	measure   measure.Measure
	metronome Metronome

	log *zap.Logger
}

// Option configures a Looper in New.
type Option func(*Looper)

func WithMeasure(m measure.Measure) Option {
	return func(l *Looper) {
		l.measure = m
	}
}

func WithMetronome(m Metronome) Option {
	return func(l *Looper) {
		l.metronome = m
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Looper) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a looper in Looping state holding only the metronome layer.
func New(tracker midi.NoteTracker, opts ...Option) (*Looper, error) {
	l := &Looper{
		state:            Looping,
		tracker:          tracker,
		amountOfMeasures: 1,
		measure:          DefaultMeasure,
		metronome:        DefaultMetronome,
		log:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.measure.Validate(); err != nil {
		return nil, err
	}
	if err := l.Reset(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reset drops every recorded layer and closes any sounding note. The time
// cursor keeps running.
func (l *Looper) Reset() error {
	l.state = Looping
	l.next = nil
	l.composition = []*Sample{l.makeMetronome()}
	l.recordBuffer = nil
	l.amountOfMeasures = 1

	l.log.Debug("reset", zap.Stringer("measure", l.measure))
	return l.tracker.CloseOpenedNotes()
}

// ToggleRecording starts recording immediately from Looping. While recording
// it only schedules the switch back to Looping for the next measure bar, where
// the take is committed.
func (l *Looper) ToggleRecording() {
	switch l.state {
	case Recording:
		next := Looping
		l.next = &next
	case Looping:
		l.state = Recording
		l.recordBuffer = l.recordBuffer[:0]
	}
	l.log.Debug("toggle recording", zap.Stringer("state", l.state), zap.Bool("pending", l.next != nil))
}

// TogglePause switches between Looping and Pause. Entering Pause closes held
// notes.
func (l *Looper) TogglePause() error {
	switch l.state {
	case Looping:
		l.state = Pause
		return l.tracker.CloseOpenedNotes()
	case Pause:
		l.state = Looping
	}
	return nil
}

// UndoLastRecording cancels the take in progress while recording, otherwise
// removes the newest layer. The metronome layer is never removed.
func (l *Looper) UndoLastRecording() error {
	if l.state == Recording {
		l.recordBuffer = l.recordBuffer[:0]
		return nil
	}

	if len(l.composition) <= 1 {
		return fault.Wrap(ErrNothingToUndo,
			fmsg.WithDesc("undo with only the metronome layer", "There is no recording to undo"),
			ftag.With(ftag.InvalidArgument))
	}

	l.composition = l.composition[:len(l.composition)-1]
	l.amountOfMeasures = compositionLength(l.composition)

	l.log.Debug("undo", zap.Int("layers", len(l.composition)), zap.Uint32("measures", l.amountOfMeasures))
	return l.tracker.CloseOpenedNotes()
}

// OnMIDIEvent records ev while recording and always passes it through to the
// tracker.
func (l *Looper) OnMIDIEvent(ev midi.AbsEvent) error {
	if l.state == Recording {
		l.recordBuffer = append(l.recordBuffer, ev)
	}
	return l.tracker.Feed(ev.Message)
}

// Update advances the time cursor by delta milliseconds. A crossed measure
// bar applies the pending state first, then every quant passed over is
// replayed on every layer in order. Feed failures are collected and returned;
// the cursor advances regardless so nothing is replayed twice.
func (l *Looper) Update(delta uint32) error {
	if l.state == Pause {
		return nil
	}

	currentBar := l.measure.TimestampToMeasure(l.timeCursor)
	currentQuant := l.measure.GridSlot(l.timeCursor)

	nextCursor := l.timeCursor + delta
	nextBar := l.measure.TimestampToMeasure(nextCursor)
	nextQuant := l.measure.GridSlot(nextCursor)

	// a layer committed on the bar only plays from the bar on
	layers := len(l.composition)
	barQuant := measure.Quant((currentBar + 1) * l.measure.QuantsPerMeasure())
	if currentBar < nextBar {
		l.onMeasureBar(currentBar + 1)
	}

	var err error
	for q := currentQuant + 1; q <= nextQuant; q++ {
		playing := l.composition
		if q < barQuant {
			playing = playing[:layers]
		}
		for _, sample := range playing {
			err = multierr.Append(err, sample.ReplayQuant(q, l.tracker))
		}
	}

	l.timeCursor = nextCursor
	return err
}

func (l *Looper) onMeasureBar(bar uint32) {
	if l.next == nil {
		return
	}
	l.state = *l.next
	l.next = nil

	if l.state != Looping {
		return
	}

	if len(l.recordBuffer) == 0 {
		l.log.Debug("empty take discarded")
		return
	}

	l.normalizeRecordBuffer()
	sample := NewSample(l.recordBuffer, l.measure)
	l.recordBuffer = nil

	l.amountOfMeasures = lcm(l.amountOfMeasures, sample.AmountOfMeasures())
	l.composition = append(l.composition, sample)

	l.log.Debug("committed layer",
		zap.Uint32("bar", bar),
		zap.Int("layer", len(l.composition)-1),
		zap.Int("events", sample.EventCount()),
		zap.Uint32("sampleMeasures", sample.AmountOfMeasures()),
		zap.Uint32("measures", l.amountOfMeasures))
}

func (l *Looper) normalizeRecordBuffer() {
	if len(l.recordBuffer) == 0 {
		return
	}
	t0 := l.recordBuffer[0].Timestamp
	for i := range l.recordBuffer {
		l.recordBuffer[i].Timestamp -= t0
	}
}

// UpdateTempoBPM switches to a new tempo. The cursor keeps its phase inside
// the composition cycle; absolute elapsed measures are not preserved.
func (l *Looper) UpdateTempoBPM(bpm uint32) error {
	next := l.measure.WithTempo(bpm)
	if err := next.Validate(); err != nil {
		return fault.Wrap(fmt.Errorf("%w: %d bpm: %w", ErrInvalidTempo, bpm, err),
			ftag.With(ftag.InvalidArgument))
	}

	oldCycle := uint64(l.amountOfMeasures) * uint64(l.measure.MeasureSizeMillis())
	newCycle := uint64(l.amountOfMeasures) * uint64(next.MeasureSizeMillis())
	phase := uint64(l.timeCursor) % oldCycle
	l.timeCursor = uint32(phase * newCycle / oldCycle)

	for _, sample := range l.composition {
		sample.UpdateMeasure(next)
	}

	l.log.Debug("tempo", zap.Uint32("from", l.measure.TempoBPM), zap.Uint32("to", bpm), zap.Uint32("cursor", l.timeCursor))
	l.measure = next
	return nil
}

func (l *Looper) State() State {
	return l.state
}

// NextState returns the transition waiting for the next measure bar.
func (l *Looper) NextState() (State, bool) {
	if l.next == nil {
		return 0, false
	}
	return *l.next, true
}

// Composition returns the layers in draw order. The samples are shared and
// must be treated as read-only.
func (l *Looper) Composition() []*Sample {
	return slices.Clone(l.composition)
}

func (l *Looper) TimeCursor() uint32 {
	return l.timeCursor
}

func (l *Looper) Measure() measure.Measure {
	return l.measure
}

func (l *Looper) AmountOfMeasures() uint32 {
	return l.amountOfMeasures
}

func (l *Looper) RecordBufferLen() int {
	return len(l.recordBuffer)
}

// MeasureIndex is the measure inside the composition cycle the cursor is on.
func (l *Looper) MeasureIndex() uint32 {
	return l.measure.TimestampToMeasure(l.timeCursor) % l.amountOfMeasures
}

// CyclePosition is the cursor's offset in milliseconds inside the
// composition cycle.
func (l *Looper) CyclePosition() uint32 {
	cycle := uint64(l.amountOfMeasures) * uint64(l.measure.MeasureSizeMillis())
	return uint32(uint64(l.timeCursor) % cycle)
}

// CurrentQuant is the grid slot the time cursor is in.
func (l *Looper) CurrentQuant() measure.Quant {
	return l.measure.GridSlot(l.timeCursor)
}

func compositionLength(composition []*Sample) uint32 {
	n := uint32(1)
	for _, sample := range composition {
		n = lcm(n, sample.AmountOfMeasures())
	}
	return n
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b uint32) uint32 {
	return a / gcd(a, b) * b
}
