package looper

import (
	"errors"
	"testing"

	"go-looper/measure"
	"go-looper/midi"

	"github.com/Southclaws/fault/ftag"
	gomidi "gitlab.com/gomidi/midi/v2"
)

type fakeTracker struct {
	fed    []gomidi.Message
	closes int
	fail   error
}

func (f *fakeTracker) Feed(msg gomidi.Message) error {
	if f.fail != nil {
		return f.fail
	}
	f.fed = append(f.fed, msg)
	return nil
}

func (f *fakeTracker) CloseOpenedNotes() error {
	f.closes++
	return f.fail
}

// controls returns the values of every CC 20 fed, in order.
func (f *fakeTracker) controls() []uint8 {
	var out []uint8
	for _, msg := range f.fed {
		var ch, cc, val uint8
		if msg.GetControlChange(&ch, &cc, &val) && cc == 20 {
			out = append(out, val)
		}
	}
	return out
}

func newTestLooper(t *testing.T, tracker midi.NoteTracker) *Looper {
	t.Helper()
	l, err := New(tracker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

// advanceToBar moves the cursor exactly onto the next measure line.
func advanceToBar(t *testing.T, l *Looper) {
	t.Helper()
	size := l.Measure().MeasureSizeMillis()
	next := (l.TimeCursor()/size + 1) * size
	if err := l.Update(next - l.TimeCursor()); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

// take plays events into a new take and asks for it to be committed.
func take(t *testing.T, l *Looper, events []midi.AbsEvent) {
	t.Helper()
	l.ToggleRecording()
	for _, ev := range events {
		if err := l.OnMIDIEvent(ev); err != nil {
			t.Fatalf("OnMIDIEvent: %v", err)
		}
	}
	l.ToggleRecording()
}

// record takes events and commits them on the next measure line.
func record(t *testing.T, l *Looper, events []midi.AbsEvent) {
	t.Helper()
	take(t, l, events)
	advanceToBar(t, l)
}

// ccRamp is one CC 20 per quant for the given number of quants, valued by
// index, at the default 125ms grid starting at offset.
func ccRamp(offset uint32, quants int) []midi.AbsEvent {
	events := make([]midi.AbsEvent, 0, quants)
	for i := 0; i < quants; i++ {
		events = append(events, midi.AbsEvent{
			Message:   gomidi.ControlChange(0, 20, uint8(i)),
			Timestamp: offset + uint32(i)*125,
		})
	}
	return events
}

func TestNewHoldsOnlyMetronome(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)

	if l.State() != Looping {
		t.Fatalf("state = %v, want looping", l.State())
	}
	comp := l.Composition()
	if len(comp) != 1 {
		t.Fatalf("composition has %d layers, want 1", len(comp))
	}
	if l.AmountOfMeasures() != 1 {
		t.Fatalf("AmountOfMeasures = %d, want 1", l.AmountOfMeasures())
	}

	click := comp[0]
	if click.AmountOfMeasures() != 1 {
		t.Errorf("metronome spans %d measures", click.AmountOfMeasures())
	}
	wantQuants := []measure.Quant{0, 4, 8, 12}
	got := click.Quants()
	if len(got) != len(wantQuants) {
		t.Fatalf("metronome quants = %v, want %v", got, wantQuants)
	}
	for i, q := range wantQuants {
		if got[i] != q {
			t.Fatalf("metronome quants = %v, want %v", got, wantQuants)
		}
	}

	var ch, key, vel uint8
	if !click.MessagesAt(0)[0].GetNoteOn(&ch, &key, &vel) || vel != DefaultMetronome.AccentVelocity {
		t.Errorf("beat 0 = %s, want accented NoteOn", click.MessagesAt(0)[0])
	}
	if !click.MessagesAt(4)[0].GetNoteOn(&ch, &key, &vel) || vel != DefaultMetronome.Velocity {
		t.Errorf("beat 1 = %s, want plain NoteOn", click.MessagesAt(4)[0])
	}
	if tracker.closes != 1 {
		t.Errorf("CloseOpenedNotes called %d times on New, want 1", tracker.closes)
	}
}

func TestNewRejectsInvalidMeasure(t *testing.T) {
	_, err := New(midi.Discard, WithMeasure(measure.Measure{TempoBPM: 0, MeasureSizeBPM: 4}))
	if !errors.Is(err, measure.ErrInvalidMeasure) {
		t.Fatalf("New = %v, want ErrInvalidMeasure", err)
	}
}

func TestMetronomeOnCoarseGridStaysOneMeasure(t *testing.T) {
	l, err := New(midi.Discard, WithMeasure(measure.Measure{TempoBPM: 120, MeasureSizeBPM: 4, QuantationLevel: 0}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	click := l.Composition()[0]
	if click.AmountOfMeasures() != 1 || click.EventCount() != 8 {
		t.Fatalf("metronome = %d measures, %d events; want 1, 8", click.AmountOfMeasures(), click.EventCount())
	}
}

func TestToggleRecordingDefersToMeasureBar(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})

	l.ToggleRecording()
	if l.State() != Recording {
		t.Fatalf("state = %v, want recording immediately", l.State())
	}

	l.OnMIDIEvent(midi.AbsEvent{Message: gomidi.NoteOn(0, 60, 100), Timestamp: 300})
	l.OnMIDIEvent(midi.AbsEvent{Message: gomidi.NoteOff(0, 60), Timestamp: 800})
	l.ToggleRecording()

	if l.State() != Recording {
		t.Fatalf("state = %v, want recording until the bar", l.State())
	}
	if next, ok := l.NextState(); !ok || next != Looping {
		t.Fatalf("NextState = %v, %v; want looping", next, ok)
	}

	l.Update(1999)
	if l.State() != Recording || len(l.Composition()) != 1 {
		t.Fatalf("committed before the measure line")
	}

	l.Update(1)
	if l.State() != Looping {
		t.Fatalf("state = %v after the bar, want looping", l.State())
	}
	if _, ok := l.NextState(); ok {
		t.Errorf("pending state not cleared")
	}
	if l.RecordBufferLen() != 0 {
		t.Errorf("record buffer holds %d events after commit", l.RecordBufferLen())
	}

	comp := l.Composition()
	if len(comp) != 2 {
		t.Fatalf("composition has %d layers, want 2", len(comp))
	}
	layer := comp[1]
	if q := layer.Quants(); len(q) != 2 || q[0] != 0 || q[1] != 4 {
		t.Errorf("layer quants = %v, want [q0 q4]", q)
	}
}

func TestCommitExtendsCompositionByLCM(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})

	// a take spanning 2.5 measures rounds up to 3
	record(t, l, ccRamp(0, 40))
	if got := l.Composition()[1].AmountOfMeasures(); got != 3 {
		t.Fatalf("layer spans %d measures, want 3", got)
	}
	if l.AmountOfMeasures() != 3 {
		t.Fatalf("AmountOfMeasures = %d, want 3", l.AmountOfMeasures())
	}

	record(t, l, ccRamp(0, 20))
	if l.AmountOfMeasures() != 6 {
		t.Fatalf("AmountOfMeasures = %d, want lcm(3, 2) = 6", l.AmountOfMeasures())
	}

	record(t, l, ccRamp(0, 3))
	if l.AmountOfMeasures() != 6 {
		t.Fatalf("AmountOfMeasures = %d, want 6 after one-measure layer", l.AmountOfMeasures())
	}

	if err := l.UndoLastRecording(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if err := l.UndoLastRecording(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if l.AmountOfMeasures() != 3 {
		t.Fatalf("AmountOfMeasures = %d after undo, want 3", l.AmountOfMeasures())
	}
}

func TestCommitNormalizesFirstEvent(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	record(t, l, ccRamp(7000, 4))

	layer := l.Composition()[1]
	if q := layer.Quants(); q[0] != 0 {
		t.Fatalf("first event at %v, want q0", q[0])
	}
	if layer.AmountOfMeasures() != 1 {
		t.Fatalf("layer spans %d measures, want 1", layer.AmountOfMeasures())
	}
}

func TestEmptyTakeIsNotCommitted(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	record(t, l, nil)

	if len(l.Composition()) != 1 {
		t.Fatalf("empty take committed a layer")
	}
	if l.State() != Looping {
		t.Fatalf("state = %v, want looping", l.State())
	}
}

func TestCommittedLayerFollowsGlobalCursor(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)

	// move to bar 4 first so the layer length does not divide the cursor
	l.Update(4 * 2000)
	take(t, l, ccRamp(0, 40))
	tracker.fed = nil
	advanceToBar(t, l)
	if l.TimeCursor() != 5*2000 {
		t.Fatalf("cursor = %d, want bar 5", l.TimeCursor())
	}
	// a 3 measure layer plays global quant 80 as its quant 80 mod 48
	if got := tracker.controls(); len(got) != 1 || got[0] != 32 {
		t.Fatalf("on the commit bar fed %v, want [32]", got)
	}

	tracker.fed = nil
	l.Update(3 * 125)
	if got := tracker.controls(); len(got) != 3 || got[0] != 33 || got[2] != 35 {
		t.Fatalf("fed %v, want [33 34 35]", got)
	}
}

func TestTakeEndingOnBarLineStaysOneMeasure(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)

	// the NoteOff falls in the last half quant and rounds onto the bar line
	take(t, l, []midi.AbsEvent{
		{Message: gomidi.NoteOn(1, 48, 100), Timestamp: 300},
		{Message: gomidi.NoteOff(1, 48), Timestamp: 2290},
	})
	tracker.fed = nil
	advanceToBar(t, l)

	layer := l.Composition()[1]
	if layer.AmountOfMeasures() != 1 || l.AmountOfMeasures() != 1 {
		t.Fatalf("layer %d measures, composition %d; want 1, 1", layer.AmountOfMeasures(), l.AmountOfMeasures())
	}

	// on the commit bar the wrapped NoteOff goes out before the NoteOn
	var layerMsgs []string
	for _, msg := range tracker.fed {
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel) && ch == 1:
			layerMsgs = append(layerMsgs, "on")
		case msg.GetNoteEnd(&ch, &key) && ch == 1:
			layerMsgs = append(layerMsgs, "off")
		}
	}
	if len(layerMsgs) != 2 || layerMsgs[0] != "off" || layerMsgs[1] != "on" {
		t.Fatalf("layer fed %v on q0, want [off on]", layerMsgs)
	}
}

func TestFourBarTakeDoesNotGrowToFive(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	record(t, l, []midi.AbsEvent{
		{Message: gomidi.NoteOn(0, 60, 100), Timestamp: 0},
		{Message: gomidi.NoteOff(0, 60), Timestamp: 7990},
	})
	if l.AmountOfMeasures() != 4 {
		t.Fatalf("AmountOfMeasures = %d, want 4", l.AmountOfMeasures())
	}

	record(t, l, ccRamp(0, 20))
	if l.AmountOfMeasures() != 4 {
		t.Fatalf("AmountOfMeasures = %d, want lcm(4, 2) = 4", l.AmountOfMeasures())
	}
}

func TestSingleEventTakeIsOneMeasure(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	record(t, l, ccRamp(900, 1))

	layer := l.Composition()[1]
	if layer.AmountOfMeasures() != 1 {
		t.Fatalf("layer spans %d measures, want 1", layer.AmountOfMeasures())
	}
	if q := layer.Quants(); len(q) != 1 || q[0] != 0 {
		t.Fatalf("quants = %v, want [q0]", q)
	}
}

func TestUpdateCatchesUpEveryQuant(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)
	record(t, l, ccRamp(0, 16))
	tracker.fed = nil

	if err := l.Update(5 * 125); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := []uint8{1, 2, 3, 4, 5}
	got := tracker.controls()
	if len(got) != len(want) {
		t.Fatalf("fed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fed %v, want %v", got, want)
		}
	}

	// a stall of three measures replays every quant of it
	tracker.fed = nil
	l.Update(3 * 2000)
	if got := len(tracker.controls()); got != 48 {
		t.Fatalf("fed %d controls over three measures, want 48", got)
	}
	clicks := 0
	for _, msg := range tracker.fed {
		var ch, key, vel uint8
		if msg.GetNoteStart(&ch, &key, &vel) {
			clicks++
		}
	}
	if clicks != 12 {
		t.Fatalf("fed %d clicks over three measures, want 12", clicks)
	}
}

func TestUndoKeepsMetronome(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)
	closes := tracker.closes

	err := l.UndoLastRecording()
	if !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("undo = %v, want ErrNothingToUndo", err)
	}
	if ftag.Get(err) != ftag.InvalidArgument {
		t.Errorf("undo tag = %v, want InvalidArgument", ftag.Get(err))
	}
	if len(l.Composition()) != 1 || l.AmountOfMeasures() != 1 {
		t.Fatalf("undo changed the composition")
	}
	if tracker.closes != closes {
		t.Errorf("failed undo closed notes")
	}

	record(t, l, ccRamp(0, 4))
	if err := l.UndoLastRecording(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(l.Composition()) != 1 {
		t.Fatalf("composition has %d layers, want 1", len(l.Composition()))
	}
	if tracker.closes != closes+1 {
		t.Errorf("undo did not close notes")
	}
}

func TestUndoWhileRecordingCancelsTake(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	record(t, l, ccRamp(0, 4))

	l.ToggleRecording()
	l.OnMIDIEvent(midi.AbsEvent{Message: gomidi.NoteOn(0, 60, 100)})
	if err := l.UndoLastRecording(); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if l.State() != Recording {
		t.Errorf("state = %v, want still recording", l.State())
	}
	if l.RecordBufferLen() != 0 {
		t.Errorf("take not discarded")
	}
	if len(l.Composition()) != 2 {
		t.Errorf("undo while recording removed a layer")
	}
}

func TestPauseLeavesNoNoteHeld(t *testing.T) {
	var sent []gomidi.Message
	port := midi.NewPortTracker(func(msg gomidi.Message) error {
		sent = append(sent, msg)
		return nil
	})
	l := newTestLooper(t, port)

	// one note held for most of the measure
	record(t, l, []midi.AbsEvent{
		{Message: gomidi.NoteOn(1, 48, 100), Timestamp: 0},
		{Message: gomidi.NoteOff(1, 48), Timestamp: 1750},
	})
	l.Update(500)
	if !port.IsHeld(1, 48) {
		t.Fatalf("layer note not sounding")
	}

	if err := l.TogglePause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if l.State() != Pause {
		t.Fatalf("state = %v, want pause", l.State())
	}
	if port.HeldCount() != 0 {
		t.Fatalf("%d notes held after pause", port.HeldCount())
	}

	cursor := l.TimeCursor()
	n := len(sent)
	l.Update(10000)
	if l.TimeCursor() != cursor || len(sent) != n {
		t.Fatalf("paused looper advanced")
	}

	l.ToggleRecording()
	if l.State() != Pause {
		t.Fatalf("ToggleRecording left pause")
	}

	l.TogglePause()
	l.Update(4000)
	if l.State() != Looping {
		t.Fatalf("state = %v, want looping", l.State())
	}

	if err := l.TogglePause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if port.HeldCount() != 0 {
		t.Fatalf("%d notes held after second pause", port.HeldCount())
	}
}

func TestTogglePauseIgnoredWhileRecording(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	l.ToggleRecording()
	l.TogglePause()
	if l.State() != Recording {
		t.Fatalf("state = %v, want recording", l.State())
	}
}

func TestOnMIDIEventPassesThrough(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)

	ev := midi.AbsEvent{Message: gomidi.NoteOn(0, 60, 100)}
	l.OnMIDIEvent(ev)
	if len(tracker.fed) != 1 || l.RecordBufferLen() != 0 {
		t.Fatalf("looping: fed %d, buffered %d; want 1, 0", len(tracker.fed), l.RecordBufferLen())
	}

	l.ToggleRecording()
	l.OnMIDIEvent(ev)
	if len(tracker.fed) != 2 || l.RecordBufferLen() != 1 {
		t.Fatalf("recording: fed %d, buffered %d; want 2, 1", len(tracker.fed), l.RecordBufferLen())
	}
}

func TestFeedErrorsPropagate(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)
	tracker.fail = errors.New("port gone")

	if err := l.OnMIDIEvent(midi.AbsEvent{Message: gomidi.NoteOn(0, 60, 100)}); !errors.Is(err, tracker.fail) {
		t.Fatalf("OnMIDIEvent = %v, want port error", err)
	}

	// beat 1 of the metronome is due
	err := l.Update(600)
	if !errors.Is(err, tracker.fail) {
		t.Fatalf("Update = %v, want port error", err)
	}
	if l.TimeCursor() != 600 {
		t.Fatalf("cursor = %d, want 600 even on error", l.TimeCursor())
	}
}

func TestUpdateTempoRescalesCursorPhase(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	record(t, l, ccRamp(0, 4))
	l.Update(500)
	if l.TimeCursor() != 2500 {
		t.Fatalf("cursor = %d, want 2500", l.TimeCursor())
	}

	if err := l.UpdateTempoBPM(160); err != nil {
		t.Fatalf("UpdateTempoBPM: %v", err)
	}
	// 500ms into a 2000ms cycle is a quarter, a quarter of 1500ms is 375
	if l.TimeCursor() != 375 {
		t.Fatalf("cursor = %d, want 375", l.TimeCursor())
	}
	if l.Measure().TempoBPM != 160 {
		t.Fatalf("tempo = %d", l.Measure().TempoBPM)
	}
	for i, s := range l.Composition() {
		if s.Measure().TempoBPM != 160 {
			t.Errorf("layer %d still at %d bpm", i, s.Measure().TempoBPM)
		}
		if s.LengthMillis() != s.AmountOfMeasures()*1500 {
			t.Errorf("layer %d is %dms long", i, s.LengthMillis())
		}
	}
	if q := l.Composition()[1].Quants(); len(q) != 4 || q[3] != 3 {
		t.Errorf("tempo change moved events: %v", q)
	}
}

func TestUpdateTempoRejectsZero(t *testing.T) {
	l := newTestLooper(t, &fakeTracker{})
	l.Update(700)

	err := l.UpdateTempoBPM(0)
	if !errors.Is(err, ErrInvalidTempo) {
		t.Fatalf("UpdateTempoBPM(0) = %v, want ErrInvalidTempo", err)
	}
	if ftag.Get(err) != ftag.InvalidArgument {
		t.Errorf("tag = %v, want InvalidArgument", ftag.Get(err))
	}
	if l.Measure().TempoBPM != 120 || l.TimeCursor() != 700 {
		t.Fatalf("failed tempo change modified the looper")
	}
}

func TestResetClearsComposition(t *testing.T) {
	tracker := &fakeTracker{}
	l := newTestLooper(t, tracker)
	record(t, l, ccRamp(0, 40))
	l.ToggleRecording()
	l.OnMIDIEvent(midi.AbsEvent{Message: gomidi.NoteOn(0, 60, 100)})

	cursor := l.TimeCursor()
	closes := tracker.closes
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if len(l.Composition()) != 1 || l.AmountOfMeasures() != 1 {
		t.Fatalf("Reset left %d layers over %d measures", len(l.Composition()), l.AmountOfMeasures())
	}
	if l.State() != Looping || l.RecordBufferLen() != 0 {
		t.Fatalf("Reset left state %v with %d buffered", l.State(), l.RecordBufferLen())
	}
	if _, ok := l.NextState(); ok {
		t.Fatalf("Reset kept a pending state")
	}
	if tracker.closes != closes+1 {
		t.Errorf("Reset did not close notes")
	}
	if l.TimeCursor() != cursor {
		t.Errorf("Reset moved the cursor")
	}
}

func TestLCM(t *testing.T) {
	tests := []struct{ a, b, want uint32 }{
		{1, 1, 1},
		{1, 3, 3},
		{4, 6, 12},
		{6, 3, 6},
		{7, 5, 35},
	}
	for _, tt := range tests {
		if got := lcm(tt.a, tt.b); got != tt.want {
			t.Errorf("lcm(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
