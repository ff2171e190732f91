package looper

import (
	"fmt"
	"io"

	"go-looper/measure"
	"go-looper/midi"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// TicksPerBeat is the resolution of exported files.
const TicksPerBeat = 960

// ExportSMF writes loops passes of the composition cycle as a type 1 MIDI
// file: a tempo track followed by one track per layer, starting at global
// quant 0. Notes still held at the end are closed.
func (l *Looper) ExportSMF(w io.Writer, loops uint32) error {
	if loops == 0 {
		return fault.Wrap(fmt.Errorf("export of zero loops"), ftag.With(ftag.InvalidArgument))
	}

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(TicksPerBeat)

	var meta smf.Track
	meta.Add(0, smf.MetaMeter(uint8(l.measure.MeasureSizeBPM), 4))
	meta.Add(0, smf.MetaTempo(float64(l.measure.TempoBPM)))
	meta.Close(0)
	if err := sm.Add(meta); err != nil {
		return fault.Wrap(err, fmsg.With("add tempo track"))
	}

	quants := measure.Quant(loops * l.amountOfMeasures * l.measure.QuantsPerMeasure())
	for i, s := range l.composition {
		track, err := l.exportSample(s, layerName(i), quants)
		if err != nil {
			return fault.Wrap(err, fmsg.With(fmt.Sprintf("export layer %d", i)))
		}
		if err := sm.Add(track); err != nil {
			return fault.Wrap(err, fmsg.With(fmt.Sprintf("add layer %d", i)))
		}
	}

	if _, err := sm.WriteTo(w); err != nil {
		return fault.Wrap(err, fmsg.With("write midi file"))
	}
	return nil
}

func (l *Looper) exportSample(s *Sample, name string, quants measure.Quant) (smf.Track, error) {
	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName(name))

	var tick, last uint64
	tracker := exportTracker{midi.NewPortTracker(func(msg gomidi.Message) error {
		track.Add(uint32(tick-last), msg)
		last = tick
		return nil
	})}

	for q := measure.Quant(0); q < quants; q++ {
		tick = l.quantTicks(q)
		if err := s.ReplayQuant(q, tracker); err != nil {
			return nil, err
		}
	}

	tick = l.quantTicks(quants)
	if err := tracker.CloseOpenedNotes(); err != nil {
		return nil, err
	}
	track.Close(uint32(tick - last))
	return track, nil
}

// exportTracker drops NoteOffs for notes that never started in the file, as
// happens when a note's end wrapped to the start of its layer.
type exportTracker struct {
	*midi.PortTracker
}

func (t exportTracker) Feed(msg gomidi.Message) error {
	var channel, key uint8
	if msg.GetNoteEnd(&channel, &key) && !t.IsHeld(channel, key) {
		return nil
	}
	return t.PortTracker.Feed(msg)
}

func (l *Looper) quantTicks(q measure.Quant) uint64 {
	measureTicks := uint64(TicksPerBeat) * uint64(l.measure.MeasureSizeBPM)
	return uint64(q) * measureTicks / uint64(l.measure.QuantsPerMeasure())
}

func layerName(i int) string {
	if i == 0 {
		return "metronome"
	}
	return fmt.Sprintf("layer %d", i)
}
