package measure

import (
	"errors"
	"fmt"
	"math"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
)

// ErrInvalidMeasure is returned by Validate for a grid that cannot be divided.
var ErrInvalidMeasure = errors.New("invalid measure")

// Measure is the tempo and grid configuration. Values are never mutated in
// place: a tempo change builds a new Measure with WithTempo.
type Measure struct {
	TempoBPM        uint32 `json:"tempoBpm"`
	MeasureSizeBPM  uint32 `json:"measureSizeBpm"` // beats per measure
	QuantationLevel uint32 `json:"quantationLevel"`
}

// WithTempo returns a copy of m running at tempo bpm.
func (m Measure) WithTempo(bpm uint32) Measure {
	m.TempoBPM = bpm
	return m
}

// Validate reports whether every derived size is non-zero.
func (m Measure) Validate() error {
	switch {
	case m.TempoBPM == 0:
		return invalid("tempo must be positive")
	case m.MeasureSizeBPM == 0:
		return invalid("measure size must be positive")
	case m.BeatSizeMillis() == 0:
		return invalid(fmt.Sprintf("tempo %d bpm is too fast", m.TempoBPM))
	case m.QuantSizeMillis() == 0:
		return invalid(fmt.Sprintf("quantation level %d is too fine for %d bpm", m.QuantationLevel, m.TempoBPM))
	}
	return nil
}

func invalid(desc string) error {
	return fault.Wrap(ErrInvalidMeasure,
		fmsg.WithDesc(desc, "The tempo grid settings are out of range"),
		ftag.With(ftag.InvalidArgument))
}

func (m Measure) BeatSizeMillis() uint32 {
	return 60000 / m.TempoBPM
}

func (m Measure) MeasureSizeMillis() uint32 {
	return m.BeatSizeMillis() * m.MeasureSizeBPM
}

// QuantsPerMeasure is MeasureSizeBPM raised to QuantationLevel, saturating
// at MaxUint32 so an absurd level fails Validate instead of wrapping.
func (m Measure) QuantsPerMeasure() uint32 {
	n := uint64(1)
	for i := uint32(0); i < m.QuantationLevel; i++ {
		n *= uint64(m.MeasureSizeBPM)
		if n > math.MaxUint32 {
			return math.MaxUint32
		}
	}
	return uint32(n)
}

// QuantSizeMillis divides the measure QuantationLevel times and truncates
// once at the end.
func (m Measure) QuantSizeMillis() uint32 {
	return m.MeasureSizeMillis() / m.QuantsPerMeasure()
}

// TimestampToQuant rounds to the nearest quant, ties rounding up.
func (m Measure) TimestampToQuant(timestamp uint32) Quant {
	q := m.QuantSizeMillis()
	return Quant((timestamp + q/2) / q)
}

func (m Measure) QuantToTimestamp(q Quant) uint32 {
	return uint32(q) * m.QuantSizeMillis()
}

func (m Measure) TimestampToMeasure(timestamp uint32) uint32 {
	return timestamp / m.MeasureSizeMillis()
}

// GridQuant converts a timestamp to a quant index anchored at measure lines.
// Each measure holds exactly QuantsPerMeasure quants of MeasureSizeMillis /
// QuantsPerMeasure (not truncated), so the index never drifts against
// TimestampToMeasure. At 160 bpm QuantSizeMillis is 93 but a measure is
// 1500ms, and counting 93ms quants would lose a whole quant every 10 bars.
func (m Measure) GridQuant(timestamp uint32) Quant {
	size := uint64(m.MeasureSizeMillis())
	per := uint64(m.QuantsPerMeasure())
	bar := uint64(timestamp) / size
	offset := uint64(timestamp) % size
	return Quant(bar*per + (offset*per+size/2)/size)
}

// GridSlot is the grid quant whose slot contains timestamp, rounding down.
// A measure line and its first quant are crossed on the same millisecond,
// which GridQuant's rounding does not guarantee.
func (m Measure) GridSlot(timestamp uint32) Quant {
	size := uint64(m.MeasureSizeMillis())
	per := uint64(m.QuantsPerMeasure())
	bar := uint64(timestamp) / size
	offset := uint64(timestamp) % size
	return Quant(bar*per + offset*per/size)
}

// GridTimestamp is the inverse of GridQuant, truncated to whole milliseconds.
func (m Measure) GridTimestamp(q Quant) uint32 {
	size := uint64(m.MeasureSizeMillis())
	per := uint64(m.QuantsPerMeasure())
	bar := uint64(q) / per
	return uint32(bar*size + uint64(q)%per*size/per)
}

func (m Measure) String() string {
	return fmt.Sprintf("%dbpm %d/4 q%d", m.TempoBPM, m.MeasureSizeBPM, m.QuantationLevel)
}
