package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	// Lane cells
	QuantEmpty    rune // · no event
	QuantEvent    rune // ● has events
	QuantPlayhead rune // ▶ under the cursor
	QuantHead     rune // ▷ playhead on an empty quant
	BarLine       rune // │ measure boundary

	// State badges
	Recording rune // ●
	Looping   rune // ↻
	Paused    rune // ‖
	Pending   rune // → transition waiting for the bar
}

func New(palette *Palette) *Theme {
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			QuantEmpty:    '·',
			QuantEvent:    '●',
			QuantPlayhead: '▶',
			QuantHead:     '▷',
			BarLine:       '│',

			Recording: '●',
			Looping:   '↻',
			Paused:    '‖',
			Pending:   '→',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0 // deep purple
	RoleSurface = 0.1 // dark purple
	RoleMuted   = 0.2 // purple-magenta
	RoleFG      = 0.4 // pink-purple (readable)
	RoleAccent  = 0.5 // vivid magenta
	RoleCursor  = 0.6 // rose pink
	RoleActive  = 0.7 // soft red
	RoleWarning = 0.8 // orange
	RoleSuccess = 1.0 // bright yellow

	// layers cycle through this band of the palette
	roleLayerLow  = 0.35
	roleLayerHigh = 0.95
	layerSteps    = 5
)

// Style helpers

func (t *Theme) BG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleBG))
}

func (t *Theme) Surface() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSurface))
}

func (t *Theme) FG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleFG))
}

func (t *Theme) Accent() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleAccent))
}

func (t *Theme) Muted() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleMuted))
}

func (t *Theme) Active() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleActive))
}

func (t *Theme) Cursor() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleCursor))
}

func (t *Theme) Warning() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleWarning))
}

func (t *Theme) Success() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSuccess))
}

// Layer returns the color of composition layer i. Layer 0 is the metronome
// and is drawn muted.
func (t *Theme) Layer(i int) lipgloss.Color {
	if i == 0 {
		return t.Muted()
	}
	step := float64((i-1)%layerSteps) / float64(layerSteps-1)
	return t.Color(roleLayerLow + step*(roleLayerHigh-roleLayerLow))
}

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
