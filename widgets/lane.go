package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// LaneSymbols are the runes a lane is drawn with
type LaneSymbols struct {
	Empty    rune
	Event    rune
	Playhead rune // playhead on a cell with events
	Head     rune // playhead on an empty cell
	Bar      rune
}

// Lane is one layer of the composition laid out in quants.
type Lane struct {
	Length     int   // quants
	PerMeasure int   // quants per measure
	Events     []int // quants that carry events, ascending
	Playhead   int   // quant under the cursor, -1 for none
	Color      lipgloss.Color
	Dim        lipgloss.Color
}

// RenderLane draws a lane in at most width cells. Longer lanes fold several
// quants into one cell; a cell shows an event if any of its quants has one.
func RenderLane(lane Lane, sym LaneSymbols, width int) string {
	if lane.Length <= 0 || width <= 0 {
		return ""
	}
	per := (lane.Length + width - 1) / width
	cells := (lane.Length + per - 1) / per

	filled := make([]bool, cells)
	for _, q := range lane.Events {
		if q >= 0 && q < lane.Length {
			filled[q/per] = true
		}
	}
	head := -1
	if lane.Playhead >= 0 && lane.Playhead < lane.Length {
		head = lane.Playhead / per
	}

	on := lipgloss.NewStyle().Foreground(lane.Color)
	off := lipgloss.NewStyle().Foreground(lane.Dim)
	bold := on.Bold(true)

	var out strings.Builder
	for i := 0; i < cells; i++ {
		if i > 0 && per <= lane.PerMeasure && lane.PerMeasure > 0 && (i*per)%lane.PerMeasure == 0 {
			out.WriteString(off.Render(string(sym.Bar)))
		}
		switch {
		case i == head && filled[i]:
			out.WriteString(bold.Render(string(sym.Playhead)))
		case i == head:
			out.WriteString(bold.Render(string(sym.Head)))
		case filled[i]:
			out.WriteString(on.Render(string(sym.Event)))
		default:
			out.WriteString(off.Render(string(sym.Empty)))
		}
	}
	return out.String()
}

// RenderSwatch renders a single colored block
func RenderSwatch(color lipgloss.Color) string {
	return lipgloss.NewStyle().Foreground(color).Render("■")
}

// RenderLegendItem renders a single legend item: "■ Name - description"
func RenderLegendItem(color lipgloss.Color, name, desc string) string {
	return fmt.Sprintf("%s %-9s %s", RenderSwatch(color), name, desc)
}

// RenderProgress draws a bar of width cells filled to pos/total.
func RenderProgress(pos, total uint32, width int, color, dim lipgloss.Color) string {
	if total == 0 || width <= 0 {
		return ""
	}
	n := int(uint64(pos) * uint64(width) / uint64(total))
	n = min(max(n, 0), width)
	return lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("━", n)) +
		lipgloss.NewStyle().Foreground(dim).Render(strings.Repeat("─", width-n))
}
