package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-looper/debug"
	"go-looper/looper"
	"go-looper/midi"
	"go-looper/sequencer"
	"go-looper/theme"
	"go-looper/widgets"
)

const laneWidth = 64

type Model struct {
	Manager   *sequencer.Manager
	DeviceMgr *midi.DeviceManager // nil when running without inputs
	Theme     *theme.Theme
	ExportDir string

	keys     keyMap
	help     help.Model
	status   string
	isError  bool
	quitting bool
	inputs   []string
	now      func() time.Time
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

func NewModel(manager *sequencer.Manager, deviceMgr *midi.DeviceManager, th *theme.Theme, exportDir string) Model {
	return Model{
		Manager:   manager,
		DeviceMgr: deviceMgr,
		Theme:     th,
		ExportDir: exportDir,
		keys:      defaultKeyMap(),
		help:      help.New(),
		now:       time.Now,
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.UpdateChan
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Manager)}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case UpdateMsg:
		if err := m.Manager.LastError(); err != nil {
			m.setStatus(err.Error(), true)
		}
		return m, ListenForUpdates(m.Manager)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		m.setStatus(fmt.Sprintf("%s %s", event.ID, event.Type), false)
		if m.DeviceMgr != nil {
			m.inputs = m.DeviceMgr.Inputs()
			return m, ListenForDevices(m.DeviceMgr)
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.Manager.Shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Record):
		m.Manager.ToggleRecording()
		m.setStatus("", false)

	case key.Matches(msg, m.keys.Pause):
		err = m.Manager.TogglePause()

	case key.Matches(msg, m.keys.Undo):
		if err = m.Manager.Undo(); err == nil {
			m.setStatus("undone", false)
		}

	case key.Matches(msg, m.keys.Reset):
		if err = m.Manager.Reset(); err == nil {
			m.setStatus("reset", false)
		}

	case key.Matches(msg, m.keys.TempoUp):
		if err = m.Manager.NudgeTempo(1); err == nil {
			m.setStatus(fmt.Sprintf("%d bpm", m.Manager.Status().Measure.TempoBPM), false)
		}

	case key.Matches(msg, m.keys.TempoDown):
		if err = m.Manager.NudgeTempo(-1); err == nil {
			m.setStatus(fmt.Sprintf("%d bpm", m.Manager.Status().Measure.TempoBPM), false)
		}

	case key.Matches(msg, m.keys.Save):
		var filename string
		if filename, err = m.Manager.Save(); err == nil {
			m.setStatus("saved "+m.Manager.Project()+"/"+filename, false)
		}

	case key.Matches(msg, m.keys.Load):
		if err = m.Manager.Load(""); err == nil {
			m.setStatus("loaded latest save of "+m.Manager.Project(), false)
		}

	case key.Matches(msg, m.keys.Export):
		var path string
		if path, err = m.export(); err == nil {
			m.setStatus("exported "+path, false)
		}

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}

	if err != nil {
		debug.Log("tui", "%s: %v", msg, err)
		m.setStatus(err.Error(), true)
		// the manager already holds it; don't show it twice
		m.Manager.LastError()
	}
	return m, nil
}

func (m *Model) setStatus(s string, isError bool) {
	m.status = s
	m.isError = isError
}

// export writes one composition cycle next to the project saves.
func (m Model) export() (string, error) {
	if err := os.MkdirAll(m.ExportDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.mid", m.Manager.Project(), m.now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(m.ExportDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := m.Manager.Export(f, 1); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Manager.Status()
	sym := m.Theme.Symbols

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	errStyle := lipgloss.NewStyle().Foreground(m.Theme.Warning())

	header := headerStyle.Render(fmt.Sprintf("go-looper  %s  %s  bar %d/%d",
		m.stateBadge(st), st.Measure, st.MeasureIndex+1, st.AmountOfMeasures))

	cycle := st.AmountOfMeasures * st.Measure.MeasureSizeMillis()
	progress := widgets.RenderProgress(st.CyclePosition, cycle, laneWidth, m.Theme.Accent(), m.Theme.Surface())

	laneSymbols := widgets.LaneSymbols{
		Empty:    sym.QuantEmpty,
		Event:    sym.QuantEvent,
		Playhead: sym.QuantPlayhead,
		Head:     sym.QuantHead,
		Bar:      sym.BarLine,
	}
	var lanes []string
	for i, layer := range st.Layers {
		name := "metronome"
		if i > 0 {
			name = fmt.Sprintf("layer %d", i)
		}
		lane := widgets.Lane{
			Length:     int(layer.LengthQuants),
			PerMeasure: int(st.Measure.QuantsPerMeasure()),
			Events:     make([]int, len(layer.Quants)),
			Playhead:   int(layer.Playhead),
			Color:      m.Theme.Layer(i),
			Dim:        m.Theme.Surface(),
		}
		for j, q := range layer.Quants {
			lane.Events[j] = int(q)
		}
		label := widgets.RenderLegendItem(m.Theme.Layer(i), name, fmt.Sprintf("%2d bar", layer.AmountOfMeasures))
		lanes = append(lanes, label+"  "+widgets.RenderLane(lane, laneSymbols, laneWidth))
	}
	if st.State == looper.Recording {
		lanes = append(lanes, errStyle.Render(fmt.Sprintf("%c take: %d events", sym.Recording, st.Buffered)))
	}

	status := ""
	if m.status != "" {
		if m.isError {
			status = errStyle.Render(m.status)
		} else {
			status = dimStyle.Render(m.status)
		}
	}

	inputs := "no inputs"
	if len(m.inputs) > 0 {
		inputs = "in: " + strings.Join(m.inputs, ", ")
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(progress)
	out.WriteString("\n\n")
	out.WriteString(strings.Join(lanes, "\n"))
	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render(inputs))
	out.WriteString("\n")
	out.WriteString(status)
	out.WriteString("\n\n")
	out.WriteString(m.help.View(m.keys))

	return out.String()
}

func (m Model) stateBadge(st sequencer.Status) string {
	sym := m.Theme.Symbols
	var badge string
	switch st.State {
	case looper.Recording:
		badge = lipgloss.NewStyle().Foreground(m.Theme.Active()).Render(fmt.Sprintf("%c REC", sym.Recording))
	case looper.Pause:
		badge = lipgloss.NewStyle().Foreground(m.Theme.Muted()).Render(fmt.Sprintf("%c PAUSE", sym.Paused))
	default:
		badge = lipgloss.NewStyle().Foreground(m.Theme.Success()).Render(fmt.Sprintf("%c LOOP", sym.Looping))
	}
	if st.Pending {
		badge += fmt.Sprintf(" %c %s", sym.Pending, st.Next)
	}
	return badge
}
