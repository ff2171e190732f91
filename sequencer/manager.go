package sequencer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go-looper/debug"
	"go-looper/looper"
	"go-looper/measure"
	"go-looper/midi"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Controls maps incoming MIDI onto looper operations.
type Controls struct {
	Channel     uint8  // control channel, 0-based
	RecordKey   uint8  // NoteOn toggles recording; its NoteOff is swallowed
	TempoCC     uint8  // sets the tempo to value + TempoOffset
	TempoOffset uint32 // bpm for CC value 0
}

// DefaultControls uses channel 10, key 36 and CC 20 (90..217 bpm).
var DefaultControls = Controls{
	Channel:     9,
	RecordKey:   36,
	TempoCC:     20,
	TempoOffset: 90,
}

// Manager drives a looper in real time: it turns wall clock ticks into
// Update deltas, routes live input and serializes every access to the
// looper behind one mutex.
type Manager struct {
	mu      sync.Mutex
	looper  *looper.Looper
	store   *Store
	project string

	controls Controls
	interval time.Duration

	clock func() time.Time
	start time.Time // AbsEvent timestamps count from here
	last  time.Time // time the cursor was last advanced to

	lastErr error

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

func WithControls(c Controls) Option {
	return func(m *Manager) {
		m.controls = c
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithTickInterval sets how often Run advances the looper.
func WithTickInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithStore enables saving and loading into project.
func WithStore(s *Store, project string) Option {
	return func(m *Manager) {
		m.store = s
		m.project = project
	}
}

// NewManager creates a new manager around l
func NewManager(l *looper.Looper, opts ...Option) *Manager {
	m := &Manager{
		looper:     l,
		controls:   DefaultControls,
		interval:   5 * time.Millisecond,
		clock:      time.Now,
		project:    "untitled",
		UpdateChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.start = m.clock()
	m.last = m.start
	return m
}

// Run advances the looper every tick interval and feeds it messages until
// ctx is done, then resets the looper so no note is left sounding.
func (m *Manager) Run(ctx context.Context, messages <-chan midi.InputMessage) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.mu.Lock()
	m.last = m.clock()
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case msg := <-messages:
			m.HandleInput(msg.Message, msg.Received)
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick advances the looper by the whole milliseconds elapsed since the last
// tick. The remainder carries over to the next one.
func (m *Manager) Tick() {
	m.mu.Lock()
	now := m.clock()
	elapsed := now.Sub(m.last)
	if elapsed < time.Millisecond {
		m.mu.Unlock()
		return
	}
	delta := elapsed / time.Millisecond
	m.last = m.last.Add(delta * time.Millisecond)

	before := m.looper.CurrentQuant()
	err := m.looper.Update(uint32(delta))
	changed := before != m.looper.CurrentQuant()
	m.setErr("update", err)
	m.mu.Unlock()

	if changed || err != nil {
		m.notifyUpdate()
	}
}

// HandleInput routes one live message: the record key and tempo CC on the
// control channel drive the looper, everything else is played and recorded.
func (m *Manager) HandleInput(msg gomidi.Message, received time.Time) {
	m.mu.Lock()
	defer m.notifyUpdate()
	defer m.mu.Unlock()

	var channel, key, velocity, cc, value uint8
	switch {
	case msg.GetNoteStart(&channel, &key, &velocity) && m.isRecordKey(channel, key):
		m.looper.ToggleRecording()
		debug.Log("input", "record key -> %s", m.looper.State())
		return
	case msg.GetNoteEnd(&channel, &key) && m.isRecordKey(channel, key):
		return
	case msg.GetControlChange(&channel, &cc, &value) && channel == m.controls.Channel && cc == m.controls.TempoCC:
		bpm := uint32(value) + m.controls.TempoOffset
		m.setErr("tempo", m.looper.UpdateTempoBPM(bpm))
		debug.Log("input", "tempo cc %d -> %d bpm", value, bpm)
		return
	}

	if received.IsZero() {
		received = m.clock()
	}
	ev := midi.AbsEvent{
		Message:   msg,
		Timestamp: uint32(max(received.Sub(m.start), 0) / time.Millisecond),
	}
	m.setErr("input", m.looper.OnMIDIEvent(ev))
}

func (m *Manager) isRecordKey(channel, key uint8) bool {
	return channel == m.controls.Channel && key == m.controls.RecordKey
}

// setErr records err as the last error. Must hold mu.
func (m *Manager) setErr(op string, err error) {
	if err == nil {
		return
	}
	m.lastErr = fmt.Errorf("%s: %w", op, err)
	debug.Log("looper", "%v", m.lastErr)
}

// notifyUpdate tells the TUI to redraw
func (m *Manager) notifyUpdate() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}

// do runs one looper operation under the lock and records its error.
func (m *Manager) do(op string, fn func(l *looper.Looper) error) error {
	m.mu.Lock()
	err := fn(m.looper)
	m.setErr(op, err)
	m.mu.Unlock()

	m.notifyUpdate()
	return err
}

func (m *Manager) ToggleRecording() {
	m.do("record", func(l *looper.Looper) error {
		l.ToggleRecording()
		return nil
	})
}

func (m *Manager) TogglePause() error {
	return m.do("pause", (*looper.Looper).TogglePause)
}

func (m *Manager) Undo() error {
	return m.do("undo", (*looper.Looper).UndoLastRecording)
}

func (m *Manager) Reset() error {
	return m.do("reset", (*looper.Looper).Reset)
}

func (m *Manager) SetTempo(bpm uint32) error {
	return m.do("tempo", func(l *looper.Looper) error {
		return l.UpdateTempoBPM(bpm)
	})
}

// NudgeTempo moves the tempo by delta bpm, never below 1.
func (m *Manager) NudgeTempo(delta int) error {
	return m.do("tempo", func(l *looper.Looper) error {
		bpm := max(int(l.Measure().TempoBPM)+delta, 1)
		return l.UpdateTempoBPM(uint32(bpm))
	})
}

// Save stores the composition as a new save of the current project.
func (m *Manager) Save() (string, error) {
	if m.store == nil {
		return "", fmt.Errorf("save: no project store")
	}
	m.mu.Lock()
	snap := m.looper.Snapshot()
	project := m.project
	m.mu.Unlock()

	filename, err := m.store.Save(project, snap)
	if err != nil {
		m.mu.Lock()
		m.setErr("save", err)
		m.mu.Unlock()
		return "", err
	}
	debug.Log("store", "saved %s/%s", project, filename)
	return filename, nil
}

// Load restores a save of the current project, the newest if filename is
// empty.
func (m *Manager) Load(filename string) error {
	if m.store == nil {
		return fmt.Errorf("load: no project store")
	}
	file, err := m.store.Load(m.project, filename)
	if err != nil {
		m.mu.Lock()
		m.setErr("load", err)
		m.mu.Unlock()
		return err
	}
	return m.do("load", func(l *looper.Looper) error {
		return l.Restore(file.Looper)
	})
}

// Export writes loops composition cycles as a MIDI file.
func (m *Manager) Export(w io.Writer, loops uint32) error {
	return m.do("export", func(l *looper.Looper) error {
		return l.ExportSMF(w, loops)
	})
}

// Shutdown resets the looper, closing every held note.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.looper.Reset(); err != nil {
		debug.Log("looper", "reset on shutdown: %v", err)
	}
}

// LastError returns the most recent failure and clears it.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.lastErr
	m.lastErr = nil
	return err
}

// Project returns the name saves go to.
func (m *Manager) Project() string {
	return m.project
}

// Layer is a read-only view of one composed sample for drawing.
type Layer struct {
	AmountOfMeasures uint32
	LengthQuants     uint32
	Quants           []measure.Quant // sample-local quants with events
	Playhead         measure.Quant   // sample-local quant under the cursor
}

// Status is a consistent copy of the looper's read surface.
type Status struct {
	State            looper.State
	Next             looper.State
	Pending          bool
	Measure          measure.Measure
	AmountOfMeasures uint32
	MeasureIndex     uint32
	Quant            measure.Quant
	CyclePosition    uint32
	Buffered         int
	Layers           []Layer
}

// Status returns the current looper state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.looper
	st := Status{
		State:            l.State(),
		Measure:          l.Measure(),
		AmountOfMeasures: l.AmountOfMeasures(),
		MeasureIndex:     l.MeasureIndex(),
		Quant:            l.CurrentQuant(),
		CyclePosition:    l.CyclePosition(),
		Buffered:         l.RecordBufferLen(),
	}
	st.Next, st.Pending = l.NextState()
	for _, s := range l.Composition() {
		st.Layers = append(st.Layers, Layer{
			AmountOfMeasures: s.AmountOfMeasures(),
			LengthQuants:     s.LengthQuants(),
			Quants:           s.Quants(),
			Playhead:         s.LocalQuant(st.Quant),
		})
	}
	return st
}
