package midi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-looper/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrNoPort is returned when no port matches the requested name.
var ErrNoPort = errors.New("no matching MIDI port")

// scanTimeout bounds a port listing; CoreMIDI can hang.
const scanTimeout = 3 * time.Second

// DeviceEvent is emitted when inputs connect/disconnect
type DeviceEvent struct {
	Type DeviceEventType
	ID   string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

func (t DeviceEventType) String() string {
	if t == DeviceConnected {
		return "connected"
	}
	return "disconnected"
}

// DeviceManager handles hot-plug detection of MIDI inputs. Every input whose
// name matches is opened and its messages are merged into Messages().
// A driver must be registered by the binary (rtmididrv).
type DeviceManager struct {
	inputs   map[string]*Input
	mu       sync.RWMutex
	events   chan DeviceEvent
	messages chan InputMessage
	pollRate time.Duration

	match    string   // case-insensitive substring, empty = any
	excluded []string // never auto-connected
}

// NewDeviceManager creates a device manager for inputs matching match.
func NewDeviceManager(match string, excluded []string) *DeviceManager {
	return &DeviceManager{
		inputs:   make(map[string]*Input),
		events:   make(chan DeviceEvent, 16),
		messages: make(chan InputMessage, 256),
		pollRate: time.Second,
		match:    match,
		excluded: excluded,
	}
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Messages returns the merged stream of all connected inputs
func (dm *DeviceManager) Messages() <-chan InputMessage {
	return dm.messages
}

// Inputs returns the IDs of connected inputs
func (dm *DeviceManager) Inputs() []string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	ids := make([]string, 0, len(dm.inputs))
	for id := range dm.inputs {
		ids = append(ids, id)
	}
	return ids
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	// Initial scan
	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

func (dm *DeviceManager) scan() {
	inPorts, _, err := listPorts()
	if err != nil {
		debug.Log("devices", "scan skipped: %v", err)
		return
	}

	seenIDs := make(map[string]bool)

	for _, inPort := range inPorts {
		id := inPort.String()
		if !MatchPort(id, dm.match, dm.excluded) {
			continue
		}
		seenIDs[id] = true

		dm.mu.RLock()
		_, exists := dm.inputs[id]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		in, err := ListenInput(id, inPort, dm.messages)
		if err != nil {
			debug.Log("devices", "connect %s failed: %v", id, err)
			continue
		}

		dm.mu.Lock()
		dm.inputs[id] = in
		dm.mu.Unlock()

		debug.Log("devices", "connected %s", id)
		dm.emit(DeviceEvent{Type: DeviceConnected, ID: id})
	}

	// Check for disconnects
	dm.mu.Lock()
	var toRemove []string
	for id := range dm.inputs {
		if !seenIDs[id] {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		dm.inputs[id].Close()
		delete(dm.inputs, id)
	}
	dm.mu.Unlock()

	for _, id := range toRemove {
		debug.Log("devices", "disconnected %s", id)
		dm.emit(DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
}

func (dm *DeviceManager) emit(ev DeviceEvent) {
	select {
	case dm.events <- ev:
	default:
	}
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, in := range dm.inputs {
		in.Close()
	}
	dm.inputs = make(map[string]*Input)
}

// OpenOutput opens the first output port matching name and returns a sender
// for it along with the port's full name.
func OpenOutput(name string, excluded []string) (Sender, string, error) {
	_, outPorts, err := listPorts()
	if err != nil {
		return nil, "", err
	}
	for _, port := range outPorts {
		if !MatchPort(port.String(), name, excluded) {
			continue
		}
		send, err := gomidi.SendTo(port)
		if err != nil {
			return nil, "", fmt.Errorf("open output %s: %w", port, err)
		}
		return Sender(send), port.String(), nil
	}
	return nil, "", fmt.Errorf("%w: output %q", ErrNoPort, name)
}

// ListPorts returns input and output port names.
func ListPorts() (ins, outs []string, err error) {
	inPorts, outPorts, err := listPorts()
	if err != nil {
		return nil, nil, err
	}
	for _, p := range inPorts {
		ins = append(ins, p.String())
	}
	for _, p := range outPorts {
		outs = append(outs, p.String())
	}
	return ins, outs, nil
}

// listPorts gets current MIDI ports with a timeout
func listPorts() ([]drivers.In, []drivers.Out, error) {
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}

	ch := make(chan portsResult, 1)
	go func() {
		ch <- portsResult{inPorts: gomidi.GetInPorts(), outPorts: gomidi.GetOutPorts()}
	}()

	select {
	case result := <-ch:
		return result.inPorts, result.outPorts, nil
	case <-time.After(scanTimeout):
		// User needs to run: sudo killall coreaudiod midiserver
		return nil, nil, errors.New("listing MIDI ports timed out")
	}
}

// MatchPort reports whether a port called name should be used when looking
// for want. Excluded patterns win over everything; an empty want matches any
// remaining port.
func MatchPort(name, want string, excluded []string) bool {
	lower := strings.ToLower(name)
	for _, ex := range excluded {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return false
		}
	}
	return strings.Contains(lower, strings.ToLower(want))
}
