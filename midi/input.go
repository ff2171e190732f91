package midi

import (
	"fmt"
	"time"

	"go-looper/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// InputMessage is a message received from an input port.
type InputMessage struct {
	Port     string
	Message  gomidi.Message
	Received time.Time
}

// Input listens on a single MIDI input port
type Input struct {
	id       string
	inPort   drivers.In
	stopFunc func()
}

// ListenInput opens inPort and forwards every message to out. Messages are
// dropped (and logged) when out is full rather than blocking the driver
// callback.
func ListenInput(id string, inPort drivers.In, out chan<- InputMessage) (*Input, error) {
	in := &Input{
		id:     id,
		inPort: inPort,
	}

	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		select {
		case out <- InputMessage{Port: id, Message: msg, Received: time.Now()}:
		default:
			debug.LogEvery(16, "midi-in", "input buffer full, dropped %s from %s", msg, id)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	in.stopFunc = stop

	return in, nil
}

func (in *Input) ID() string {
	return in.id
}

func (in *Input) Close() error {
	if in.stopFunc != nil {
		in.stopFunc()
	}
	return nil
}
