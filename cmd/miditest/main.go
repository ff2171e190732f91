package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-looper/looper"
	"go-looper/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	arg := func(i int) string {
		if len(os.Args) > i {
			return os.Args[i]
		}
		return ""
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = listPorts()
	case "monitor":
		err = monitor(arg(2))
	case "thru":
		err = thru(arg(2), arg(3))
	case "click":
		err = click(arg(2))
	case "poll":
		err = pollDevices()
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list             - List all MIDI ports")
	fmt.Println("  monitor [input]  - Print messages from matching inputs")
	fmt.Println("  thru [in] [out]  - Forward matching inputs to an output")
	fmt.Println("  click [output]   - Play one bar of metronome clicks")
	fmt.Println("  poll             - Poll for device changes")
}

func listPorts() error {
	fmt.Println("(waiting up to 3 seconds...)")

	ins, outs, err := midi.ListPorts()
	if err != nil {
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
		return err
	}
	fmt.Println("=== MIDI Input Ports ===")
	for i, name := range ins {
		fmt.Printf("  %d: %s\n", i, name)
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, name := range outs {
		fmt.Printf("  %d: %s\n", i, name)
	}
	return nil
}

// monitor prints every message with milliseconds since start, the same
// timestamps the looper records.
func monitor(match string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := midi.NewDeviceManager(match, nil)
	go dm.Run(ctx)

	fmt.Println("Listening. Ctrl+C to exit.")
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-dm.Events():
			if !ok {
				return nil
			}
			fmt.Printf("[%s] %s\n", ev.Type, ev.ID)
		case msg := <-dm.Messages():
			ms := msg.Received.Sub(start).Milliseconds()
			fmt.Printf("%8dms  %-24s %s\n", ms, msg.Port, msg.Message)
		}
	}
}

// thru forwards every input message to the output, the way the looper passes
// input through while playing. Held notes are closed on exit.
func thru(in, out string) error {
	send, name, err := midi.OpenOutput(out, []string{"Midi Through"})
	if err != nil {
		return err
	}
	fmt.Printf("Forwarding to %s. Ctrl+C to exit.\n", name)

	tracker := midi.NewPortTracker(send)
	defer tracker.CloseOpenedNotes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dm := midi.NewDeviceManager(in, []string{"Midi Through"})
	go dm.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("closing %d held notes\n", tracker.HeldCount())
			return nil
		case msg := <-dm.Messages():
			if err := tracker.Feed(msg.Message); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
	}
}

// click sends one bar of the default metronome to the first matching output,
// then closes whatever is still held.
func click(match string) error {
	send, name, err := midi.OpenOutput(match, []string{"Midi Through"})
	if err != nil {
		return err
	}
	fmt.Printf("Using output: %s\n", name)

	tracker := midi.NewPortTracker(send)
	defer tracker.CloseOpenedNotes()

	m := looper.DefaultMeasure
	start := time.Now()
	for _, ev := range looper.DefaultMetronome.Events(m.BeatSizeMillis(), m.MeasureSizeBPM) {
		time.Sleep(time.Until(start.Add(time.Duration(ev.Timestamp) * time.Millisecond)))
		if err := tracker.Feed(ev.Message); err != nil {
			return err
		}
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) {
			fmt.Printf("  click %d/%d  velocity %d\n", ev.Timestamp/m.BeatSizeMillis()+1, m.MeasureSizeBPM, vel)
		}
	}
	return nil
}

func pollDevices() error {
	fmt.Println("Polling for device changes every 2 seconds...")
	fmt.Println("Connect/disconnect a MIDI device to test. Ctrl+C to exit.")

	lastIn := ""
	lastOut := ""

	for {
		ins, outs, err := midi.ListPorts()
		if err != nil {
			return err
		}

		currentIn := strings.Join(ins, ",")
		currentOut := strings.Join(outs, ",")

		if currentIn != lastIn || currentOut != lastOut {
			fmt.Printf("\n[%s] Device change detected!\n", time.Now().Format("15:04:05"))
			fmt.Printf("  Inputs: %v\n", ins)
			fmt.Printf("  Outputs: %v\n", outs)

			lastIn = currentIn
			lastOut = currentOut
		}

		time.Sleep(2 * time.Second)
	}
}
