package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-looper/config"
	"go-looper/debug"
	"go-looper/looper"
	"go-looper/midi"
	"go-looper/sequencer"
	"go-looper/theme"
	"go-looper/tui"
)

var flags struct {
	config   string
	project  string
	debugLog string
	tempo    uint32
}

var rootCmd = &cobra.Command{
	Use:   "go-looper",
	Short: "Quantized MIDI loop recorder for the terminal",
	Long: `go-looper records what you play on a MIDI input, snaps it to a tempo grid
and layers it on top of a metronome. Every take loops at the composition
length so layers of different sizes line up.`,
	SilenceUsage: true,
	RunE:         runLooper,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI input and output ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ins, outs, err := midi.ListPorts()
		if err != nil {
			return err
		}
		cmd.Println("Inputs:")
		for i, name := range ins {
			cmd.Printf("  %d: %s\n", i, name)
		}
		cmd.Println("Outputs:")
		for i, name := range outs {
			cmd.Printf("  %d: %s\n", i, name)
		}
		return nil
	},
}

var exportFlags struct {
	save  string
	out   string
	loops uint32
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a saved composition to a standard MIDI file",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "",
		"Config file (default ~/.config/go-looper/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flags.project, "project", "p", "",
		"Project that saves go to (overrides the config)")
	rootCmd.PersistentFlags().StringVarP(&flags.debugLog, "log", "l", "",
		"Write debug logs to the given file (empty uses the config)")
	rootCmd.Flags().Uint32VarP(&flags.tempo, "tempo", "t", 0,
		"Start tempo in BPM (overrides the config)")

	exportCmd.Flags().StringVarP(&exportFlags.save, "save", "s", "",
		"Save file to export (default newest)")
	exportCmd.Flags().StringVarP(&exportFlags.out, "out", "o", "",
		"Output .mid path (default <project>.mid)")
	exportCmd.Flags().Uint32Var(&exportFlags.loops, "loops", 4,
		"Composition cycles to write")

	rootCmd.AddCommand(portsCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	path := flags.config
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flags.project != "" {
		cfg.Project = flags.project
	}
	if flags.debugLog != "" {
		cfg.DebugLog = flags.debugLog
	}
	if flags.tempo != 0 {
		cfg.TempoBPM = flags.tempo
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.DebugLog != "" {
		if err := debug.Enable(cfg.DebugLog); err != nil {
			return nil, fmt.Errorf("debug log: %w", err)
		}
	}
	return cfg, nil
}

func runLooper(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer debug.Disable()

	palette, err := theme.Load(cfg.PalettePath)
	if err != nil {
		return err
	}
	th := theme.New(palette)

	tracker := midi.Discard
	if cfg.Ports.Output != "" {
		send, name, err := midi.OpenOutput(cfg.Ports.Output, cfg.Ports.Excluded)
		if err != nil {
			return err
		}
		debug.Log("main", "output %s", name)
		tracker = midi.NewPortTracker(send)
	}

	l, err := looper.New(tracker,
		looper.WithMeasure(cfg.Measure()),
		looper.WithMetronome(cfg.MetronomeSettings()),
		looper.WithLogger(debug.Logger().Named("looper")),
	)
	if err != nil {
		return err
	}

	projectsDir, err := cfg.ResolveProjectsDir()
	if err != nil {
		return err
	}
	store := sequencer.NewStore(projectsDir)

	manager := sequencer.NewManager(l,
		sequencer.WithControls(cfg.Controls()),
		sequencer.WithTickInterval(cfg.TickInterval),
		sequencer.WithStore(store, cfg.Project),
	)

	// Hot-plugged inputs are merged into one stream for the manager
	deviceMgr := midi.NewDeviceManager(cfg.Ports.Input, cfg.Ports.Excluded)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go deviceMgr.Run(ctx)

	done := make(chan struct{})
	go func() {
		manager.Run(ctx, deviceMgr.Messages())
		close(done)
	}()

	exportDir := filepath.Join(store.ProjectDir(cfg.Project), "exports")
	m := tui.NewModel(manager, deviceMgr, th, exportDir)
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, runErr := p.Run()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		debug.Log("main", "manager did not stop in time")
	}
	return runErr
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer debug.Disable()

	projectsDir, err := cfg.ResolveProjectsDir()
	if err != nil {
		return err
	}
	store := sequencer.NewStore(projectsDir)

	file, err := store.Load(cfg.Project, exportFlags.save)
	if err != nil {
		return err
	}

	l, err := looper.New(midi.Discard, looper.WithMetronome(cfg.MetronomeSettings()))
	if err != nil {
		return err
	}
	if err := l.Restore(file.Looper); err != nil {
		return err
	}

	out := exportFlags.out
	if out == "" {
		out = cfg.Project + ".mid"
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := l.ExportSMF(f, exportFlags.loops); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	cmd.Printf("wrote %s (%s, %d loops)\n", out, l.Measure(), exportFlags.loops)
	return nil
}
