package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go-looper/looper"
	"go-looper/measure"
	"go-looper/midi"
	"go-looper/sequencer"

	"gopkg.in/yaml.v3"
)

// PortsConfig selects the MIDI ports to use
type PortsConfig struct {
	Input    string   `yaml:"input"`  // case-insensitive substring, empty = any
	Output   string   `yaml:"output"` // empty = no output
	Excluded []string `yaml:"excluded,omitempty"`
}

// ControlConfig maps the control channel onto looper operations
type ControlConfig struct {
	Channel     uint8  `yaml:"channel"` // 1-16
	RecordKey   uint8  `yaml:"recordKey"`
	TempoCC     uint8  `yaml:"tempoCC"`
	TempoOffset uint32 `yaml:"tempoOffset"`
}

// MetronomeConfig defines the click layer
type MetronomeConfig struct {
	Channel        uint8 `yaml:"channel"` // 1-16
	Key            uint8 `yaml:"key"`
	Velocity       uint8 `yaml:"velocity"`
	AccentVelocity uint8 `yaml:"accentVelocity"`
}

// Config is the main configuration structure
type Config struct {
	TempoBPM        uint32          `yaml:"tempoBpm"`
	BeatsPerMeasure uint32          `yaml:"beatsPerMeasure"`
	QuantationLevel uint32          `yaml:"quantationLevel"`
	Ports           PortsConfig     `yaml:"ports"`
	Control         ControlConfig   `yaml:"control"`
	Metronome       MetronomeConfig `yaml:"metronome"`
	TickInterval    time.Duration   `yaml:"tickInterval"`
	ProjectsDir     string          `yaml:"projectsDir,omitempty"`
	Project         string          `yaml:"project,omitempty"`
	PalettePath     string          `yaml:"palette,omitempty"`
	DebugLog        string          `yaml:"debugLog,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		TempoBPM:        looper.DefaultMeasure.TempoBPM,
		BeatsPerMeasure: looper.DefaultMeasure.MeasureSizeBPM,
		QuantationLevel: looper.DefaultMeasure.QuantationLevel,
		Ports: PortsConfig{
			Excluded: []string{"Midi Through"},
		},
		Control: ControlConfig{
			Channel:     sequencer.DefaultControls.Channel + 1,
			RecordKey:   sequencer.DefaultControls.RecordKey,
			TempoCC:     sequencer.DefaultControls.TempoCC,
			TempoOffset: sequencer.DefaultControls.TempoOffset,
		},
		Metronome: MetronomeConfig{
			Channel:        looper.DefaultMetronome.Channel + 1,
			Key:            looper.DefaultMetronome.Key,
			Velocity:       looper.DefaultMetronome.Velocity,
			AccentVelocity: looper.DefaultMetronome.AccentVelocity,
		},
		TickInterval: 5 * time.Millisecond,
		Project:      "untitled",
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-looper"), nil
}

// ConfigPath returns the full path to config.yaml
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config at path, or returns defaults if it does not exist.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the grid and MIDI ranges.
func (c *Config) Validate() error {
	if err := c.Measure().Validate(); err != nil {
		return err
	}
	if err := checkChannel("control.channel", c.Control.Channel); err != nil {
		return err
	}
	if err := checkChannel("metronome.channel", c.Metronome.Channel); err != nil {
		return err
	}
	for name, v := range map[string]uint8{
		"control.recordKey":        c.Control.RecordKey,
		"control.tempoCC":          c.Control.TempoCC,
		"metronome.key":            c.Metronome.Key,
		"metronome.velocity":       c.Metronome.Velocity,
		"metronome.accentVelocity": c.Metronome.AccentVelocity,
	} {
		if v >= midi.NumKeys {
			return fmt.Errorf("%s: %d is not a 7-bit value", name, v)
		}
	}
	if c.Control.TempoOffset == 0 {
		return errors.New("control.tempoOffset must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tickInterval: %s must be positive", c.TickInterval)
	}
	return nil
}

func checkChannel(name string, ch uint8) error {
	if ch < 1 || ch > midi.NumChannels {
		return fmt.Errorf("%s: %d is not a MIDI channel (1-16)", name, ch)
	}
	return nil
}

// Measure returns the configured tempo grid.
func (c *Config) Measure() measure.Measure {
	return measure.Measure{
		TempoBPM:        c.TempoBPM,
		MeasureSizeBPM:  c.BeatsPerMeasure,
		QuantationLevel: c.QuantationLevel,
	}
}

// Controls returns the control mapping with a 0-based channel.
func (c *Config) Controls() sequencer.Controls {
	return sequencer.Controls{
		Channel:     c.Control.Channel - 1,
		RecordKey:   c.Control.RecordKey,
		TempoCC:     c.Control.TempoCC,
		TempoOffset: c.Control.TempoOffset,
	}
}

// MetronomeSettings returns the click layer with a 0-based channel.
func (c *Config) MetronomeSettings() looper.Metronome {
	return looper.Metronome{
		Channel:        c.Metronome.Channel - 1,
		Key:            c.Metronome.Key,
		Velocity:       c.Metronome.Velocity,
		AccentVelocity: c.Metronome.AccentVelocity,
	}
}

// ResolveProjectsDir returns the configured projects directory or the default.
func (c *Config) ResolveProjectsDir() (string, error) {
	if c.ProjectsDir != "" {
		return c.ProjectsDir, nil
	}
	return sequencer.DefaultProjectsDir()
}
