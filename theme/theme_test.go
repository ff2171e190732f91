package theme

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testGPL = `GIMP Palette
Name: test
Columns: 2
#
  0   0   0	black
255 255 255	white
`

func TestLoadGPL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.gpl")
	if err := os.WriteFile(path, []byte(testGPL), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "test" || len(p.Colors) != 2 {
		t.Fatalf("palette = %+v", p)
	}
	if got := p.Lookup(0.5); got != (RGB{127, 127, 127}) {
		t.Errorf("Lookup(0.5) = %v", got)
	}
	if got := p.Lookup(2); got != (RGB{255, 255, 255}) {
		t.Errorf("Lookup(2) = %v", got)
	}
}

func TestLoadGPLWithoutColors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gpl")
	os.WriteFile(path, []byte("GIMP Palette\nName: empty\n"), 0644)
	if _, err := LoadGPL(path); err == nil {
		t.Fatalf("LoadGPL accepted a palette without colors")
	}
}

func TestLoadDefaultsToPlasma(t *testing.T) {
	p, err := Load("")
	if err != nil || p.Name != "plasma" {
		t.Fatalf("Load(\"\") = %v, %v", p, err)
	}
}

func TestSingleColorLookup(t *testing.T) {
	p := &Palette{Colors: []RGB{{1, 2, 3}}}
	if got := p.Lookup(0.5); got != (RGB{1, 2, 3}) {
		t.Fatalf("Lookup = %v", got)
	}
}

func TestLayerColors(t *testing.T) {
	th := New(Plasma())
	if th.Layer(0) != th.Muted() {
		t.Errorf("metronome layer is not muted")
	}
	if th.Layer(1) == th.Layer(2) {
		t.Errorf("adjacent layers share a color")
	}
	if th.Layer(1) != th.Layer(1+layerSteps) {
		t.Errorf("layer colors do not cycle")
	}
}

func TestParseGPLRejectsBadLines(t *testing.T) {
	tests := map[string]struct {
		data string
		want string
	}{
		"no header":     {"Name: x\n1 2 3\n", `missing "GIMP Palette" header`},
		"out of range":  {"GIMP Palette\n1 2 3\n1 256 3\n", "line 3"},
		"short line":    {"GIMP Palette\nName: x\n10 20\n", "line 3"},
		"not a number":  {"GIMP Palette\n#\nred 0 0 label\n", "line 3"},
		"only metadata": {"GIMP Palette\nName: x\nColumns: 4\n", "no colors"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGPL(strings.NewReader(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("ParseGPL = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestParseGPLKeepsLabelsOut(t *testing.T) {
	p, err := ParseGPL(strings.NewReader("GIMP Palette\nName: duo\n  0 128 255\tsky blue\n255 0 0\n"))
	if err != nil {
		t.Fatalf("ParseGPL: %v", err)
	}
	want := []RGB{{0, 128, 255}, {255, 0, 0}}
	if p.Name != "duo" || len(p.Colors) != 2 || p.Colors[0] != want[0] || p.Colors[1] != want[1] {
		t.Fatalf("palette = %+v, want duo %v", p, want)
	}
}
