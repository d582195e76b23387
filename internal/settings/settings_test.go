package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Synth.Backend != BackendSoftSynth {
		t.Fatalf("default backend: got %q", s.Synth.Backend)
	}
	if s.Synth.SampleRate != 48000 || !s.Synth.LimitLayers {
		t.Fatalf("unexpected defaults: %+v", s.Synth)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.json")
	s := Default()
	s.Synth.Backend = BackendMIDIPort
	s.Synth.LayerCount = 8
	s.Visual.RandomColors = true
	s.Visual.Streamed = true
	if err := s.SaveTo(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Synth.Backend != BackendMIDIPort || got.Synth.LayerCount != 8 {
		t.Fatalf("synth settings lost: %+v", got.Synth)
	}
	if !got.Visual.RandomColors || !got.Visual.Streamed {
		t.Fatalf("visual settings lost: %+v", got.Visual)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatalf("corrupt settings accepted")
	}
}
