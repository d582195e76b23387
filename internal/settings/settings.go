// Package settings persists the player configuration as JSON in the user
// config directory. Synth settings are applied once when the audio backend
// is constructed; visual settings are read by frontends every frame.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BackendKind selects the audio backend for the session.
type BackendKind string

const (
	BackendSoftSynth BackendKind = "softsynth"
	BackendMIDIPort  BackendKind = "midiport"
)

// SynthSettings mirrors the construction-time audio configuration.
type SynthSettings struct {
	Backend       BackendKind `json:"backend"`
	SoundfontPath string      `json:"soundfontPath,omitempty"`
	MIDIPortName  string      `json:"midiPortName,omitempty"`
	SampleRate    int         `json:"sampleRate"`
	BufferMs      float64     `json:"bufferMs"`

	LimitLayers bool `json:"limitLayers"`
	LayerCount  int  `json:"layerCount"`

	VelIgnoreLo uint8 `json:"velIgnoreLo"`
	VelIgnoreHi uint8 `json:"velIgnoreHi"`

	FadeOutKill    bool `json:"fadeOutKill"`
	LinearEnvelope bool `json:"linearEnvelope"`
	EnableEffects  bool `json:"enableEffects"`
}

// VisualSettings covers the piano-roll frontend.
type VisualSettings struct {
	RandomColors bool    `json:"randomColors"`
	FirstKey     uint8   `json:"firstKey"`
	LastKey      uint8   `json:"lastKey"`
	NoteSpeed    float64 `json:"noteSpeed"`
	Streamed     bool    `json:"streamed"` // decode from storage instead of preloading
}

// Settings is the persisted configuration root.
type Settings struct {
	Synth  SynthSettings  `json:"synth"`
	Visual VisualSettings `json:"visual"`
}

// Default returns the settings used when no file exists yet.
func Default() *Settings {
	return &Settings{
		Synth: SynthSettings{
			Backend:       BackendSoftSynth,
			SampleRate:    48000,
			BufferMs:      10,
			LimitLayers:   true,
			LayerCount:    4,
			FadeOutKill:   true,
			EnableEffects: true,
		},
		Visual: VisualSettings{
			FirstKey:  0,
			LastKey:   127,
			NoteSpeed: 0.25,
		},
	}
}

// Path returns the full path of the settings file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "wasabi", "settings.json"), nil
}

// Load reads the settings file, or returns defaults if it does not exist.
func Load() (*Settings, error) {
	path, err := Path()
	if err != nil {
		return Default(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads settings from an explicit path.
func LoadFrom(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Save writes the settings to the default location.
func (s *Settings) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return s.SaveTo(path)
}

// SaveTo writes the settings to an explicit path, creating directories as
// needed.
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
