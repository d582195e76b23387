// Package synth routes time-due MIDI events to one of two interchangeable
// synthesizer backends: a SoundFont software synthesizer rendered in-process
// and a passthrough that forwards raw messages to a hardware MIDI port. The
// Dispatcher is a uniform façade over both; operations a backend does not
// support are explicit no-ops, never errors.
package synth

import (
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// Config carries the audio settings applied once at construction. Soundfont
// and layer count may additionally be changed live.
type Config struct {
	SampleRate    int
	SoundfontPath string
	BufferMs      float64

	LimitLayers bool
	LayerCount  int

	// Note-ons with velocity in this inclusive range are suppressed before
	// they reach the backend.
	VelIgnoreLo uint8
	VelIgnoreHi uint8

	FadeOutKill    bool
	LinearEnvelope bool
	EnableEffects  bool
}

// DefaultConfig mirrors the defaults of the settings file.
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		BufferMs:      10,
		LimitLayers:   true,
		LayerCount:    4,
		FadeOutKill:   true,
		EnableEffects: true,
	}
}

// Backend is the contract a synthesizer must satisfy. PushEvent must never
// block the caller: under backpressure events are dropped and counted, not
// queued unboundedly. Reset must be safe to call at any time, including
// concurrently with in-flight PushEvent calls.
type Backend interface {
	PushEvent(msg midi.Message)
	Reset()

	// VoiceCount returns 0 for backends without polyphony telemetry.
	VoiceCount() uint64

	// Dropped counts events refused under backpressure.
	Dropped() uint64

	// SetLayerCount limits concurrent voices; layers <= 0 removes the
	// limit. A no-op where unsupported.
	SetLayerCount(layers int)

	// SetSoundfont hot-swaps the active soundfont. A no-op where
	// unsupported.
	SetSoundfont(path string) error

	Close() error
}

// Dispatcher filters and forwards events to the active backend. It is
// created once per session and survives file loads; the engine calls Reset
// between files to flush stuck voices.
type Dispatcher struct {
	backend Backend
	velLo   uint8
	velHi   uint8
	log     *zap.Logger
}

func NewDispatcher(backend Backend, cfg Config, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{backend: backend, velLo: cfg.VelIgnoreLo, velHi: cfg.VelIgnoreHi, log: log}
}

// Suppressed reports whether msg falls in the velocity-ignore range. Only
// sounding note-ons are ever suppressed; note-offs always pass so voices
// cannot get stuck.
func (d *Dispatcher) Suppressed(msg midi.Message) bool {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return false
	}
	return vel >= d.velLo && vel <= d.velHi
}

// PushEvent forwards one raw message to the backend. Never blocks.
func (d *Dispatcher) PushEvent(msg midi.Message) {
	if d.Suppressed(msg) {
		return
	}
	d.backend.PushEvent(msg)
}

// Reset forces all active voices off immediately.
func (d *Dispatcher) Reset() {
	d.backend.Reset()
}

func (d *Dispatcher) VoiceCount() uint64 { return d.backend.VoiceCount() }
func (d *Dispatcher) Dropped() uint64    { return d.backend.Dropped() }

func (d *Dispatcher) SetLayerCount(layers int) { d.backend.SetLayerCount(layers) }

func (d *Dispatcher) SetSoundfont(path string) error {
	if err := d.backend.SetSoundfont(path); err != nil {
		d.log.Warn("soundfont swap failed", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

func (d *Dispatcher) Close() error {
	d.backend.Reset()
	return d.backend.Close()
}
