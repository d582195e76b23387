// Package wasabi plays Standard MIDI Files: a pausable, seekable clock
// drives events out of a timeline and into a synthesizer backend, while
// per-key color state and playback statistics are kept for a piano-roll
// frontend. The engine is driven from a single goroutine, typically the
// frame loop; the audio backend runs on its own thread behind the
// dispatcher.
package wasabi

import (
	"errors"
	"image/color"
	"sync"
	"time"

	"go.uber.org/zap"

	intclock "github.com/arduano/wasabi/internal/clock"
	intsynth "github.com/arduano/wasabi/internal/synth"
	inttl "github.com/arduano/wasabi/internal/timeline"
)

// State is the engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePaused
	StatePlaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Stats is a snapshot of the playback counters.
type Stats struct {
	TotalNotes    uint64 // note-ons in the file surviving the velocity filter
	NotesRendered uint64 // note-ons dispatched so far this session
	VoiceCount    uint64 // currently sounding voices, 0 without telemetry
	EventsDropped uint64 // events refused by the backend under backpressure
	EventsSkipped uint64 // malformed events skipped during decode
}

var (
	// ErrClosed reports a call on an engine whose Close has completed.
	ErrClosed = errors.New("wasabi: engine closed")

	// ErrNoFile reports a playback call with no file loaded.
	ErrNoFile = errors.New("wasabi: no file loaded")
)

type EngineOption func(*engineConfig)

type engineConfig struct {
	log          *zap.Logger
	streamed     bool
	randomColors bool
}

func defaultEngineConfig() engineConfig {
	return engineConfig{log: zap.NewNop()}
}

func WithLogger(log *zap.Logger) EngineOption {
	return func(cfg *engineConfig) {
		if log != nil {
			cfg.log = log
		}
	}
}

// WithStreamedTimeline decodes files incrementally from storage instead of
// preloading them into memory.
func WithStreamedTimeline(enabled bool) EngineOption {
	return func(cfg *engineConfig) {
		cfg.streamed = enabled
	}
}

// WithRandomColors assigns each (track, channel) pair a deterministic
// random note color instead of the fixed per-channel palette.
func WithRandomColors(enabled bool) EngineOption {
	return func(cfg *engineConfig) {
		cfg.randomColors = enabled
	}
}

// Engine ties the clock, timeline and dispatcher together. It outlives
// individual files: Open may be called repeatedly, and the dispatcher keeps
// its backend across loads.
type Engine struct {
	mu         sync.Mutex
	cfg        engineConfig
	opts       inttl.Options
	dispatcher *intsynth.Dispatcher
	log        *zap.Logger

	state         State
	clock         *intclock.Clock
	timeline      inttl.Timeline
	colors        KeyColors
	palette       *palette
	lastTime      time.Duration
	notesRendered uint64
}

// NewEngine builds an engine dispatching into backend. The velocity-ignore
// range from cfg is applied consistently to note counting and dispatch.
func NewEngine(backend intsynth.Backend, cfg intsynth.Config, opts ...EngineOption) *Engine {
	ec := defaultEngineConfig()
	for _, opt := range opts {
		opt(&ec)
	}
	return &Engine{
		cfg:        ec,
		opts:       inttl.Options{VelIgnoreLo: cfg.VelIgnoreLo, VelIgnoreHi: cfg.VelIgnoreHi},
		dispatcher: intsynth.NewDispatcher(backend, cfg, ec.log),
		log:        ec.log,
		palette:    newPalette(ec.randomColors),
	}
}

// Open loads a MIDI file and leaves the engine paused at position zero.
// Any previously loaded file is torn down first, with its voices flushed.
func (e *Engine) Open(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return ErrClosed
	}
	e.unloadLocked()

	var (
		tl  inttl.Timeline
		err error
	)
	if e.cfg.streamed {
		tl, err = inttl.OpenStreamed(path, e.opts, e.log)
	} else {
		tl, err = inttl.LoadBuffered(path, e.opts)
	}
	if err != nil {
		return err
	}

	e.timeline = tl
	e.clock = intclock.New()
	e.colors.Clear()
	e.lastTime = 0
	e.notesRendered = 0
	e.state = StatePaused
	e.log.Info("midi file loaded",
		zap.String("path", path),
		zap.Bool("streamed", e.cfg.streamed),
		zap.Duration("length", tl.Length()),
		zap.Uint64("notes", tl.TotalNotes()))
	return nil
}

// Play resumes the clock. A no-op unless paused with a file loaded.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return
	}
	e.clock.Play()
	e.state = StatePlaying
}

// Pause freezes the clock. A no-op unless playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlaying {
		return
	}
	e.clock.Pause()
	e.state = StatePaused
}

// TogglePause flips between playing and paused.
func (e *Engine) TogglePause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StatePaused:
		e.clock.Play()
		e.state = StatePlaying
	case StatePlaying:
		e.clock.Pause()
		e.state = StatePaused
	}
}

// Seek moves the playback position. Negative targets clamp to zero; targets
// past the end are allowed and simply drain the rest of the file.
//
// A backward seek takes effect immediately: voices are flushed, key colors
// cleared and the timeline cursor rewound. A forward seek only moves the
// clock; the skipped-over events are dispatched as a burst on the next
// Tick, so note state at the target position is reconstructed.
func (e *Engine) Seek(target time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused && e.state != StatePlaying {
		return ErrNoFile
	}
	if target < 0 {
		target = 0
	}
	e.clock.Seek(target)
	if target < e.lastTime {
		return e.rewindLocked(target)
	}
	return nil
}

// rewindLocked moves the cursor backward to target. Voices already sounding
// are killed rather than resynthesized mid-note; they restart naturally as
// their note-ons replay.
func (e *Engine) rewindLocked(target time.Duration) error {
	e.dispatcher.Reset()
	e.colors.Clear()
	if err := e.timeline.SeekTo(target); err != nil {
		return err
	}
	e.lastTime = target
	e.notesRendered = 0
	return nil
}

// Tick dispatches every event that became due since the previous Tick and
// updates the key color state. Call it once per frame; it never blocks on
// the audio backend. A decode error mid-file pauses playback and is
// returned; the session is over at that point.
func (e *Engine) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused && e.state != StatePlaying {
		return nil
	}

	now := e.clock.GetTime()
	if now < e.lastTime {
		// The clock moved backward without a Seek call. Recover the same way.
		if err := e.rewindLocked(now); err != nil {
			return e.haltLocked(err)
		}
	}

	err := e.timeline.Advance(now, func(ev inttl.Event) {
		if e.dispatcher.Suppressed(ev.Message) {
			return
		}
		e.dispatcher.PushEvent(ev.Message)

		var ch, key, vel uint8
		switch {
		case ev.Message.GetNoteStart(&ch, &key, &vel):
			e.colors.NoteOn(key, e.palette.colorFor(ev.Track, ch))
			e.notesRendered++
		case ev.Message.GetNoteEnd(&ch, &key):
			e.colors.NoteOff(key)
		}
	})
	if err != nil {
		return e.haltLocked(err)
	}
	e.lastTime = now
	return nil
}

// haltLocked stops playback after a fatal decode error.
func (e *Engine) haltLocked(err error) error {
	e.log.Error("playback halted", zap.Error(err))
	e.clock.Pause()
	e.state = StatePaused
	return err
}

// GetTime returns the current playback position, zero when nothing is
// loaded.
func (e *Engine) GetTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock == nil {
		return 0
	}
	return e.clock.GetTime()
}

// MidiLength returns the duration of the loaded file. ok is false when no
// file is loaded.
func (e *Engine) MidiLength() (length time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timeline == nil {
		return 0, false
	}
	return e.timeline.Length(), true
}

// State returns the engine lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the playback counters. Valid in every state;
// zero values when nothing is loaded.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		NotesRendered: e.notesRendered,
		VoiceCount:    e.dispatcher.VoiceCount(),
		EventsDropped: e.dispatcher.Dropped(),
	}
	if e.timeline != nil {
		s.TotalNotes = e.timeline.TotalNotes()
		s.EventsSkipped = e.timeline.SkippedEvents()
	}
	return s
}

// KeyColor returns the color of the most recent still-sounding note on key.
func (e *Engine) KeyColor(key uint8) (color.RGBA, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.colors.Color(key)
}

// ActiveNotes returns the number of unmatched note-ons currently held on
// key.
func (e *Engine) ActiveNotes(key uint8) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.colors.ActiveCount(key)
}

// SetLayerCount forwards a live layer-limit change to the backend.
func (e *Engine) SetLayerCount(layers int) {
	e.dispatcher.SetLayerCount(layers)
}

// SetSoundfont hot-swaps the backend soundfont where supported.
func (e *Engine) SetSoundfont(path string) error {
	return e.dispatcher.SetSoundfont(path)
}

// unloadLocked tears down the current file, if any. Voices are flushed
// before the timeline goes away so nothing rings on.
func (e *Engine) unloadLocked() {
	if e.timeline == nil {
		return
	}
	e.dispatcher.Reset()
	if err := e.timeline.Close(); err != nil {
		e.log.Warn("timeline close failed", zap.Error(err))
	}
	e.timeline = nil
	e.clock = nil
	e.colors.Clear()
	e.lastTime = 0
	e.notesRendered = 0
	e.state = StateIdle
}

// Close unloads any file and shuts the audio backend down. The engine is
// unusable afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed {
		return nil
	}
	e.unloadLocked()
	e.state = StateClosed
	return e.dispatcher.Close()
}
