package synth

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sinshu/go-meltysynth/meltysynth"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/arduano/wasabi/internal/effects"
)

// voicesPerLayer converts the layer-count setting into a polyphony cap: one
// layer is roughly one voice per channel.
const voicesPerLayer = 16

// eventQueueCap bounds the handoff between the engine thread and the audio
// render thread. Overflow drops events rather than growing latency.
const eventQueueCap = 4096

// SoftSynth renders a SoundFont in-process. Events arrive on a bounded
// channel and are applied at the top of every audio render callback, so
// PushEvent never blocks the caller.
type SoftSynth struct {
	cfg Config
	log *zap.Logger

	events    chan midi.Message
	dropped   atomic.Uint64
	voices    atomic.Int64
	maxVoices atomic.Int64 // 0 = unlimited

	mu    sync.Mutex // guards synth across render, reset and soundfont swap
	synth *meltysynth.Synthesizer

	chain    *effects.Chain
	out      *audioOut
	scratchL []float32
	scratchR []float32
}

// NewSoftSynth loads the soundfont at cfg.SoundfontPath and starts the
// audio output stream.
func NewSoftSynth(cfg Config, log *zap.Logger) (*SoftSynth, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SoftSynth{
		cfg:    cfg,
		log:    log,
		events: make(chan midi.Message, eventQueueCap),
	}
	if cfg.LimitLayers && cfg.LayerCount > 0 {
		s.maxVoices.Store(int64(cfg.LayerCount) * voicesPerLayer)
	}
	if cfg.EnableEffects {
		s.chain = effects.NewChain(effects.NewLimiter(cfg.SampleRate, 0.9, 1.0))
	}

	synth, err := newSynthesizer(cfg, cfg.SoundfontPath)
	if err != nil {
		return nil, err
	}
	s.synth = synth

	out, err := newAudioOut(cfg.SampleRate, s, cfg.BufferMs)
	if err != nil {
		return nil, err
	}
	s.out = out
	out.Play()
	log.Info("soft synth started",
		zap.String("soundfont", cfg.SoundfontPath),
		zap.Int("sample_rate", cfg.SampleRate),
		zap.Float64("buffer_ms", cfg.BufferMs))
	return s, nil
}

func newSynthesizer(cfg Config, path string) (*meltysynth.Synthesizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open soundfont: %w", err)
	}
	defer f.Close()
	sf, err := meltysynth.NewSoundFont(f)
	if err != nil {
		return nil, fmt.Errorf("parse soundfont %s: %w", path, err)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(cfg.SampleRate))
	settings.EnableReverbAndChorus = cfg.EnableEffects
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	return synth, nil
}

// PushEvent queues one raw message for the audio thread. Never blocks; a
// full queue drops the event and bumps the counter.
func (s *SoftSynth) PushEvent(msg midi.Message) {
	select {
	case s.events <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Reset silences all voices immediately and discards queued events.
func (s *SoftSynth) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
drain:
	for {
		select {
		case <-s.events:
		default:
			break drain
		}
	}
	s.synth.NoteOffAll(!s.cfg.FadeOutKill)
	s.voices.Store(0)
	if s.chain != nil {
		s.chain.Reset()
	}
}

func (s *SoftSynth) VoiceCount() uint64 {
	v := s.voices.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func (s *SoftSynth) Dropped() uint64 { return s.dropped.Load() }

func (s *SoftSynth) SetLayerCount(layers int) {
	if layers <= 0 {
		s.maxVoices.Store(0)
		return
	}
	s.maxVoices.Store(int64(layers) * voicesPerLayer)
}

// SetSoundfont swaps the active soundfont. Voices restart silent.
func (s *SoftSynth) SetSoundfont(path string) error {
	synth, err := newSynthesizer(s.cfg, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.synth = synth
	s.voices.Store(0)
	s.mu.Unlock()
	s.log.Info("soundfont swapped", zap.String("path", path))
	return nil
}

func (s *SoftSynth) Close() error {
	s.Reset()
	return s.out.Close()
}

// Process renders one audio block. Runs on the audio thread.
func (s *SoftSynth) Process(dst []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

drain:
	for {
		select {
		case msg := <-s.events:
			s.apply(msg)
		default:
			break drain
		}
	}

	frames := len(dst) / 2
	if cap(s.scratchL) < frames {
		s.scratchL = make([]float32, frames)
		s.scratchR = make([]float32, frames)
	}
	left := s.scratchL[:frames]
	right := s.scratchR[:frames]
	s.synth.Render(left, right)
	for i := 0; i < frames; i++ {
		l, r := left[i], right[i]
		if s.chain != nil {
			l, r = s.chain.Process(l, r)
		}
		dst[i*2] = l
		dst[i*2+1] = r
	}
}

func (s *SoftSynth) apply(msg midi.Message) {
	var ch, key, vel uint8
	if msg.GetNoteStart(&ch, &key, &vel) {
		if limit := s.maxVoices.Load(); limit > 0 && s.voices.Load() >= limit {
			return
		}
	}
	switch applyMessage(s.synth, msg) {
	case 1:
		s.voices.Add(1)
	case -1:
		if s.voices.Add(-1) < 0 {
			s.voices.Store(0)
		}
	}
}

// applyMessage feeds one channel voice message to the synthesizer. The
// return value is the change in sounding voices: +1 for a note-on, -1 for a
// note-off, 0 otherwise.
func applyMessage(sy *meltysynth.Synthesizer, msg midi.Message) int {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		sy.NoteOn(int32(ch), int32(key), int32(vel))
		return 1
	case msg.GetNoteEnd(&ch, &key):
		sy.NoteOff(int32(ch), int32(key))
		return -1
	default:
		raw := msg.Bytes()
		if len(raw) == 0 || raw[0] < 0x80 || raw[0] > 0xEF {
			return 0
		}
		var d1, d2 int32
		if len(raw) > 1 {
			d1 = int32(raw[1])
		}
		if len(raw) > 2 {
			d2 = int32(raw[2])
		}
		sy.ProcessMidiMessage(int32(raw[0]&0x0F), int32(raw[0]&0xF0), d1, d2)
		return 0
	}
}
