package synth

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// sampleSource produces interleaved stereo float32 frames. Process runs on
// the audio render thread; it must not block.
type sampleSource interface {
	Process(dst []float32)
}

// streamReader adapts a sampleSource to the byte stream the audio driver
// reads.
type streamReader struct {
	mu     sync.Mutex
	source sampleSource
	buf    []float32
}

func (r *streamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i := 0; i < need; i++ {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(r.buf[i]))
	}
	return frames * 8, nil
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedAudioContext returns the process-wide audio context. Ebiten allows
// only one, at a fixed sample rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// audioOut owns the driver-side player for one synthesizer.
type audioOut struct {
	player *ebitaudio.Player
}

func newAudioOut(sampleRate int, source sampleSource, bufferMs float64) (*audioOut, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	pl, err := ctx.NewPlayerF32(&streamReader{source: source})
	if err != nil {
		return nil, err
	}
	if bufferMs > 0 {
		pl.SetBufferSize(time.Duration(bufferMs * float64(time.Millisecond)))
	}
	return &audioOut{player: pl}, nil
}

func (o *audioOut) Play() { o.player.Play() }

func (o *audioOut) Close() error {
	o.player.Pause()
	return o.player.Close()
}
