package synth

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/arduano/wasabi/internal/effects"
	"github.com/arduano/wasabi/internal/timeline"
)

const renderBlockFrames = 512

// RenderFile renders the MIDI file at path offline through the SoundFont
// synthesizer, without opening an audio device, and returns interleaved
// stereo samples at cfg.SampleRate. tail extends rendering past the last
// event so releases ring out.
func RenderFile(path string, cfg Config, tail time.Duration) ([]float32, error) {
	tl, err := timeline.LoadBuffered(path, timeline.Options{
		VelIgnoreLo: cfg.VelIgnoreLo,
		VelIgnoreHi: cfg.VelIgnoreHi,
	})
	if err != nil {
		return nil, err
	}
	defer tl.Close()

	sy, err := newSynthesizer(cfg, cfg.SoundfontPath)
	if err != nil {
		return nil, err
	}
	var chain *effects.Chain
	if cfg.EnableEffects {
		chain = effects.NewChain(effects.NewLimiter(cfg.SampleRate, 0.9, 1.0))
	}

	totalFrames := int64(float64(cfg.SampleRate) * (tl.Length() + tail).Seconds())
	out := make([]float32, 0, totalFrames*2)
	left := make([]float32, renderBlockFrames)
	right := make([]float32, renderBlockFrames)

	var done int64
	for done < totalFrames {
		n := int64(renderBlockFrames)
		if rem := totalFrames - done; rem < n {
			n = rem
		}
		blockEnd := time.Duration(done+n) * time.Second / time.Duration(cfg.SampleRate)
		if err := tl.Advance(blockEnd, func(ev timeline.Event) {
			applyMessage(sy, ev.Message)
		}); err != nil {
			return nil, err
		}
		sy.Render(left[:n], right[:n])
		for i := int64(0); i < n; i++ {
			l, r := left[i], right[i]
			if chain != nil {
				l, r = chain.Process(l, r)
			}
			out = append(out, l, r)
		}
		done += n
	}
	return out, nil
}

// EncodeWAVFloat32LE wraps interleaved samples in a 32-bit float WAV
// container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3) // IEEE float
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
