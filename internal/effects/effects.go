// Package effects holds the master output processing applied after
// synthesis. The only effect the player carries is a limiter that keeps the
// summed voices from clipping; it can be disabled from configuration.
package effects

import "math"

// Effector processes stereo audio one frame at a time.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

// Limiter is a lookahead-free peak limiter: an envelope follower with a fast
// attack pulls gain down as soon as the signal exceeds the threshold, and a
// slow release lets it recover. A hard ceiling catches whatever the envelope
// misses on the first samples of a transient.
type Limiter struct {
	threshold float32
	ceiling   float32
	attack    float32 // coefficient
	release   float32 // coefficient
	env       float32
}

// NewLimiter creates a limiter with the given linear threshold (e.g. 0.9)
// and hard ceiling (e.g. 1.0).
func NewLimiter(sampleRate int, threshold, ceiling float32) *Limiter {
	sr := float64(sampleRate)
	return &Limiter{
		threshold: threshold,
		ceiling:   ceiling,
		attack:    float32(1.0 - math.Exp(-1.0/(0.5*sr/1000.0))),
		release:   float32(1.0 - math.Exp(-1.0/(120.0*sr/1000.0))),
	}
}

func (lm *Limiter) Process(l, r float32) (float32, float32) {
	peak := float32(math.Abs(float64(l)))
	if abs := float32(math.Abs(float64(r))); abs > peak {
		peak = abs
	}
	if peak > lm.env {
		lm.env += lm.attack * (peak - lm.env)
	} else {
		lm.env += lm.release * (peak - lm.env)
	}

	gain := float32(1.0)
	if lm.env > lm.threshold {
		gain = lm.threshold / lm.env
	}
	return clamp(l*gain, lm.ceiling), clamp(r*gain, lm.ceiling)
}

func (lm *Limiter) Reset() {
	lm.env = 0
}

func clamp(v, ceiling float32) float32 {
	if v > ceiling {
		return ceiling
	}
	if v < -ceiling {
		return -ceiling
	}
	return v
}
