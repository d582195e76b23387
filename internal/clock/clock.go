// Package clock provides the pausable, seekable logical clock that drives
// playback. The clock is owned by a single goroutine; none of its methods
// block.
package clock

import "time"

// Clock tracks a logical playback position. While running, the position
// advances with wall time from the last anchor; while paused it is frozen.
// Seek may move the position backward.
type Clock struct {
	position time.Duration // position at wallAnchor
	wall     time.Time     // wall time at which position was last accurate
	running  bool
}

// New returns a paused clock at position zero.
func New() *Clock {
	return &Clock{wall: time.Now()}
}

// Play resumes advancing from the current position. Idempotent.
func (c *Clock) Play() {
	if c.running {
		return
	}
	c.wall = time.Now()
	c.running = true
}

// Pause freezes the position at its current value. Idempotent.
func (c *Clock) Pause() {
	if !c.running {
		return
	}
	c.position += time.Since(c.wall)
	c.running = false
}

// TogglePause flips between running and paused.
func (c *Clock) TogglePause() {
	if c.running {
		c.Pause()
	} else {
		c.Play()
	}
}

// Seek sets the position immediately, regardless of run state. Negative
// targets are clamped to zero.
func (c *Clock) Seek(target time.Duration) {
	if target < 0 {
		target = 0
	}
	c.position = target
	c.wall = time.Now()
}

// Running reports whether the clock is advancing.
func (c *Clock) Running() bool { return c.running }

// GetTime returns the current logical position.
func (c *Clock) GetTime() time.Duration {
	if !c.running {
		return c.position
	}
	return c.position + time.Since(c.wall)
}
