package wasabi

import "time"

const fpsWindow = 500 * time.Millisecond

// FPS measures frame rate over a sliding half-second window. Not safe for
// concurrent use; call Update from the frame loop only.
type FPS struct {
	frames []time.Time
}

func NewFPS() *FPS {
	return &FPS{}
}

// Update records a frame and evicts samples older than the window.
func (f *FPS) Update() {
	now := time.Now()
	f.frames = append(f.frames, now)
	cutoff := now.Add(-fpsWindow)
	i := 0
	for i < len(f.frames) && f.frames[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		f.frames = append(f.frames[:0], f.frames[i:]...)
	}
}

// Rate returns the frames per second over the window.
func (f *FPS) Rate() float64 {
	return float64(len(f.frames)) / fpsWindow.Seconds()
}
