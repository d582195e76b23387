package clock

import (
	"testing"
	"time"
)

func TestClockStartsPausedAtZero(t *testing.T) {
	c := New()
	if c.Running() {
		t.Fatalf("new clock should be paused")
	}
	if got := c.GetTime(); got != 0 {
		t.Fatalf("expected position 0, got %v", got)
	}
	time.Sleep(10 * time.Millisecond)
	if got := c.GetTime(); got != 0 {
		t.Fatalf("paused clock moved to %v", got)
	}
}

func TestClockAdvancesWhileRunning(t *testing.T) {
	c := New()
	c.Play()
	time.Sleep(20 * time.Millisecond)
	first := c.GetTime()
	if first <= 0 {
		t.Fatalf("running clock did not advance: %v", first)
	}
	time.Sleep(5 * time.Millisecond)
	second := c.GetTime()
	if second < first {
		t.Fatalf("clock went backward: %v -> %v", first, second)
	}
}

func TestClockPauseFreezesPosition(t *testing.T) {
	c := New()
	c.Play()
	time.Sleep(10 * time.Millisecond)
	c.Pause()
	frozen := c.GetTime()
	time.Sleep(10 * time.Millisecond)
	if got := c.GetTime(); got != frozen {
		t.Fatalf("paused clock moved: %v -> %v", frozen, got)
	}
}

func TestClockPlayPauseIdempotent(t *testing.T) {
	c := New()
	c.Play()
	c.Play()
	time.Sleep(10 * time.Millisecond)
	c.Pause()
	frozen := c.GetTime()
	c.Pause()
	if got := c.GetTime(); got != frozen {
		t.Fatalf("second Pause changed position: %v -> %v", frozen, got)
	}
}

func TestClockSeek(t *testing.T) {
	c := New()
	c.Seek(5 * time.Second)
	if got := c.GetTime(); got != 5*time.Second {
		t.Fatalf("seek while paused: got %v", got)
	}

	c.Play()
	c.Seek(2 * time.Second)
	got := c.GetTime()
	if got < 2*time.Second || got > 2*time.Second+time.Second {
		t.Fatalf("seek while running: got %v", got)
	}
}

func TestClockSeekClampsNegative(t *testing.T) {
	c := New()
	c.Seek(-3 * time.Second)
	if got := c.GetTime(); got != 0 {
		t.Fatalf("negative seek should clamp to zero, got %v", got)
	}
}

func TestClockTogglePause(t *testing.T) {
	c := New()
	c.TogglePause()
	if !c.Running() {
		t.Fatalf("toggle from paused should run")
	}
	c.TogglePause()
	if c.Running() {
		t.Fatalf("toggle from running should pause")
	}
}

func TestClockNeverNegative(t *testing.T) {
	c := New()
	c.Play()
	c.Seek(-time.Hour)
	if got := c.GetTime(); got < 0 {
		t.Fatalf("clock went negative: %v", got)
	}
}
