package wasabi

import (
	"image/color"
	"math/rand"
)

// KeyColors tracks which of the 128 keys are currently sounding and with
// what color. Each key holds a stack of colors, one per unmatched note-on,
// so overlapping notes on the same key only clear once the last note-off
// arrives.
type KeyColors struct {
	keys [128][]color.RGBA
}

// NoteOn pushes a sounding color for key.
func (k *KeyColors) NoteOn(key uint8, c color.RGBA) {
	if key > 127 {
		return
	}
	k.keys[key] = append(k.keys[key], c)
}

// NoteOff pops the most recent note-on for key. Unmatched note-offs are
// ignored.
func (k *KeyColors) NoteOff(key uint8) {
	if key > 127 || len(k.keys[key]) == 0 {
		return
	}
	k.keys[key] = k.keys[key][:len(k.keys[key])-1]
}

// Color returns the color of the most recent still-sounding note on key,
// and whether the key sounds at all.
func (k *KeyColors) Color(key uint8) (color.RGBA, bool) {
	if key > 127 || len(k.keys[key]) == 0 {
		return color.RGBA{}, false
	}
	return k.keys[key][len(k.keys[key])-1], true
}

// ActiveCount returns the number of unmatched note-ons for key.
func (k *KeyColors) ActiveCount(key uint8) int {
	if key > 127 {
		return 0
	}
	return len(k.keys[key])
}

// Clear silences every key.
func (k *KeyColors) Clear() {
	for i := range k.keys {
		k.keys[i] = k.keys[i][:0]
	}
}

// channelPalette is the fixed per-channel color table used when random
// colors are disabled.
var channelPalette = [16]color.RGBA{
	{R: 255, G: 99, B: 71, A: 255},
	{R: 255, G: 165, B: 0, A: 255},
	{R: 255, G: 215, B: 0, A: 255},
	{R: 154, G: 205, B: 50, A: 255},
	{R: 60, G: 179, B: 113, A: 255},
	{R: 64, G: 224, B: 208, A: 255},
	{R: 70, G: 130, B: 180, A: 255},
	{R: 106, G: 90, B: 205, A: 255},
	{R: 186, G: 85, B: 211, A: 255},
	{R: 219, G: 112, B: 147, A: 255},
	{R: 255, G: 105, B: 180, A: 255},
	{R: 205, G: 92, B: 92, A: 255},
	{R: 244, G: 164, B: 96, A: 255},
	{R: 189, G: 183, B: 107, A: 255},
	{R: 143, G: 188, B: 143, A: 255},
	{R: 176, G: 196, B: 222, A: 255},
}

// palette assigns note colors. In random mode every (track, channel) pair
// gets a deterministic pseudo-random color, stable across seeks and
// reloads.
type palette struct {
	random bool
	cache  map[uint32]color.RGBA
}

func newPalette(random bool) *palette {
	return &palette{random: random, cache: make(map[uint32]color.RGBA)}
}

func (p *palette) colorFor(track uint16, channel uint8) color.RGBA {
	if !p.random {
		return channelPalette[channel&0x0F]
	}
	id := uint32(track)<<4 | uint32(channel&0x0F)
	if c, ok := p.cache[id]; ok {
		return c
	}
	rng := rand.New(rand.NewSource(int64(id)*2654435761 + 97))
	c := color.RGBA{
		R: uint8(64 + rng.Intn(192)),
		G: uint8(64 + rng.Intn(192)),
		B: uint8(64 + rng.Intn(192)),
		A: 255,
	}
	p.cache[id] = c
	return c
}

// IsBlackKey reports whether a MIDI key is a black key, for keyboard
// drawing.
func IsBlackKey(key uint8) bool {
	switch key % 12 {
	case 1, 3, 6, 8, 10:
		return true
	}
	return false
}
