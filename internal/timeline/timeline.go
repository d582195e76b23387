// Package timeline turns a Standard MIDI File into an ordered, seekable
// source of time-tagged events. Two variants exist behind one contract: a
// Buffered timeline that parses the whole file into memory at load, and a
// Streamed timeline that decodes incrementally from storage with resumable
// checkpoints. Both yield bit-identical event sequences for the same file.
package timeline

import (
	"errors"
	"time"

	"gitlab.com/gomidi/midi/v2"
)

var (
	// ErrBadHeader reports an unreadable or unsupported file header. Fatal:
	// no timeline is created.
	ErrBadHeader = errors.New("timeline: malformed midi header")

	// ErrTruncated reports a track that ends before its announced length.
	// Fatal for the session.
	ErrTruncated = errors.New("timeline: truncated midi track")
)

// Event is one channel voice message tagged with its absolute time.
// The message is owned by the timeline; callers must not retain it past the
// dispatch callback.
type Event struct {
	Time    time.Duration
	Message midi.Message
	Track   uint16
}

// Timeline is the ordered source of events. The cursor always sits at the
// first event not yet handed out; Advance moves it forward, SeekTo
// re-synchronizes it to an arbitrary time without handing anything out.
type Timeline interface {
	// Advance calls fn for every not-yet-handed-out event with Time <= now,
	// in non-decreasing time order with ties broken by file order, and moves
	// the cursor past them. Events are handed out exactly once unless the
	// cursor is moved back over them with SeekTo.
	Advance(now time.Duration, fn func(Event)) error

	// SeekTo moves the cursor to the first event with Time >= t. Events
	// before t are discarded without being handed out; events at or after t
	// become pending again when the cursor moves back over them.
	SeekTo(t time.Duration) error

	// Length is the absolute time of the end of the last track.
	Length() time.Duration

	// TotalNotes is the number of note-on events that survive the velocity
	// filter, fixed at load.
	TotalNotes() uint64

	// SkippedEvents counts malformed events skipped during decode.
	SkippedEvents() uint64

	Close() error
}

// Options selects which note-ons count as notes and are worth dispatching.
// Note-ons with velocity inside [VelIgnoreLo, VelIgnoreHi] are suppressed.
type Options struct {
	VelIgnoreLo uint8
	VelIgnoreHi uint8
}

// CountsNote reports whether msg is a sounding note-on under the velocity
// filter. Note-ons with velocity zero are note-offs and never count.
func (o Options) CountsNote(msg midi.Message) bool {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return false
	}
	return vel < o.VelIgnoreLo || vel > o.VelIgnoreHi
}

// isChannelVoice reports whether raw holds a channel voice message, the only
// kind of event a timeline carries. Meta events are consumed for the tempo
// map; sysex is skipped.
func isChannelVoice(raw []byte) bool {
	return len(raw) > 0 && raw[0] >= 0x80 && raw[0] <= 0xEF
}
