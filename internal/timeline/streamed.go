package timeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// checkpointStride is how many events each track decodes between resumable
// checkpoints. Backward seeks restore the nearest checkpoint at or before
// the target instead of re-decoding the track from its start.
const checkpointStride = 256

// Streamed is the incremental timeline variant: tracks are decoded from
// storage as time advances, merged on the fly. Memory stays bounded by the
// per-track heads and the checkpoint list; only a cheap prescan pass (tempo
// map, note totals, length) touches the whole file at load.
type Streamed struct {
	f       *os.File
	tm      *tempoMap
	readers []*trackReader
	heads   []streamHead
	pos     time.Duration // time up to which the cursor is valid
	length  time.Duration
	notes   uint64
	skipped uint64
	log     *zap.Logger
}

// streamHead is one track's lookahead: the next not-yet-dispatched event.
type streamHead struct {
	ev Event
	ok bool
}

// OpenStreamed opens the file at path for incremental decode. The prescan
// pass surfaces structural corruption as a load error; malformed single
// events found later during playback are skipped and counted.
func OpenStreamed(path string, opts Options, log *zap.Logger) (*Streamed, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open midi file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat midi file: %w", err)
	}

	ppq, chunks, err := scanHeader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	// Prescan: tempo map, note totals and length come from a single skim
	// over every track. Events are decoded but not retained.
	tempos := make([][]tempoChange, len(chunks))
	var notes uint64
	var maxTick uint64
	for ti, chunk := range chunks {
		tr := newTrackReader(f, chunk, uint16(ti), 0)
		tr.tempoOut = &tempos[ti]
		for {
			_, msg, err := tr.next()
			if err == io.EOF {
				break
			}
			if err == errBadEvent {
				continue
			}
			if err != nil {
				f.Close()
				return nil, err
			}
			if opts.CountsNote(msg) {
				notes++
			}
		}
		if tr.tick > maxTick {
			maxTick = tr.tick
		}
	}
	tm := newTempoMap(ppq, tempos)

	s := &Streamed{
		f:      f,
		tm:     tm,
		heads:  make([]streamHead, len(chunks)),
		length: tm.TimeAt(maxTick),
		notes:  notes,
		log:    log,
	}
	for ti, chunk := range chunks {
		s.readers = append(s.readers, newTrackReader(f, chunk, uint16(ti), checkpointStride))
	}
	for i := range s.readers {
		if err := s.advanceHead(i); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// advanceHead decodes track i's next channel event into its head slot,
// skipping malformed events.
func (s *Streamed) advanceHead(i int) error {
	tr := s.readers[i]
	for {
		tick, msg, err := tr.next()
		if err == io.EOF {
			s.heads[i] = streamHead{}
			return nil
		}
		if err == errBadEvent {
			s.skipped++
			s.log.Warn("skipping malformed midi event",
				zap.Uint16("track", tr.track),
				zap.Uint64("tick", tr.tick),
				zap.Uint64("skipped", s.skipped))
			continue
		}
		if err != nil {
			return err
		}
		s.heads[i] = streamHead{ev: Event{Time: s.tm.TimeAt(tick), Message: msg, Track: tr.track}, ok: true}
		return nil
	}
}

// nextDue returns the index of the track whose head is due at or before
// limit, earliest time first with ties broken by track order, or -1.
func (s *Streamed) nextDue(limit time.Duration) int {
	best := -1
	for i, h := range s.heads {
		if !h.ok || h.ev.Time > limit {
			continue
		}
		if best == -1 || h.ev.Time < s.heads[best].ev.Time {
			best = i
		}
	}
	return best
}

func (s *Streamed) Advance(now time.Duration, fn func(Event)) error {
	for {
		i := s.nextDue(now)
		if i == -1 {
			s.pos = now
			return nil
		}
		ev := s.heads[i].ev
		if err := s.advanceHead(i); err != nil {
			return err
		}
		fn(ev)
	}
}

func (s *Streamed) SeekTo(t time.Duration) error {
	if t <= s.pos {
		// Backward: restore each track to its nearest checkpoint strictly
		// before the target, or its start when the target precedes every
		// retained checkpoint. Events at exactly t must become pending
		// again, so a checkpoint at t itself is too far.
		for i, tr := range s.readers {
			best := checkpoint{}
			for _, cp := range tr.checkpoints {
				if s.tm.TimeAt(cp.tick) >= t {
					break
				}
				best = cp
			}
			tr.restore(best)
			if err := s.advanceHead(i); err != nil {
				return err
			}
		}
	}
	// Forward in both cases now: discard everything strictly before the
	// target without handing it out.
	for {
		best := -1
		for i, h := range s.heads {
			if !h.ok || h.ev.Time >= t {
				continue
			}
			if best == -1 || h.ev.Time < s.heads[best].ev.Time {
				best = i
			}
		}
		if best == -1 {
			s.pos = t
			return nil
		}
		if err := s.advanceHead(best); err != nil {
			return err
		}
	}
}

func (s *Streamed) Length() time.Duration { return s.length }
func (s *Streamed) TotalNotes() uint64    { return s.notes }
func (s *Streamed) SkippedEvents() uint64 { return s.skipped }
func (s *Streamed) Close() error          { return s.f.Close() }
