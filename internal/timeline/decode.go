package timeline

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gitlab.com/gomidi/midi/v2"
)

const (
	midiHeaderLen = 14

	metaEndOfTrack = 0x2F
	metaSetTempo   = 0x51
)

// errBadEvent marks a single malformed event. Recoverable: the decoder skips
// one byte and resynchronizes.
var errBadEvent = errors.New("timeline: malformed event")

// chunkInfo locates one MTrk chunk inside the file.
type chunkInfo struct {
	offset int64 // byte offset of the chunk body
	length int64
}

// scanHeader validates the MThd chunk and walks the chunk list, returning
// the pulses-per-quarter resolution and the location of every track body.
// Only the 8-byte chunk headers are read.
func scanHeader(r io.ReaderAt, size int64) (ppq uint32, chunks []chunkInfo, err error) {
	var head [midiHeaderLen]byte
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, midiHeaderLen), head[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(head[0:4]) != "MThd" {
		return 0, nil, fmt.Errorf("%w: missing MThd chunk", ErrBadHeader)
	}
	if binary.BigEndian.Uint32(head[4:8]) < 6 {
		return 0, nil, fmt.Errorf("%w: short header chunk", ErrBadHeader)
	}
	division := binary.BigEndian.Uint16(head[12:14])
	if division&0x8000 != 0 {
		return 0, nil, fmt.Errorf("%w: SMPTE time format not supported", ErrBadHeader)
	}
	ppq = uint32(division)

	off := int64(8) + int64(binary.BigEndian.Uint32(head[4:8]))
	var ch [8]byte
	for off+8 <= size {
		if _, err := io.ReadFull(io.NewSectionReader(r, off, 8), ch[:]); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		length := int64(binary.BigEndian.Uint32(ch[4:8]))
		body := off + 8
		if body+length > size {
			return 0, nil, fmt.Errorf("%w: chunk of %d bytes at offset %d exceeds file size %d",
				ErrTruncated, length, off, size)
		}
		if string(ch[0:4]) == "MTrk" {
			chunks = append(chunks, chunkInfo{offset: body, length: length})
		}
		off = body + length
	}
	if len(chunks) == 0 {
		return 0, nil, fmt.Errorf("%w: no MTrk chunks", ErrBadHeader)
	}
	return ppq, chunks, nil
}

// checkpoint is a resumable decode position: restoring it and decoding
// forward reproduces the exact event sequence from that point.
type checkpoint struct {
	tick    uint64
	index   uint64 // events decoded before this point
	pos     int64  // bytes consumed within the chunk body
	running byte
}

// trackReader decodes one MTrk chunk incrementally. Only channel voice
// messages are surfaced; Set Tempo payloads go to tempoOut when set (used by
// the prescan pass) and everything else is consumed in place.
type trackReader struct {
	file  io.ReaderAt
	chunk chunkInfo
	track uint16

	src     *bufio.Reader
	pos     int64
	tick    uint64
	index   uint64
	running byte
	done    bool

	stride      uint64
	checkpoints []checkpoint
	tempoOut    *[]tempoChange
}

func newTrackReader(file io.ReaderAt, chunk chunkInfo, track uint16, stride uint64) *trackReader {
	tr := &trackReader{file: file, chunk: chunk, track: track, stride: stride}
	tr.restore(checkpoint{})
	return tr
}

// restore rewinds the reader to a previously recorded position.
func (t *trackReader) restore(cp checkpoint) {
	t.pos = cp.pos
	t.tick = cp.tick
	t.index = cp.index
	t.running = cp.running
	t.done = false
	t.src = bufio.NewReader(io.NewSectionReader(t.file, t.chunk.offset+cp.pos, t.chunk.length-cp.pos))
}

func (t *trackReader) readByte() (byte, error) {
	b, err := t.src.ReadByte()
	if err != nil {
		if t.pos < t.chunk.length {
			return 0, fmt.Errorf("%w: track %d ends at byte %d of %d announced",
				ErrTruncated, t.track, t.pos, t.chunk.length)
		}
		return 0, io.EOF
	}
	t.pos++
	return b, nil
}

func (t *trackReader) skip(n int64) error {
	for n > 0 {
		if _, err := t.readByte(); err != nil {
			return err
		}
		n--
	}
	return nil
}

func (t *trackReader) readVarLen() (uint64, error) {
	var v uint64
	for i := 0; i < 4; i++ {
		b, err := t.readByte()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, errBadEvent
}

// next decodes the next channel voice event. It returns io.EOF at end of
// track, errBadEvent for a recoverable malformed event (one byte consumed),
// and an ErrTruncated-wrapped error when the chunk is cut short.
func (t *trackReader) next() (tick uint64, msg midi.Message, err error) {
	for !t.done {
		if t.stride > 0 && t.index%t.stride == 0 {
			t.record()
		}

		delta, err := t.readVarLen()
		if err == io.EOF {
			// Chunk consumed without an End of Track meta event. Accept: the
			// announced length was honored.
			t.done = true
			return 0, nil, io.EOF
		}
		if err != nil {
			return 0, nil, err
		}
		t.tick += delta
		t.index++

		status, err := t.readByte()
		if err != nil {
			return 0, nil, err
		}

		switch {
		case status < 0x80:
			// Data byte in status position: running status, or garbage.
			if t.running == 0 {
				return 0, nil, errBadEvent
			}
			msg, err := t.channelMessage(t.running, status)
			if err != nil {
				return 0, nil, err
			}
			return t.tick, msg, nil

		case status <= 0xEF:
			t.running = status
			first, err := t.readByte()
			if err != nil {
				return 0, nil, err
			}
			msg, err := t.channelMessage(status, first)
			if err != nil {
				return 0, nil, err
			}
			return t.tick, msg, nil

		case status == 0xF0 || status == 0xF7:
			t.running = 0
			length, err := t.readVarLen()
			if err != nil {
				return 0, nil, err
			}
			if err := t.skip(int64(length)); err != nil {
				return 0, nil, err
			}

		case status == 0xFF:
			t.running = 0
			if err := t.meta(); err != nil {
				return 0, nil, err
			}

		default:
			// System common messages have no place in an SMF track.
			return 0, nil, errBadEvent
		}
	}
	return 0, nil, io.EOF
}

func (t *trackReader) channelMessage(status, first byte) (midi.Message, error) {
	// Program change and channel pressure carry one data byte, the rest two.
	if status >= 0xC0 && status <= 0xDF {
		return midi.Message([]byte{status, first}), nil
	}
	second, err := t.readByte()
	if err != nil {
		return nil, err
	}
	return midi.Message([]byte{status, first, second}), nil
}

func (t *trackReader) meta() error {
	typ, err := t.readByte()
	if err != nil {
		return err
	}
	length, err := t.readVarLen()
	if err != nil {
		return err
	}
	if typ == metaEndOfTrack {
		t.done = true
		return t.skip(int64(length))
	}
	if typ == metaSetTempo && length == 3 && t.tempoOut != nil {
		var payload [3]byte
		for i := range payload {
			if payload[i], err = t.readByte(); err != nil {
				return err
			}
		}
		*t.tempoOut = append(*t.tempoOut, tempoChange{tick: t.tick, micros: microsFromTempoPayload(payload[:])})
		return nil
	}
	return t.skip(int64(length))
}

func (t *trackReader) record() {
	// After a checkpoint restore the reader re-decodes ground it has already
	// covered; only genuinely new positions are appended, keeping the list
	// sorted and unique.
	n := len(t.checkpoints)
	if n > 0 && t.checkpoints[n-1].index >= t.index {
		return
	}
	t.checkpoints = append(t.checkpoints, checkpoint{
		tick:    t.tick,
		index:   t.index,
		pos:     t.pos,
		running: t.running,
	})
}
