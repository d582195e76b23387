package timeline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// writeSMF renders tracks into a temp file and returns its path.
func writeSMF(t *testing.T, ppq uint16, tracks ...smf.Track) string {
	t.Helper()
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(ppq)
	for i, tr := range tracks {
		if err := sm.Add(tr); err != nil {
			t.Fatalf("adding track %d: %v", i, err)
		}
	}
	path := filepath.Join(t.TempDir(), "test.mid")
	if err := sm.WriteFile(path); err != nil {
		t.Fatalf("writing smf: %v", err)
	}
	return path
}

// twoTrackFile builds a file with a tempo change, overlapping notes on both
// tracks and a few non-note channel messages.
func twoTrackFile(t *testing.T) string {
	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(120))
	tempo.Add(960, smf.MetaTempo(60))
	tempo.Close(0)

	var melody smf.Track
	melody.Add(0, midi.ProgramChange(0, 5))
	melody.Add(0, midi.NoteOn(0, 60, 100))
	melody.Add(480, midi.NoteOn(0, 64, 90))
	melody.Add(240, midi.NoteOff(0, 60))
	melody.Add(240, midi.NoteOff(0, 64))
	melody.Add(0, midi.NoteOn(0, 67, 80))
	melody.Add(960, midi.NoteOff(0, 67))
	melody.Close(0)

	var bass smf.Track
	bass.Add(0, midi.NoteOn(1, 36, 110))
	bass.Add(480, midi.ControlChange(1, 64, 127))
	bass.Add(480, midi.NoteOff(1, 36))
	bass.Add(0, midi.NoteOn(1, 38, 110))
	bass.Add(480, midi.NoteOff(1, 38))
	bass.Close(0)

	return writeSMF(t, 480, tempo, melody, bass)
}

func collect(t *testing.T, tl Timeline, now time.Duration) []Event {
	t.Helper()
	var out []Event
	if err := tl.Advance(now, func(ev Event) { out = append(out, ev) }); err != nil {
		t.Fatalf("advance: %v", err)
	}
	return out
}

func openBoth(t *testing.T, path string, opts Options) (Timeline, Timeline) {
	t.Helper()
	buf, err := LoadBuffered(path, opts)
	if err != nil {
		t.Fatalf("buffered load: %v", err)
	}
	str, err := OpenStreamed(path, opts, nil)
	if err != nil {
		t.Fatalf("streamed open: %v", err)
	}
	t.Cleanup(func() {
		buf.Close()
		str.Close()
	})
	return buf, str
}

func eventsEqual(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Time != b[i].Time || a[i].Track != b[i].Track ||
			!bytes.Equal(a[i].Message.Bytes(), b[i].Message.Bytes()) {
			return false
		}
	}
	return true
}

func TestBufferedStreamedYieldIdenticalSequences(t *testing.T) {
	path := twoTrackFile(t)
	buf, str := openBoth(t, path, Options{})

	end := buf.Length() + time.Second
	fromBuf := collect(t, buf, end)
	fromStr := collect(t, str, end)

	if len(fromBuf) == 0 {
		t.Fatalf("expected events, got none")
	}
	if !eventsEqual(fromBuf, fromStr) {
		t.Fatalf("variants disagree:\nbuffered: %v\nstreamed: %v", fromBuf, fromStr)
	}
	if buf.TotalNotes() != str.TotalNotes() {
		t.Fatalf("note totals disagree: %d vs %d", buf.TotalNotes(), str.TotalNotes())
	}
	if buf.Length() != str.Length() {
		t.Fatalf("lengths disagree: %v vs %v", buf.Length(), str.Length())
	}
}

func TestWindowedAdvanceMatchesOneShot(t *testing.T) {
	path := twoTrackFile(t)
	buf, str := openBoth(t, path, Options{})

	end := buf.Length()
	want := collect(t, buf, end)

	var got []Event
	step := 100 * time.Millisecond
	var now time.Duration
	for now < end {
		now += step
		if now > end {
			now = end
		}
		got = append(got, collect(t, str, now)...)
	}
	if !eventsEqual(want, got) {
		t.Fatalf("windowed advance disagrees with one-shot:\nwant %v\ngot  %v", want, got)
	}
}

func TestEventOrderIsNonDecreasingWithTrackTieBreak(t *testing.T) {
	path := twoTrackFile(t)
	buf, _ := openBoth(t, path, Options{})

	events := collect(t, buf, buf.Length())
	for i := 1; i < len(events); i++ {
		if events[i].Time < events[i-1].Time {
			t.Fatalf("event %d out of order: %v after %v", i, events[i].Time, events[i-1].Time)
		}
		if events[i].Time == events[i-1].Time && events[i].Track < events[i-1].Track {
			t.Fatalf("tie at %v broken against track order", events[i].Time)
		}
	}
}

func TestSeekToIsIdempotent(t *testing.T) {
	path := twoTrackFile(t)
	for _, tl := range func() []Timeline { a, b := openBoth(t, path, Options{}); return []Timeline{a, b} }() {
		target := 700 * time.Millisecond
		if err := tl.SeekTo(target); err != nil {
			t.Fatalf("first seek: %v", err)
		}
		if err := tl.SeekTo(target); err != nil {
			t.Fatalf("second seek: %v", err)
		}
		first := collect(t, tl, tl.Length())

		if err := tl.SeekTo(target); err != nil {
			t.Fatalf("re-seek: %v", err)
		}
		second := collect(t, tl, tl.Length())
		if !eventsEqual(first, second) {
			t.Fatalf("re-seek produced a different sequence")
		}
		for _, ev := range first {
			if ev.Time < target {
				t.Fatalf("event at %v handed out despite cursor at %v", ev.Time, target)
			}
		}
	}
}

// largeFile produces more events per track than the checkpoint stride so
// backward seeks exercise checkpoint restore rather than a full rescan.
func largeFile(t *testing.T) string {
	var tempo smf.Track
	tempo.Add(0, smf.MetaTempo(120))
	tempo.Close(0)

	var tr smf.Track
	for i := 0; i < 4*checkpointStride; i++ {
		key := uint8(30 + i%60)
		tr.Add(20, midi.NoteOn(0, key, 100))
		tr.Add(20, midi.NoteOff(0, key))
	}
	tr.Close(0)
	return writeSMF(t, 480, tempo, tr)
}

func TestStreamedBackwardSeekMatchesBuffered(t *testing.T) {
	path := largeFile(t)
	buf, str := openBoth(t, path, Options{})
	end := buf.Length()

	// Play everything forward, then jump back to the middle.
	collect(t, str, end)
	mid := end / 2
	if err := str.SeekTo(mid); err != nil {
		t.Fatalf("backward seek: %v", err)
	}
	if err := buf.SeekTo(mid); err != nil {
		t.Fatalf("buffered seek: %v", err)
	}

	want := collect(t, buf, end)
	got := collect(t, str, end)
	if len(want) == 0 {
		t.Fatalf("expected events after mid-point seek")
	}
	if !eventsEqual(want, got) {
		t.Fatalf("after backward seek variants disagree: %d vs %d events", len(want), len(got))
	}
}

func TestStreamedSeekBeforeFirstCheckpointRestarts(t *testing.T) {
	path := largeFile(t)
	buf, str := openBoth(t, path, Options{})
	end := buf.Length()

	collect(t, str, end)
	if err := str.SeekTo(0); err != nil {
		t.Fatalf("seek to start: %v", err)
	}
	want := collect(t, buf, end)
	got := collect(t, str, end)
	if !eventsEqual(want, got) {
		t.Fatalf("replay from start disagrees with buffered reference")
	}
}

func TestTotalNotesHonorsVelocityIgnoreRange(t *testing.T) {
	var tr smf.Track
	tr.Add(0, midi.NoteOn(0, 60, 5))
	tr.Add(10, midi.NoteOn(0, 61, 15))
	tr.Add(10, midi.NoteOn(0, 62, 40))
	tr.Add(10, midi.NoteOff(0, 60))
	tr.Add(0, midi.NoteOff(0, 61))
	tr.Add(0, midi.NoteOff(0, 62))
	tr.Close(0)
	path := writeSMF(t, 480, tr)

	opts := Options{VelIgnoreLo: 10, VelIgnoreHi: 20}
	buf, str := openBoth(t, path, opts)
	if got := buf.TotalNotes(); got != 2 {
		t.Fatalf("buffered total notes: got %d, want 2", got)
	}
	if got := str.TotalNotes(); got != 2 {
		t.Fatalf("streamed total notes: got %d, want 2", got)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.mid")
	if err := os.WriteFile(path, []byte("this is not a midi file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBuffered(path, Options{}); err == nil {
		t.Fatalf("buffered load accepted garbage")
	}
	if _, err := OpenStreamed(path, Options{}, nil); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("streamed open: got %v, want ErrBadHeader", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.mid")
	if _, err := LoadBuffered(missing, Options{}); err == nil {
		t.Fatalf("buffered load accepted missing file")
	}
	if _, err := OpenStreamed(missing, Options{}, nil); err == nil {
		t.Fatalf("streamed open accepted missing file")
	}
}

func TestStreamedRejectsTruncatedTrack(t *testing.T) {
	path := twoTrackFile(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cut := filepath.Join(t.TempDir(), "cut.mid")
	if err := os.WriteFile(cut, data[:len(data)-10], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenStreamed(cut, Options{}, nil); !errors.Is(err, ErrTruncated) {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}

// rawFile writes a hand-built track chunk so malformed bytes can be placed
// precisely.
func rawFile(t *testing.T, trackBody []byte) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 6, 0, 0, 0, 1, 0x01, 0xE0}) // format 0, 1 track, ppq 480
	buf.WriteString("MTrk")
	buf.Write([]byte{byte(len(trackBody) >> 24), byte(len(trackBody) >> 16), byte(len(trackBody) >> 8), byte(len(trackBody))})
	buf.Write(trackBody)
	path := filepath.Join(t.TempDir(), "raw.mid")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStreamedSkipsSingleMalformedEvent(t *testing.T) {
	body := []byte{
		0x00, 0x42, // data byte with no running status yet: malformed
		0x00, 0x90, 60, 100, // note on
		0x10, 0x80, 60, 0, // note off, explicit status
		0x00, 0xFF, 0x2F, 0x00, // end of track
	}
	path := rawFile(t, body)

	str, err := OpenStreamed(path, Options{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer str.Close()

	events := collect(t, str, str.Length()+time.Second)
	if len(events) != 2 {
		t.Fatalf("expected 2 events around the malformed one, got %d", len(events))
	}
	if str.SkippedEvents() != 1 {
		t.Fatalf("skipped counter: got %d, want 1", str.SkippedEvents())
	}
}

func TestStreamedRunningStatusDecode(t *testing.T) {
	body := []byte{
		0x00, 0x90, 60, 100, // note on, sets running status
		0x60, 60, 0, // running status note on vel 0 (= note off)
		0x60, 62, 100, // running status note on
		0x60, 62, 0,
		0x00, 0xFF, 0x2F, 0x00,
	}
	path := rawFile(t, body)

	str, err := OpenStreamed(path, Options{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer str.Close()

	events := collect(t, str, str.Length()+time.Second)
	if len(events) != 4 {
		t.Fatalf("expected 4 events via running status, got %d", len(events))
	}
	var ch, key, vel uint8
	if !events[2].Message.GetNoteStart(&ch, &key, &vel) || key != 62 {
		t.Fatalf("running status event decoded wrong: %v", events[2].Message)
	}
}

func TestTempoMapTimeAt(t *testing.T) {
	tm := newTempoMap(480, [][]tempoChange{{
		{tick: 0, micros: 500000}, // 120 BPM
		{tick: 960, micros: 1000000}, // 60 BPM from tick 960
	}})

	cases := []struct {
		tick uint64
		want time.Duration
	}{
		{0, 0},
		{480, 500 * time.Millisecond},
		{960, time.Second},
		{1440, 2 * time.Second},
	}
	for _, c := range cases {
		if got := tm.TimeAt(c.tick); got != c.want {
			t.Errorf("TimeAt(%d): got %v, want %v", c.tick, got, c.want)
		}
	}
}

func TestTempoMapDefaultsTo120BPM(t *testing.T) {
	tm := newTempoMap(480, nil)
	if got := tm.TimeAt(960); got != time.Second {
		t.Fatalf("default tempo: TimeAt(960) = %v, want 1s", got)
	}
}
