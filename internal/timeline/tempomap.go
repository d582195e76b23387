package timeline

import (
	"sort"
	"time"
)

const defaultMicrosPerQuarter = 500000 // 120 BPM

// tempoChange is one Set Tempo meta event at an absolute tick.
type tempoChange struct {
	tick   uint64
	micros uint64 // microseconds per quarter note
}

// tempoMap converts absolute ticks to absolute time. Both timeline variants
// share it so their event times agree exactly; all math is integer
// microseconds, truncating per segment.
type tempoMap struct {
	ppq     uint64
	changes []tempoChange
	cum     []int64 // cumulative microseconds at each change
}

// newTempoMap builds a map from per-track tempo lists, in track order.
// Changes are sorted by tick; for equal ticks the later entry in merged file
// order wins. A default 120 BPM entry is ensured at tick zero.
func newTempoMap(ppq uint32, perTrack [][]tempoChange) *tempoMap {
	var merged []tempoChange
	for _, list := range perTrack {
		merged = append(merged, list...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].tick < merged[j].tick })

	changes := []tempoChange{{tick: 0, micros: defaultMicrosPerQuarter}}
	for _, tc := range merged {
		last := &changes[len(changes)-1]
		if tc.tick == last.tick {
			last.micros = tc.micros
		} else {
			changes = append(changes, tc)
		}
	}

	tm := &tempoMap{ppq: uint64(ppq), changes: changes, cum: make([]int64, len(changes))}
	for i := 1; i < len(changes); i++ {
		dt := changes[i].tick - changes[i-1].tick
		tm.cum[i] = tm.cum[i-1] + int64(dt*changes[i-1].micros/tm.ppq)
	}
	return tm
}

// TimeAt returns the absolute time of a tick.
func (tm *tempoMap) TimeAt(tick uint64) time.Duration {
	i := sort.Search(len(tm.changes), func(i int) bool { return tm.changes[i].tick > tick }) - 1
	micros := tm.cum[i] + int64((tick-tm.changes[i].tick)*tm.changes[i].micros/tm.ppq)
	return time.Duration(micros) * time.Microsecond
}

// microsToChange converts a 24-bit Set Tempo payload.
func microsFromTempoPayload(b []byte) uint64 {
	return uint64(b[0])<<16 | uint64(b[1])<<8 | uint64(b[2])
}

// microsFromBPM inverts the BPM float the smf package reports for a Set
// Tempo event. Tempo payloads are integer microseconds, so rounding the
// reciprocal recovers the original value exactly.
func microsFromBPM(bpm float64) uint64 {
	if bpm <= 0 {
		return defaultMicrosPerQuarter
	}
	return uint64(60000000.0/bpm + 0.5)
}
