package sensor

import (
	"math"
	"sort"
)

type recordKey struct {
	unixNano int64
	station  string
	device   string
	sensor   string
	value    uint64
}

func keyOf(o Observation) recordKey {
	return recordKey{
		unixNano: o.Timestamp.UnixNano(),
		station:  o.Station,
		device:   o.Device,
		sensor:   o.Sensor,
		value:    math.Float64bits(o.Value),
	}
}

// Merge concatenates fragments in call order, drops exact duplicates (same
// timestamp, station, device, sensor and value) keeping the first copy, and
// orders the result by Observation.Less. Merging an already merged sequence
// with itself returns the same sequence.
func Merge(fragments ...Fragment) []Observation {
	total := 0
	for _, f := range fragments {
		total += len(f.Records)
	}

	seen := make(map[recordKey]struct{}, total)
	out := make([]Observation, 0, total)
	for _, f := range fragments {
		for _, rec := range f.Records {
			k := keyOf(rec)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})
	return out
}

// MergeRecords is Merge over plain record sequences.
func MergeRecords(seqs ...[]Observation) []Observation {
	fragments := make([]Fragment, len(seqs))
	for i, s := range seqs {
		fragments[i] = Fragment{Records: s}
	}
	return Merge(fragments...)
}
