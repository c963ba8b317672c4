package storage

import "github.com/vjranagit/benchdaq/pkg/types"

// SeriesSnapshot is a read-only copy of one series
type SeriesSnapshot struct {
	Key     types.SeriesKey `json:"key"`
	Meta    SeriesMeta      `json:"meta"`
	Total   uint64          `json:"total"`
	Samples []types.Sample  `json:"samples"`
}

// Values returns the sample values in arrival order
func (ss SeriesSnapshot) Values() []float64 {
	values := make([]float64, len(ss.Samples))
	for i, sample := range ss.Samples {
		values[i] = sample.Value
	}
	return values
}

// Snapshot is a point-in-time copy of the store, series in registration order
type Snapshot struct {
	Version uint64           `json:"version"`
	Series  []SeriesSnapshot `json:"series"`
}

// Get returns the series for key
func (s Snapshot) Get(key types.SeriesKey) (SeriesSnapshot, bool) {
	for _, ss := range s.Series {
		if ss.Key == key {
			return ss, true
		}
	}
	return SeriesSnapshot{}, false
}

// Keys returns the snapshot keys in registration order
func (s Snapshot) Keys() []types.SeriesKey {
	keys := make([]types.SeriesKey, len(s.Series))
	for i, ss := range s.Series {
		keys[i] = ss.Key
	}
	return keys
}

// Values flattens the snapshot into key -> values
func (s Snapshot) Values() map[types.SeriesKey][]float64 {
	out := make(map[types.SeriesKey][]float64, len(s.Series))
	for _, ss := range s.Series {
		out[ss.Key] = ss.Values()
	}
	return out
}

// Empty reports whether no series hold any samples
func (s Snapshot) Empty() bool {
	for _, ss := range s.Series {
		if len(ss.Samples) > 0 {
			return false
		}
	}
	return true
}
