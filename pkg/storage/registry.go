package storage

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vjranagit/benchdaq/pkg/types"
)

// Registry tracks every series key seen in a session, in registration order
type Registry struct {
	series map[types.SeriesKey]*SeriesMeta
	order  []types.SeriesKey
}

// SeriesMeta holds metadata about a single series
type SeriesMeta struct {
	ID            uint64          `json:"id"`
	Key           types.SeriesKey `json:"key"`
	RegisteredSeq uint64          `json:"registered_seq"`
	RegisteredAt  time.Time       `json:"registered_at"`
	FirstSeq      uint64          `json:"first_seq"`
	LastSeq       uint64          `json:"last_seq"`
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		series: make(map[types.SeriesKey]*SeriesMeta),
	}
}

// AddSeries registers key if absent and reports whether it was created
func (r *Registry) AddSeries(key types.SeriesKey, seq uint64, at time.Time) (*SeriesMeta, bool) {
	if meta, exists := r.series[key]; exists {
		return meta, false
	}

	meta := &SeriesMeta{
		ID:            calculateFingerprint(key),
		Key:           key,
		RegisteredSeq: seq,
		RegisteredAt:  at,
	}
	r.series[key] = meta
	r.order = append(r.order, key)

	return meta, true
}

// GetSeries retrieves series metadata by key
func (r *Registry) GetSeries(key types.SeriesKey) (*SeriesMeta, bool) {
	meta, ok := r.series[key]
	return meta, ok
}

// UpdateSeqRange records that key received a sample in cycle seq
func (r *Registry) UpdateSeqRange(key types.SeriesKey, seq uint64) {
	meta, ok := r.series[key]
	if !ok {
		return
	}

	if meta.FirstSeq == 0 || seq < meta.FirstSeq {
		meta.FirstSeq = seq
	}
	if seq > meta.LastSeq {
		meta.LastSeq = seq
	}
}

// Keys returns a copy of the keys in registration order
func (r *Registry) Keys() []types.SeriesKey {
	return append([]types.SeriesKey(nil), r.order...)
}

// SeriesCount returns the number of registered series
func (r *Registry) SeriesCount() int {
	return len(r.series)
}

// calculateFingerprint generates a stable ID for a key
func calculateFingerprint(key types.SeriesKey) uint64 {
	return xxhash.Sum64String(string(key))
}
