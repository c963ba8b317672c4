package storage

import (
	"sync"
	"time"

	"github.com/vjranagit/benchdaq/pkg/types"
)

// Config holds series store configuration
type Config struct {
	// MaxSamples bounds every series to its newest N samples. 0 keeps everything.
	MaxSamples int
}

// DefaultConfig returns default store configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSamples: 0,
	}
}

// series holds the samples of one key
type series struct {
	samples []types.Sample
	total   uint64
}

// Store is the in-memory series store of one acquisition session.
// Append is its only data mutator; readers get deep-copied snapshots.
type Store struct {
	cfg      *Config
	mu       sync.RWMutex
	registry *Registry
	data     map[types.SeriesKey]*series
	version  uint64
	lastSeq  uint64
	now      func() time.Time
}

// NewStore creates an empty store
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Store{
		cfg:      cfg,
		registry: NewRegistry(),
		data:     make(map[types.SeriesKey]*series),
		now:      time.Now,
	}
}

// Register inserts key if it is absent. It reports whether the key was newly
// registered; registering an existing key changes nothing.
func (s *Store) Register(key types.SeriesKey) (SeriesMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, created := s.registerLocked(key, s.lastSeq, s.now())
	return *meta, created
}

// registerLocked registers key (must hold lock)
func (s *Store) registerLocked(key types.SeriesKey, seq uint64, at time.Time) (*SeriesMeta, bool) {
	meta, created := s.registry.AddSeries(key, seq, at)
	if created {
		s.data[key] = &series{}
		s.version++
	}
	return meta, created
}

// Append folds pairs into the store in the order given, registering unseen
// keys first. It returns the keys registered by this call.
func (s *Store) Append(seq uint64, at time.Time, pairs []types.FieldPair) []types.SeriesKey {
	if len(pairs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var registered []types.SeriesKey
	for _, pair := range pairs {
		if _, created := s.registerLocked(pair.Key, seq, at); created {
			registered = append(registered, pair.Key)
		}

		ser := s.data[pair.Key]
		ser.samples = append(ser.samples, types.Sample{Seq: seq, Time: at, Value: pair.Value})
		ser.total++
		s.trimLocked(ser)

		s.registry.UpdateSeqRange(pair.Key, seq)
	}

	if seq > s.lastSeq {
		s.lastSeq = seq
	}
	s.version++

	return registered
}

// trimLocked applies the retention window. Samples are compacted once the
// backing slice holds twice the window so appends stay amortised O(1).
func (s *Store) trimLocked(ser *series) {
	limit := s.cfg.MaxSamples
	if limit <= 0 || len(ser.samples) < 2*limit {
		return
	}
	ser.samples = append([]types.Sample(nil), ser.samples[len(ser.samples)-limit:]...)
}

// window returns the retained samples of ser
func (s *Store) window(ser *series) []types.Sample {
	limit := s.cfg.MaxSamples
	if limit > 0 && len(ser.samples) > limit {
		return ser.samples[len(ser.samples)-limit:]
	}
	return ser.samples
}

// Snapshot returns a copy of the store that shares no memory with it
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.registry.Keys()
	snap := Snapshot{
		Version: s.version,
		Series:  make([]SeriesSnapshot, 0, len(keys)),
	}

	for _, key := range keys {
		ser := s.data[key]
		meta, _ := s.registry.GetSeries(key)
		snap.Series = append(snap.Series, SeriesSnapshot{
			Key:     key,
			Meta:    *meta,
			Total:   ser.total,
			Samples: append([]types.Sample{}, s.window(ser)...),
		})
	}

	return snap
}

// Keys returns series keys in registration order
func (s *Store) Keys() []types.SeriesKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Keys()
}

// Len returns the number of retained samples for key
func (s *Store) Len(key types.SeriesKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.data[key]
	if !ok {
		return 0
	}
	return len(s.window(ser))
}

// Version changes every time the store content changes
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SeriesCount returns the number of registered series
func (s *Store) SeriesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.SeriesCount()
}
