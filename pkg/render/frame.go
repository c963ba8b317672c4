package render

import (
	"sync"
	"time"

	"github.com/vjranagit/benchdaq/pkg/storage"
)

// Frame holds the snapshot most recently handed to the renderer. The
// ingestion loop updates it once per tick; readers never touch the store.
type Frame struct {
	mu      sync.RWMutex
	snap    storage.Snapshot
	updated time.Time
	count   uint64
	changed chan struct{}
}

// NewFrame creates an empty frame holder
func NewFrame() *Frame {
	return &Frame{changed: make(chan struct{})}
}

// Update replaces the current frame and wakes everyone waiting on Changed
func (f *Frame) Update(snap storage.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.snap = snap
	f.updated = time.Now()
	f.count++
	close(f.changed)
	f.changed = make(chan struct{})
}

// Changed returns a channel that is closed by the next Update
func (f *Frame) Changed() <-chan struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.changed
}

// Latest returns the current frame and when it was set
func (f *Frame) Latest() (storage.Snapshot, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap, f.updated
}

// Snapshot returns the current frame
func (f *Frame) Snapshot() storage.Snapshot {
	snap, _ := f.Latest()
	return snap
}

// Count returns how many frames have been delivered
func (f *Frame) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}
