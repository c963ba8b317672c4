package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/benchdaq/pkg/types"
)

// Journal kinds
const (
	KindParse     = "parse"
	KindTransport = "transport"
)

var journalPrefix = []byte("diag/")

// JournalEntry is one recorded acquisition problem
type JournalEntry struct {
	ID       uint64               `json:"id"`
	Cycle    uint64               `json:"cycle"`
	Time     time.Time            `json:"time"`
	Kind     string               `json:"kind"`
	Line     string               `json:"line,omitempty"`
	Failures []types.SegmentError `json:"failures,omitempty"`
	Message  string               `json:"message,omitempty"`
}

// Journal keeps recent parse and transport failures of the session. It lives
// in memory only and entries expire after the configured TTL.
type Journal struct {
	db     *badger.DB
	ttl    time.Duration
	mu     sync.Mutex
	nextID uint64
}

// OpenJournal opens an in-memory journal. A ttl of 0 keeps entries until Close.
func OpenJournal(ttl time.Duration) (*Journal, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithMemTableSize(8 << 20)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{
		db:  db,
		ttl: ttl,
	}, nil
}

// Append records entry and returns its assigned ID
func (j *Journal) Append(entry JournalEntry) (uint64, error) {
	j.mu.Lock()
	j.nextID++
	entry.ID = j.nextID
	j.mu.Unlock()

	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(journalKey(entry.ID), data)
		if j.ttl > 0 {
			e = e.WithTTL(j.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write journal entry: %w", err)
	}

	return entry.ID, nil
}

// Recent returns up to limit unexpired entries, newest first. limit <= 0 returns all.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	var entries []JournalEntry

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = journalPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, journalPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(journalPrefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}

			var entry JournalEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal journal entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Count returns the number of entries ever appended
func (j *Journal) Count() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextID
}

// Close releases the journal
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// journalKey orders entries by ID under the journal prefix
func journalKey(id uint64) []byte {
	key := append([]byte{}, journalPrefix...)
	return binary.BigEndian.AppendUint64(key, id)
}
