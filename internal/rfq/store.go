package rfq

import (
	"errors"
	"sync"

	"github.com/optionsfi/rfq-router/pkg/model"
)

// ErrDuplicateID is returned when a store already holds an entity with the same id.
var ErrDuplicateID = errors.New("rfq id already exists")

// Entry guards one RFQ entity. Every read or mutation of the wrapped RFQ
// happens with mu held, so a status check and the write that depends on it
// can never interleave with another caller.
type Entry struct {
	mu  sync.Mutex
	rfq *model.Rfq
}

// NewEntry wraps an RFQ for storage.
func NewEntry(r *model.Rfq) *Entry {
	return &Entry{rfq: r}
}

// ID returns the id of the wrapped RFQ. It is immutable, so no lock is taken.
func (e *Entry) ID() string {
	return e.rfq.ID
}

// Store holds RFQ entries. Implementations must be safe for concurrent use;
// the per-entity locking is done by Entry, not by the store.
type Store interface {
	Put(e *Entry) error
	Get(id string) (*Entry, bool)
	Range(fn func(e *Entry) bool)
	Delete(id string)
	Len() int
}

// MemoryStore is the single-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID()]; ok {
		return ErrDuplicateID
	}
	s.entries[e.ID()] = e
	return nil
}

func (s *MemoryStore) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Range calls fn for a snapshot of the current entries; fn may lock entries
// and call Delete without deadlocking.
func (s *MemoryStore) Range(fn func(e *Entry) bool) {
	s.mu.RLock()
	snapshot := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	s.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e) {
			return
		}
	}
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
