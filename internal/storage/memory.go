package storage

import (
	"sync"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// MemoryStorage keeps records in memory. Used by tests and dry runs.
type MemoryStorage struct {
	mu      sync.Mutex
	records []*Record
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Name() string { return "memory" }

func (s *MemoryStorage) Save(records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *MemoryStorage) Close() error { return nil }

// Records returns a copy of everything saved so far.
func (s *MemoryStorage) Records() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByAuthority returns the records saved for one authority.
func (s *MemoryStorage) ByAuthority(a types.Authority) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		if r.Authority == a {
			out = append(out, r)
		}
	}
	return out
}
