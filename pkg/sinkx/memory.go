package sinkx

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	fail    error
}

// NewMemoryStore creates a store preloaded with records.
func NewMemoryStore(records ...Record) *MemoryStore {
	return &MemoryStore{records: append([]Record(nil), records...)}
}

// FailWith makes every later Append return err. nil clears it.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context) ([]Record, error) {
	return s.Records(), nil
}

// Records returns a copy of what was appended.
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *MemoryStore) Close() error { return nil }
