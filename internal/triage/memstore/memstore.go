// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/beacon/internal/triage"
)

// Store holds the call log in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records []triage.Record
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{}
}

// Append adds rec after every earlier record, moving its timestamp forward
// if it would precede the previous one. Returns the stored copy.
func (s *Store) Append(_ context.Context, rec triage.Record) (triage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.records); n > 0 {
		rec = rec.NotBefore(s.records[n-1].Timestamp)
	}
	s.records = append(s.records, rec)
	return rec, nil
}

// LoadAll returns a copy of every record in append order.
func (s *Store) LoadAll(_ context.Context) ([]triage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]triage.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}
