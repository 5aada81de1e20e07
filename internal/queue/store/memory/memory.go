// Package memory provides the map-backed Store used by default.
package memory

import (
	"github.com/snehjoshi/relayq/internal/queue/store"
	"github.com/snehjoshi/relayq/internal/types"
)

// Store keeps records in a plain map keyed by id.
//
// The owning engine serializes all access, so no internal locking is needed.
// Records are shared by pointer: the engine mutates a record in place and
// calls Put with the same pointer, which makes Put effectively free here.
type Store[P any] struct {
	recs map[string]*types.Record[P]
}

// New returns an empty in-memory store.
func New[P any]() *Store[P] {
	return &Store[P]{recs: make(map[string]*types.Record[P])}
}

var _ store.Store[any] = (*Store[any])(nil)

// Put inserts or replaces the record under rec.ID.
func (s *Store[P]) Put(rec *types.Record[P]) error {
	s.recs[rec.ID] = rec
	return nil
}

// Get returns the record for id, or store.ErrNotFound.
func (s *Store[P]) Get(id string) (*types.Record[P], error) {
	rec, ok := s.recs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

// Delete removes the record for id.
func (s *Store[P]) Delete(id string) error {
	delete(s.recs, id)
	return nil
}

// Each calls fn for every record until fn returns false.
func (s *Store[P]) Each(fn func(rec *types.Record[P]) bool) error {
	for _, rec := range s.recs {
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *Store[P]) Len() (int, error) {
	return len(s.recs), nil
}

// Close is a no-op for the in-memory store.
func (s *Store[P]) Close() error { return nil }
