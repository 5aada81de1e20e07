// Package store defines the record-collection abstraction backing a queue
// engine.
//
// Design principle: the queue engine must ONLY touch its records through this
// interface. The engine owns all locking and all lifecycle decisions; a Store
// is a dumb keyed collection and is not required to be safe for concurrent
// use on its own.
package store

import (
	"errors"

	"github.com/snehjoshi/relayq/internal/types"
)

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("store: not found")

// Store is a collection of records keyed by id.
//
// Implementations:
//   - memory.Store — map-backed, zero dependencies, the default
//   - bolt.Store   — bbolt-backed, records survive restarts
//
// Both variants must exhibit identical observable behaviour; the shared
// conformance suite in the queue package runs against each.
type Store[P any] interface {
	// Put inserts or replaces the record under rec.ID.
	Put(rec *types.Record[P]) error

	// Get returns the record for id, or ErrNotFound.
	// Callers must not retain or mutate the result across another Store call;
	// persistence-backed implementations return a decoded copy per call.
	Get(id string) (*types.Record[P], error)

	// Delete removes the record for id. Deleting an absent id is a no-op.
	Delete(id string) error

	// Each calls fn for every record in an unspecified order. Iteration stops
	// early when fn returns false. The record passed to fn follows the same
	// aliasing rules as Get.
	Each(fn func(rec *types.Record[P]) bool) error

	// Len returns the number of stored records.
	Len() (int, error)

	// Close releases any resources held by the store.
	Close() error
}
