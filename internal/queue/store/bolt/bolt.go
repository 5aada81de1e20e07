// Package bolt provides the bbolt-backed Store variant.
//
// bbolt is used for the same reasons it backed the index in earlier designs:
// pure Go, ACID, one file per queue, battle-tested under etcd. A queue opened
// on an existing file resumes exactly where it left off — in-flight visibility
// deadlines and receive counts are part of the stored record, so crash
// recovery needs no rebuild pass: the engine's time predicates do the rest.
package bolt

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/relayq/internal/queue/store"
	"github.com/snehjoshi/relayq/internal/types"
)

var bucketRecords = []byte("records")

// Codec converts payloads to and from bytes for persistence. The method set
// deliberately matches the queue engine's serializer so one implementation
// (e.g. codec.JSON) can serve both boundaries.
type Codec[P any] interface {
	Serialize(p P) ([]byte, error)
	Deserialize(data []byte) (P, error)
}

// Store persists records in a single bbolt file.
//
// The owning engine serializes all access; bbolt's own transaction locking is
// still in effect underneath but is never contended.
type Store[P any] struct {
	db    *bbolt.DB
	codec Codec[P]
}

var _ store.Store[any] = (*Store[any])(nil)

// Open creates (or reopens) a store backed by the bbolt file at path.
func Open[P any](path string, codec Codec[P]) (*Store[P], error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: 0})
	if err != nil {
		return nil, fmt.Errorf("bolt store: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt store: init bucket: %w", err)
	}
	return &Store[P]{db: db, codec: codec}, nil
}

// envelope is the on-disk JSON form of a record. Timestamps are UTC
// nanoseconds so derived-state comparisons survive the round trip exactly.
type envelope struct {
	ID           string `json:"id"`
	Payload      []byte `json:"payload"`
	Raw          []byte `json:"raw,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ProcessedAt  int64  `json:"processed_at"`
	ReceiveCount int    `json:"receive_count"`
	VisibleAt    int64  `json:"visible_at"`
}

func (s *Store[P]) encode(rec *types.Record[P]) ([]byte, error) {
	payload, err := s.codec.Serialize(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("bolt store: encode payload %s: %w", rec.ID, err)
	}
	env := envelope{
		ID:           rec.ID,
		Payload:      payload,
		Raw:          rec.Raw,
		CreatedAt:    rec.CreatedAt.UnixNano(),
		ReceiveCount: rec.ReceiveCount,
		VisibleAt:    rec.VisibleAt.UnixNano(),
	}
	if !rec.ProcessedAt.IsZero() {
		env.ProcessedAt = rec.ProcessedAt.UnixNano()
	}
	return json.Marshal(env)
}

func (s *Store[P]) decode(data []byte) (*types.Record[P], error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bolt store: decode envelope: %w", err)
	}
	payload, err := s.codec.Deserialize(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("bolt store: decode payload %s: %w", env.ID, err)
	}
	rec := &types.Record[P]{
		ID:           env.ID,
		Payload:      payload,
		Raw:          env.Raw,
		CreatedAt:    time.Unix(0, env.CreatedAt),
		ReceiveCount: env.ReceiveCount,
		VisibleAt:    time.Unix(0, env.VisibleAt),
	}
	if env.ProcessedAt != 0 {
		rec.ProcessedAt = time.Unix(0, env.ProcessedAt)
	}
	return rec, nil
}

// Put inserts or replaces the record under rec.ID.
func (s *Store[P]) Put(rec *types.Record[P]) error {
	val, err := s.encode(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(rec.ID), val)
	})
}

// Get returns a decoded copy of the record for id, or store.ErrNotFound.
func (s *Store[P]) Get(id string) (*types.Record[P], error) {
	var rec *types.Record[P]
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRecords).Get([]byte(id))
		if val == nil {
			return store.ErrNotFound
		}
		var derr error
		rec, derr = s.decode(val)
		return derr
	})
	return rec, err
}

// Delete removes the record for id.
func (s *Store[P]) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
}

// Each calls fn with a decoded copy of every record until fn returns false.
func (s *Store[P]) Each(fn func(rec *types.Record[P]) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := s.decode(v)
			if err != nil {
				return err
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
}

// Len returns the number of stored records.
func (s *Store[P]) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying bbolt file.
func (s *Store[P]) Close() error { return s.db.Close() }
