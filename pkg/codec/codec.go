// Package codec ships ready-made payload serializers for relayq queues.
//
// A serializer is an external collaborator of the queue engine: the engine
// invokes Serialize once per enqueue and Deserialize once per delivered
// record, and never looks inside the bytes. The same method set is accepted
// by the bbolt store for persisting payloads, so one codec value can serve
// both boundaries.
package codec

import (
	"encoding/json"
	"fmt"
)

// JSON serializes payloads with encoding/json.
type JSON[T any] struct{}

// Serialize marshals v to JSON.
func (JSON[T]) Serialize(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return data, nil
}

// Deserialize unmarshals data into a fresh T.
func (JSON[T]) Deserialize(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return v, nil
}

// Bytes is the pass-through codec for []byte payloads. It exists for stores
// that need a codec even when the payload already is its own wire form; it
// must NOT be attached to an engine as a serializer — an engine without a
// serializer skips the transform entirely, which is cheaper and keeps
// serializer invocation counts meaningful.
type Bytes struct{}

// Serialize returns b unchanged.
func (Bytes) Serialize(b []byte) ([]byte, error) { return b, nil }

// Deserialize returns data unchanged.
func (Bytes) Deserialize(data []byte) ([]byte, error) { return data, nil }
