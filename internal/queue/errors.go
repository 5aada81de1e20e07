package queue

import (
	"errors"
	"fmt"
)

// ErrMessageNotFound is returned by Ack and Reject when the id does not name
// a record currently held in-flight by this engine. An id that was never
// dequeued, already acknowledged, or whose visibility window has lapsed is
// equally not found — ownership is a property of the present instant.
var ErrMessageNotFound = errors.New("queue: message not found")

// SerializationError reports a serializer failure at enqueue time. It carries
// the offending payload and wraps the underlying cause.
type SerializationError struct {
	Payload any
	Err     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("queue: serialize payload: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError reports a serializer failure at dequeue time. It
// carries the stored bytes that failed to decode and wraps the cause.
// The record stays in-flight; it becomes deliverable again when its
// visibility window lapses.
type DeserializationError struct {
	Data []byte
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("queue: deserialize payload: %v", e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }
