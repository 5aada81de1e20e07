package queue

import "time"

// Config holds the delivery policy for a single queue instance. It is fixed
// at engine construction and never mutated afterwards.
// All zero-values are valid; use DefaultConfig() for production-safe defaults.
type Config struct {
	// VisibilityTimeout is how long a dequeued record stays hidden before it
	// automatically becomes deliverable again. Applies when the consumer
	// neither acks nor rejects in time.
	VisibilityTimeout time.Duration

	// RetentionPeriod is the maximum record age, measured from CreatedAt,
	// beyond which the record is discarded instead of delivered.
	// 0 = records never expire.
	RetentionPeriod time.Duration

	// MaxReceiveCount is the number of delivery attempts allowed before the
	// record is dead-lettered (or discarded when no dead-letter queue is
	// wired). 0 = unlimited attempts (never dead-letter).
	MaxReceiveCount int
}

// DefaultConfig returns a Config with production-safe defaults.
func DefaultConfig() Config {
	return Config{
		VisibilityTimeout: 30 * time.Second,
		RetentionPeriod:   7 * 24 * time.Hour,
		MaxReceiveCount:   3,
	}
}

// Serializer transforms payloads at the engine boundary. Serialize runs once
// per enqueue, Deserialize once per delivered record. When an engine has no
// serializer the transform is skipped entirely — not replaced by an identity
// function — so payload type equals storage type at zero cost.
type Serializer[P any] interface {
	Serialize(p P) ([]byte, error)
	Deserialize(data []byte) (P, error)
}

// Option configures an Engine at construction time.
type Option[P any] func(*Engine[P])

// WithSerializer attaches a payload serializer to the engine.
func WithSerializer[P any](s Serializer[P]) Option[P] {
	return func(e *Engine[P]) { e.ser = s }
}

// WithDeadLetter wires the engine that receives records exhausting their
// receive budget. Ownership is shared — both engines are typically held by
// the same registry. Without a dead-letter target, exhausted records are
// discarded.
func WithDeadLetter[P any](dlq *Engine[P]) Option[P] {
	return func(e *Engine[P]) { e.dlq = dlq }
}

// WithDropHook registers a callback invoked, outside the engine lock, each
// time a record leaves the queue without being delivered: state is
// StateExpired or StateDeadLettered. Used by the broker for metrics.
func WithDropHook[P any](fn func(id string, state State)) Option[P] {
	return func(e *Engine[P]) { e.onDrop = fn }
}
