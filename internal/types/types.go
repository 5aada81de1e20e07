// Package types contains the core domain types shared across all relayq
// internal packages. It deliberately has zero imports of other relayq packages
// so that both the store layer and the queue layer can import from it without
// creating import cycles.
package types

import "time"

// State is the lifecycle state of a record inside a queue.
//
// Available and InFlight are never persisted — they are derived from the
// record's VisibleAt timestamp at observation time. The remaining states are
// terminal outcomes: reaching one removes the record from its queue.
type State uint8

const (
	// StateAvailable means the record is eligible for delivery
	// (VisibleAt <= now).
	StateAvailable State = iota
	// StateInFlight means the record has been delivered to a consumer and is
	// hidden until its visibility deadline passes (VisibleAt > now).
	StateInFlight
	// StateAcked means the consumer acknowledged the record. Terminal: the
	// record is deleted.
	StateAcked
	// StateDeadLettered means the record exhausted its receive budget (or was
	// permanently rejected) and was moved to the dead-letter queue, or
	// discarded when none is configured. Terminal in the owning queue.
	StateDeadLettered
	// StateExpired means the record's age exceeded the retention period and it
	// was discarded without delivery. Terminal.
	StateExpired
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateInFlight:
		return "in_flight"
	case StateAcked:
		return "acked"
	case StateDeadLettered:
		return "dead_lettered"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Record is the unit of work held by a queue engine. It is generic over the
// payload type P; the engine never inspects the payload.
//
// Design rules:
//   - ID is a ULID string assigned by the engine when the producer leaves it
//     empty. It is stable for the record's lifetime, including a move to the
//     dead-letter queue.
//   - CreatedAt is fixed at enqueue time. Producers may backdate it; a record
//     older than the queue's retention period is never delivered.
//   - Raw carries the serialized form of Payload and is populated only when
//     the owning engine has a serializer configured.
type Record[P any] struct {
	// ID uniquely identifies this record.
	ID string `json:"id"`

	// Payload is the opaque value carried by the record.
	Payload P `json:"payload"`

	// Raw is the serialized form of Payload. Empty when the engine has no
	// serializer (payload type equals storage type).
	Raw []byte `json:"raw,omitempty"`

	// CreatedAt is when the record was enqueued. Immutable; drives retention.
	CreatedAt time.Time `json:"created_at"`

	// ProcessedAt is set each time the record transitions to in-flight.
	ProcessedAt time.Time `json:"processed_at"`

	// ReceiveCount is the number of delivery attempts so far. Incremented on
	// every transition into in-flight, regardless of outcome.
	ReceiveCount int `json:"receive_count"`

	// VisibleAt is the instant after which the record is eligible for
	// delivery. A dequeue pushes it VisibilityTimeout into the future; a
	// requeue-reject resets it to now. Producers may preset it to delay first
	// delivery.
	VisibleAt time.Time `json:"visible_at"`
}

// State derives the record's live state at the given instant. Only
// StateAvailable or StateInFlight can be observed on a stored record; the
// terminal states coincide with deletion.
func (r *Record[P]) State(now time.Time) State {
	if r.VisibleAt.After(now) {
		return StateInFlight
	}
	return StateAvailable
}

// ExpiredAt reports whether the record's age exceeds retention at the given
// instant. A zero retention disables expiry.
func (r *Record[P]) ExpiredAt(now time.Time, retention time.Duration) bool {
	return retention > 0 && now.Sub(r.CreatedAt) >= retention
}

// Clone returns a shallow copy of the record.
func (r *Record[P]) Clone() *Record[P] {
	c := *r
	return &c
}
