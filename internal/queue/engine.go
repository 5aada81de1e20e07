package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snehjoshi/relayq/internal/node"
	"github.com/snehjoshi/relayq/internal/queue/store"
)

// Engine holds the records of one named queue and drives the message
// lifecycle: enqueue, dequeue with visibility timeout, acknowledge, reject,
// retention expiry, and dead-letter routing.
//
// Architecture note: there is no background goroutine and no stored state
// field. A record's Available/InFlight state is a pure function of its
// VisibleAt timestamp, re-evaluated whenever the record is considered for
// selection. Automatic visibility-timeout restoration therefore needs no
// timer: a record whose deadline has passed simply is available again.
// An optional Sweep pass exists for eager garbage collection, but
// correctness never depends on it.
//
// All public methods are safe for concurrent use. Serializer calls happen
// outside the engine lock so a slow codec never stalls other consumers.
type Engine[P any] struct {
	name string
	cfg  Config

	mu sync.Mutex
	st store.Store[P]

	ser    Serializer[P]
	dlq    *Engine[P]
	onDrop func(id string, state State)
}

// New creates an Engine over the given record store.
// Zero Config fields are replaced with DefaultConfig values; MaxReceiveCount
// keeps its zero value, which means unlimited attempts.
func New[P any](name string, st store.Store[P], cfg Config, opts ...Option[P]) *Engine[P] {
	def := DefaultConfig()
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = def.VisibilityTimeout
	}
	if cfg.RetentionPeriod < 0 {
		cfg.RetentionPeriod = def.RetentionPeriod
	}

	e := &Engine[P]{name: name, cfg: cfg, st: st}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name returns the queue name the engine was created under.
func (e *Engine[P]) Name() string { return e.name }

// Config returns the engine's delivery policy.
func (e *Engine[P]) Config() Config { return e.cfg }

// DeadLetter returns the wired dead-letter engine, or nil.
func (e *Engine[P]) DeadLetter() *Engine[P] { return e.dlq }

// ─── Enqueue ─────────────────────────────────────────────────────────────────

// Enqueue inserts a fully-formed record.
//
// Missing fields are filled in: an empty ID gets a fresh ULID, a zero
// CreatedAt becomes now, a zero VisibleAt becomes CreatedAt (immediately
// deliverable). Producers may backdate CreatedAt or preset a future
// VisibleAt to delay first delivery.
//
// A record already past the retention period is accepted but never stored —
// the call is a silent no-op with respect to delivery. Enqueue only fails
// when the serializer rejects the payload or the store write fails.
func (e *Engine[P]) Enqueue(rec Record[P]) error {
	now := time.Now()

	if rec.ID == "" {
		rec.ID = node.MustNewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.VisibleAt.IsZero() {
		rec.VisibleAt = rec.CreatedAt
	}

	// Serialize before taking the lock.
	if e.ser != nil {
		raw, err := e.ser.Serialize(rec.Payload)
		if err != nil {
			return &SerializationError{Payload: rec.Payload, Err: err}
		}
		rec.Raw = raw
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rec.ExpiredAt(now, e.cfg.RetentionPeriod) {
		// Past retention: never deliverable, so don't store it at all.
		return nil
	}
	if err := e.st.Put(&rec); err != nil {
		return fmt.Errorf("queue %s: enqueue %s: %w", e.name, rec.ID, err)
	}
	return nil
}

// EnqueuePayload is the convenience path: a fresh ULID and the current
// timestamp, otherwise behaviourally identical to Enqueue.
func (e *Engine[P]) EnqueuePayload(p P) error {
	return e.Enqueue(Record[P]{Payload: p})
}

// ─── Dequeue ─────────────────────────────────────────────────────────────────

// Dequeue returns the most eligible available record and transitions it to
// in-flight, or (nil, nil) when no record is eligible — absence is a normal
// outcome, not an error.
//
// Selection order is oldest CreatedAt first, ties broken by ID, which is
// total because IDs are unique. Before selection every record is re-checked
// lazily: expired records are discarded, and records whose ReceiveCount has
// reached MaxReceiveCount are dead-lettered — this is the only point where
// the receive budget is enforced, so budgets exhausted purely through
// visibility-timeout lapses are still routed correctly.
func (e *Engine[P]) Dequeue() (*Record[P], error) {
	now := time.Now()

	e.mu.Lock()
	var pick *Record[P]
	var expired, exhausted []*Record[P]

	err := e.st.Each(func(r *Record[P]) bool {
		if r.ExpiredAt(now, e.cfg.RetentionPeriod) {
			// Retention applies regardless of in-flight status.
			expired = append(expired, r)
			return true
		}
		if r.State(now) == StateInFlight {
			return true
		}
		if e.cfg.MaxReceiveCount > 0 && r.ReceiveCount >= e.cfg.MaxReceiveCount {
			exhausted = append(exhausted, r)
			return true
		}
		if pick == nil || r.CreatedAt.Before(pick.CreatedAt) ||
			(r.CreatedAt.Equal(pick.CreatedAt) && r.ID < pick.ID) {
			pick = r
		}
		return true
	})
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("queue %s: scan: %w", e.name, err)
	}

	// Store writes are deferred until the scan is finished: persistence
	// backends (bbolt) cannot open a write transaction while the read
	// transaction driving Each is still open on the same goroutine.
	for _, r := range append(expired, exhausted...) {
		if derr := e.st.Delete(r.ID); derr != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("queue %s: remove %s: %w", e.name, r.ID, derr)
		}
	}

	var out *Record[P]
	if pick != nil {
		pick.ReceiveCount++
		pick.ProcessedAt = now
		pick.VisibleAt = now.Add(e.cfg.VisibilityTimeout)
		if perr := e.st.Put(pick); perr != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("queue %s: mark in-flight %s: %w", e.name, pick.ID, perr)
		}
		out = pick.Clone()
	}
	e.mu.Unlock()

	// Side effects that take other locks (the DLQ engine's) or run user code
	// (drop hooks, deserializer) happen strictly after ours is released.
	for _, r := range expired {
		e.dropped(r.ID, StateExpired)
	}
	for _, r := range exhausted {
		e.deadLetter(r)
	}

	if out == nil {
		return nil, nil
	}
	if e.ser != nil {
		p, derr := e.ser.Deserialize(out.Raw)
		if derr != nil {
			return nil, &DeserializationError{Data: out.Raw, Err: derr}
		}
		out.Payload = p
	}
	return out, nil
}

// ─── Ack / Reject ────────────────────────────────────────────────────────────

// Ack acknowledges successful processing of an in-flight record and deletes
// it permanently. Returns ErrMessageNotFound when id is unknown or the
// record is not currently in-flight.
func (e *Engine[P]) Ack(id string) error {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.inFlight(id, now); err != nil {
		return err
	}
	if err := e.st.Delete(id); err != nil {
		return fmt.Errorf("queue %s: ack %s: %w", e.name, id, err)
	}
	return nil
}

// Reject negatively acknowledges an in-flight record.
//
// With requeue the record becomes immediately available again — VisibleAt is
// reset to now, with no additional ReceiveCount increment beyond the one
// applied at dequeue. Without requeue the record is dead-lettered (or
// discarded when no dead-letter queue is wired).
//
// Returns ErrMessageNotFound under the same conditions as Ack.
func (e *Engine[P]) Reject(id string, requeue bool) error {
	now := time.Now()

	e.mu.Lock()
	rec, err := e.inFlight(id, now)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	if requeue {
		rec.VisibleAt = now
		if perr := e.st.Put(rec); perr != nil {
			e.mu.Unlock()
			return fmt.Errorf("queue %s: requeue %s: %w", e.name, id, perr)
		}
		e.mu.Unlock()
		return nil
	}

	if derr := e.st.Delete(id); derr != nil {
		e.mu.Unlock()
		return fmt.Errorf("queue %s: reject %s: %w", e.name, id, derr)
	}
	e.mu.Unlock()

	e.deadLetter(rec)
	return nil
}

// RejectRequeue is Reject with the default policy: the record becomes
// immediately eligible for redelivery.
func (e *Engine[P]) RejectRequeue(id string) error {
	return e.Reject(id, true)
}

// inFlight returns the record for id iff it is currently held in-flight.
// Must be called with e.mu held.
func (e *Engine[P]) inFlight(id string, now time.Time) (*Record[P], error) {
	rec, err := e.st.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("queue %s: lookup %s: %w", e.name, id, err)
	}
	if rec.State(now) != StateInFlight {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return rec, nil
}

// ─── Sweep ───────────────────────────────────────────────────────────────────

// Sweep eagerly applies the same checks Dequeue applies lazily: expired
// records are discarded and available records with an exhausted receive
// budget are dead-lettered. In-flight records are left alone — their budget
// is re-evaluated when they next become selectable.
//
// Sweep is pure garbage collection; skipping it never changes observable
// delivery behaviour. Returns the number of records expired and dead-lettered.
func (e *Engine[P]) Sweep() (expiredN, deadLetteredN int, err error) {
	now := time.Now()

	e.mu.Lock()
	var expired, exhausted []*Record[P]
	err = e.st.Each(func(r *Record[P]) bool {
		switch {
		case r.ExpiredAt(now, e.cfg.RetentionPeriod):
			expired = append(expired, r)
		case r.State(now) == StateAvailable &&
			e.cfg.MaxReceiveCount > 0 && r.ReceiveCount >= e.cfg.MaxReceiveCount:
			exhausted = append(exhausted, r)
		}
		return true
	})
	if err != nil {
		e.mu.Unlock()
		return 0, 0, fmt.Errorf("queue %s: sweep scan: %w", e.name, err)
	}
	for _, r := range append(expired, exhausted...) {
		if derr := e.st.Delete(r.ID); derr != nil {
			e.mu.Unlock()
			return 0, 0, fmt.Errorf("queue %s: sweep remove %s: %w", e.name, r.ID, derr)
		}
	}
	e.mu.Unlock()

	for _, r := range expired {
		e.dropped(r.ID, StateExpired)
	}
	for _, r := range exhausted {
		e.deadLetter(r)
	}
	return len(expired), len(exhausted), nil
}

// ─── Introspection ───────────────────────────────────────────────────────────

// Len returns the number of records currently deliverable (available and
// within retention).
func (e *Engine[P]) Len() int {
	n, _ := e.count(StateAvailable)
	return n
}

// InFlightCount returns the number of records currently held by consumers.
func (e *Engine[P]) InFlightCount() int {
	n, _ := e.count(StateInFlight)
	return n
}

// TotalCount returns the number of stored records, regardless of state.
func (e *Engine[P]) TotalCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, _ := e.st.Len()
	return n
}

func (e *Engine[P]) count(want State) (int, error) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	err := e.st.Each(func(r *Record[P]) bool {
		if r.ExpiredAt(now, e.cfg.RetentionPeriod) {
			return true
		}
		state := r.State(now)
		// An exhausted budget only disqualifies waiting records; a consumer
		// may still legitimately hold the final permitted attempt in-flight.
		if state == StateAvailable &&
			e.cfg.MaxReceiveCount > 0 && r.ReceiveCount >= e.cfg.MaxReceiveCount {
			return true
		}
		if state == want {
			n++
		}
		return true
	})
	return n, err
}

// Close releases the backing store.
func (e *Engine[P]) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Close()
}

// ─── Internal helpers ────────────────────────────────────────────────────────

// deadLetter hands a record that exhausted its budget (or was permanently
// rejected) to the dead-letter engine, then fires the drop hook.
// Must be called WITHOUT e.mu held: the target engine takes its own lock.
func (e *Engine[P]) deadLetter(rec *Record[P]) {
	if e.dlq != nil {
		// Best-effort: a full or failing dead-letter store must not fail the
		// source operation — the record is already gone from this queue.
		_ = e.dlq.acceptDeadLetter(rec)
	}
	e.dropped(rec.ID, StateDeadLettered)
}

// acceptDeadLetter inserts a record moved from another queue. The id, payload
// (and its serialized form), and CreatedAt are preserved; the receive count
// is reset and the record becomes immediately available. Retention still
// applies against the original CreatedAt.
func (e *Engine[P]) acceptDeadLetter(rec *Record[P]) error {
	now := time.Now()

	moved := rec.Clone()
	moved.ReceiveCount = 0
	moved.ProcessedAt = time.Time{}
	moved.VisibleAt = now

	e.mu.Lock()
	defer e.mu.Unlock()

	if moved.ExpiredAt(now, e.cfg.RetentionPeriod) {
		return nil
	}
	if err := e.st.Put(moved); err != nil {
		return fmt.Errorf("queue %s: accept dead letter %s: %w", e.name, moved.ID, err)
	}
	return nil
}

func (e *Engine[P]) dropped(id string, state State) {
	if e.onDrop != nil {
		e.onDrop(id, state)
	}
}
