// Package dlq provides helpers for inspecting and replaying records that
// have been moved to a dead-letter queue.
//
// A dead-letter queue in relayq is a regular queue engine whose name follows
// the convention "__dlq__<primaryName>". The broker wires each primary queue
// to its DLQ at creation time; this package only adds the operator-facing
// operations on top of the shared registry:
//
//   - Drain:  destructively consume the next records for offline inspection.
//   - Replay: move records back to the primary queue for reprocessing.
//   - Len:    depth of a queue's DLQ.
package dlq

import (
	"fmt"
	"strings"

	"github.com/snehjoshi/relayq/internal/queue"
	"github.com/snehjoshi/relayq/internal/registry"
)

const prefix = "__dlq__"

// Name returns the dead-letter queue name for a primary queue name.
func Name(primary string) string { return prefix + primary }

// IsDLQ reports whether name follows the dead-letter naming convention.
func IsDLQ(name string) bool { return strings.HasPrefix(name, prefix) }

// Primary returns the owning queue name for a DLQ name.
func Primary(dlqName string) (string, bool) {
	if !IsDLQ(dlqName) {
		return "", false
	}
	return strings.TrimPrefix(dlqName, prefix), true
}

// keyFor rewrites a registry key "ns/name" into its DLQ key "ns/__dlq__name".
// A key without a namespace separator maps the whole key.
func keyFor(primaryKey string) string {
	idx := strings.LastIndexByte(primaryKey, '/')
	if idx < 0 {
		return Name(primaryKey)
	}
	return primaryKey[:idx+1] + Name(primaryKey[idx+1:])
}

// Manager provides dead-letter operations over the broker's queue registry.
// Keys are the broker's "namespace/name" registry keys for the PRIMARY queue.
type Manager struct {
	reg *registry.Registry[[]byte]
}

// NewManager wraps the given registry.
func NewManager(reg *registry.Registry[[]byte]) *Manager {
	return &Manager{reg: reg}
}

// Drain dequeues up to limit records from the DLQ of primaryKey. The caller
// owns the returned records and must ack (or reject) each one on the DLQ.
// An empty DLQ yields an empty slice.
func (m *Manager) Drain(primaryKey string, limit int) ([]*queue.Record[[]byte], error) {
	eng, err := m.reg.Get(keyFor(primaryKey))
	if err != nil {
		return nil, fmt.Errorf("dlq: drain %s: %w", primaryKey, err)
	}

	out := make([]*queue.Record[[]byte], 0, limit)
	for len(out) < limit {
		rec, err := eng.Dequeue()
		if err != nil {
			return out, fmt.Errorf("dlq: drain %s: %w", primaryKey, err)
		}
		if rec == nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// Replay moves up to limit records from the DLQ back onto the primary queue
// and returns how many were moved. Each record keeps its ID and payload and
// starts over with a fresh receive budget; it is acknowledged on the DLQ only
// after the primary accepted it, so a failed move leaves the record in-flight
// on the DLQ for a later retry.
func (m *Manager) Replay(primaryKey string, limit int) (int, error) {
	primary, err := m.reg.Get(primaryKey)
	if err != nil {
		return 0, fmt.Errorf("dlq: replay %s: primary: %w", primaryKey, err)
	}
	eng, err := m.reg.Get(keyFor(primaryKey))
	if err != nil {
		return 0, fmt.Errorf("dlq: replay %s: dlq: %w", primaryKey, err)
	}

	replayed := 0
	for replayed < limit {
		rec, err := eng.Dequeue()
		if err != nil {
			return replayed, fmt.Errorf("dlq: replay %s: dequeue: %w", primaryKey, err)
		}
		if rec == nil {
			break
		}

		fresh := queue.Record[[]byte]{
			ID:        rec.ID,
			Payload:   rec.Payload,
			CreatedAt: rec.CreatedAt,
		}
		if err := primary.Enqueue(fresh); err != nil {
			// Leave the record in-flight on the DLQ; its visibility timeout
			// will make it drainable again.
			continue
		}
		if err := eng.Ack(rec.ID); err == nil {
			replayed++
		}
	}
	return replayed, nil
}

// Len returns the total number of records currently held by the DLQ of
// primaryKey, or 0 when the DLQ does not exist.
func (m *Manager) Len(primaryKey string) int {
	eng, err := m.reg.Get(keyFor(primaryKey))
	if err != nil {
		return 0
	}
	return eng.TotalCount()
}
