// Package queue implements the relayq message-lifecycle engine: at-least-once
// delivery with visibility timeouts, retry counting, retention expiry, and
// dead-letter routing.
//
// Domain types (Record, State) live in internal/types to break the import
// cycle between the store and queue packages. This file re-exports them as
// aliases so callers can use queue.Record / queue.State directly.
package queue

import "github.com/snehjoshi/relayq/internal/types"

// Re-export core domain types from the types package.
// Using Go type aliases (=) so queue.Record IS types.Record — no conversion needed.
type Record[P any] = types.Record[P]
type State = types.State

// Re-export state constants.
const (
	StateAvailable    = types.StateAvailable
	StateInFlight     = types.StateInFlight
	StateAcked        = types.StateAcked
	StateDeadLettered = types.StateDeadLettered
	StateExpired      = types.StateExpired
)
