package queue

// statemachine.go — record lifecycle transition rules.
//
// State diagram:
//
//	           enqueue
//	              │
//	              ▼
//	          AVAILABLE ◄──────────────┐
//	              │                    │
//	          dequeue            reject(requeue)
//	              ▼              or timeout lapse
//	          IN_FLIGHT ───────────────┘
//	              │
//	   ┌──────────┼───────────────────────┐
//	   ▼          ▼                       ▼
//	 ACKED   DEAD_LETTERED             EXPIRED
//	 (ack)   (budget exhausted,     (retention lapsed,
//	          reject(!requeue))      any live state)

// ValidTransition reports whether from → to is a legal state change for a
// record.
//
// Production code drives transitions through the Engine methods (Dequeue,
// Ack, Reject, Sweep) which already enforce the rules; tests use this to
// assert the table. The in-flight → available edge covers both an explicit
// requeue-reject and the automatic visibility-timeout lapse — the latter is
// not an operation at all, just the passage of time.
func ValidTransition(from, to State) bool {
	switch from {
	case StateAvailable:
		// AVAILABLE moves to IN_FLIGHT via dequeue. Retention can expire it,
		// and an exhausted receive budget dead-letters it at selection time.
		return to == StateInFlight || to == StateExpired || to == StateDeadLettered
	case StateInFlight:
		// IN_FLIGHT can:
		//   → ACKED         — consumer acknowledged
		//   → AVAILABLE     — requeue-reject or visibility timeout lapsed
		//   → DEAD_LETTERED — permanent reject
		//   → EXPIRED       — retention lapsed while held
		return to == StateAcked || to == StateAvailable ||
			to == StateDeadLettered || to == StateExpired
	case StateAcked, StateDeadLettered, StateExpired:
		// Terminal. A dead-lettered record continues life as a NEW available
		// record in the target queue; this queue never sees it again.
		return false
	}
	return false
}
