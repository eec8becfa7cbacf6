package emit

// Event is an observability event emitted while a workflow session is edited
// or one of its nodes executes.
//
// Common Msg values:
//   - "node_start", "node_end", "node_error": executor lifecycle
//   - "result_committed": a context bag was written to the session
//   - "recovery_awaiting_choice", "recovery_substituted", "recovery_failed"
//   - "store_error": write-through persistence failed (non-fatal)
type Event struct {
	// SessionID identifies the editing session that emitted this event.
	SessionID string

	// NodeID identifies which node the event concerns.
	// Empty string for session-level events.
	NodeID string

	// NodeType is the node's type tag, when known.
	NodeType string

	// Msg is a short machine-friendly description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error text
	//   - "error_kind": classified provider error kind
	//   - "provider": model identifier used for a provider call
	Meta map[string]interface{}
}

// Error returns the "error" meta entry, if any.
func (e Event) Error() (string, bool) {
	if e.Meta == nil {
		return "", false
	}
	s, ok := e.Meta["error"].(string)
	return s, ok
}
