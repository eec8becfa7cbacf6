// Package emit provides event emission for workflow sessions and node
// execution.
package emit

// Emitter receives observability events.
//
// Implementations must be safe for concurrent use: two different nodes may
// execute at the same time. Emit must not block for long and must not panic.
type Emitter interface {
	Emit(event Event)
}

// Multi fans events out to several emitters in order.
type Multi []Emitter

// Emit forwards event to every non-nil emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
