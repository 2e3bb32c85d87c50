package emit

// Emitter receives progress events from workflow execution.
//
// Implementations must be:
//   - Non-blocking: never slow down or back-pressure the engine
//   - Thread-safe: may be called concurrently from multiple workflows
//   - Resilient: a failing backend must not crash the workflow
//
// A subscriber that cannot keep up is dropped, never waited for.
type Emitter interface {
	// Emit delivers an event. Emit must not panic and must not block on
	// slow consumers; errors are handled internally.
	Emit(event Event)
}

// Multi fans a single event out to several emitters, e.g. the notification
// bus plus a structured log plus OTel spans.
type Multi []Emitter

// Emit delivers the event to every emitter in order.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
