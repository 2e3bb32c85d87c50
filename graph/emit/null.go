package emit

// NullEmitter implements Emitter by discarding all events. Useful in tests
// and in workers where progress streaming is handled elsewhere.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
