package emit

import "sync"

// DefaultSubscriberBuffer is the per-subscriber channel capacity used when
// the bus is created with a non-positive buffer size.
const DefaultSubscriberBuffer = 64

// Bus is the in-process notification hub. It implements Emitter and fans
// events out to subscribers registered per workflow id.
//
// Delivery contract:
//   - Events are delivered in emission order per subscriber.
//   - A subscriber whose buffer is full is dropped and its channel closed;
//     the producer is never back-pressured.
//   - Closing a subscription is idempotent.
//
// SSE handlers subscribe with the task id and forward events until a
// terminal event arrives; internal consumers (loggers, tests) subscribe the
// same way.
type Bus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string]map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// NewBus creates a notification bus with the given per-subscriber buffer
// size. A non-positive size uses DefaultSubscriberBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[string]map[int]*subscriber),
	}
}

// Subscribe registers a listener for events of one workflow. It returns the
// event channel and a cancel function. The channel is closed when the
// subscription is cancelled or the subscriber falls behind and is dropped.
func (b *Bus) Subscribe(workflowID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.buffer)}
	id := b.nextID
	b.nextID++

	if b.subs[workflowID] == nil {
		b.subs[workflowID] = make(map[int]*subscriber)
	}
	b.subs[workflowID][id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.drop(workflowID, id)
	}
	return sub.ch, cancel
}

// Emit implements Emitter. Events are routed to subscribers of the event's
// workflow id. Subscribers with full buffers are dropped.
func (b *Bus) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs[event.WorkflowID] {
		select {
		case sub.ch <- event:
		default:
			// Slow subscriber: drop it rather than block the workflow.
			b.drop(event.WorkflowID, id)
		}
	}
}

// SubscriberCount returns the number of live subscribers for a workflow.
func (b *Bus) SubscriberCount(workflowID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[workflowID])
}

// drop removes and closes one subscription. Caller holds the write lock.
func (b *Bus) drop(workflowID string, id int) {
	group, ok := b.subs[workflowID]
	if !ok {
		return
	}
	sub, ok := group[id]
	if !ok {
		return
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	delete(group, id)
	if len(group) == 0 {
		delete(b.subs, workflowID)
	}
}
