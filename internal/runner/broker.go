package runner

import "sync"

// AllTopic receives every console event regardless of execution. It is never
// closed.
const AllTopic = "*"

// subscriberBufferSize is the channel buffer for each console subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// ConsoleEvent is one console line published by the engine. ExecutionID is
// empty for output produced outside an execution, such as a timer callback.
type ConsoleEvent struct {
	ExecutionID string `json:"execution_id,omitempty"`
	Seq         int    `json:"seq"`
	Level       string `json:"level"`
	Line        string `json:"line"`
}

// ConsoleBroker fans console events out to per-execution subscribers and to
// AllTopic subscribers. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type ConsoleBroker struct {
	mu     sync.Mutex
	topics map[string]*consoleTopic
}

type consoleTopic struct {
	subs   map[int]chan ConsoleEvent
	nextID int
	closed bool
}

// NewConsoleBroker creates a new console broker.
func NewConsoleBroker() *ConsoleBroker {
	return &ConsoleBroker{
		topics: make(map[string]*consoleTopic),
	}
}

// Subscribe returns a channel that receives events for topic, an execution
// id or AllTopic, and an unsubscribe function. If the execution already
// finished, the returned channel is closed.
func (b *ConsoleBroker) Subscribe(topic string) (<-chan ConsoleEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &consoleTopic{subs: make(map[int]chan ConsoleEvent)}
		b.topics[topic] = t
	}

	ch := make(chan ConsoleEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends ev to the subscribers of its execution and of AllTopic.
// Events are dropped for subscribers whose buffers are full.
func (b *ConsoleBroker) Publish(ev ConsoleEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ev.ExecutionID != "" {
		b.deliver(ev.ExecutionID, ev)
	}
	b.deliver(AllTopic, ev)
}

func (b *ConsoleBroker) deliver(topic string, ev ConsoleEvent) {
	t, ok := b.topics[topic]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that no more events will be published for the execution.
// All its subscriber channels are closed. Closing AllTopic is a no-op.
func (b *ConsoleBroker) Close(executionID string) {
	if executionID == AllTopic {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		b.topics[executionID] = &consoleTopic{subs: make(map[int]chan ConsoleEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
