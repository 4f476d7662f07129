package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a persistent task lifecycle event
type EventType string

const (
	EventLedgerChanged      EventType = "ledger.changed"
	EventTaskStarted        EventType = "task.started"
	EventTaskCancelled      EventType = "task.cancelled"
	EventTaskCompleted      EventType = "task.completed"
	EventTaskFailed         EventType = "task.failed"
	EventTaskUnknownAction  EventType = "task.unknown_action"
	EventTaskRemoved        EventType = "task.removed"
	EventNotificationFailed EventType = "notification.failed"
)

const (
	backlogSize    = 100
	subscriberSize = 50

	// DefaultHistorySize is how many recent events a broker remembers
	DefaultHistorySize = 256
)

// Event is one lifecycle event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh id
func NewEvent(t EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:       uuid.New().String(),
		Type:     t,
		Message:  message,
		Metadata: metadata,
	}
}

// Subscriber receives events on a buffered channel
type Subscriber chan *Event

type subscription struct {
	types map[EventType]bool // nil accepts everything
}

func (s subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Broker fans events out to subscribers and keeps a short history
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]subscription
	history     []*Event
	head        int
	size        int

	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBroker creates a broker remembering DefaultHistorySize events
func NewBroker() *Broker {
	return NewBrokerWithHistory(DefaultHistorySize)
}

// NewBrokerWithHistory creates a broker remembering the last n events
func NewBrokerWithHistory(n int) *Broker {
	if n < 1 {
		n = 1
	}
	return &Broker{
		subscribers: make(map[Subscriber]subscription),
		history:     make([]*Event, n),
		eventCh:     make(chan *Event, backlogSize),
		stopCh:      make(chan struct{}),
	}
}

// Start begins delivering published events to subscribers
func (b *Broker) Start() {
	go b.run()
}

// Stop ends delivery. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe registers a subscriber for the given event types, or for all
// events when none are given
func (b *Broker) Subscribe(types ...EventType) Subscriber {
	var sub subscription
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(Subscriber, subscriberSize)
	b.subscribers[ch] = sub
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish records event and queues it for delivery. It never blocks: when
// the backlog is full the event is only kept in the history.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.remember(event)

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) remember(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[b.head] = event
	b.head = (b.head + 1) % len(b.history)
	if b.size < len(b.history) {
		b.size++
	}
}

// Recent returns up to n of the latest events, oldest first. n <= 0
// returns the whole history.
func (b *Broker) Recent(n int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]*Event, 0, n)
	start := b.head - n
	if start < 0 {
		start += len(b.history)
	}
	for i := 0; i < n; i++ {
		out = append(out, b.history[(start+i)%len(b.history)])
	}
	return out
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case ch <- event:
		default:
			// slow subscriber
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
