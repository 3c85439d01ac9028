// Package eventbus fans keeper domain events out to websocket
// subscribers and internal consumers through a bounded ring buffer, so a
// burst of harvests never blocks the producer on a slow reader.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names the kind of domain event published on the bus.
type EventType string

const (
	EventHarvestSubmitted EventType = "harvest_submitted"
	EventHarvestConfirmed EventType = "harvest_confirmed"
	EventHarvestFailed    EventType = "harvest_failed"
	EventPositionOpened   EventType = "position_opened"
	EventPositionClosed   EventType = "position_closed"
	EventSaturdayStep     EventType = "saturday_step"
	EventStreamDropped    EventType = "stream_dropped"
	EventStreamConnected  EventType = "stream_connected"
)

// Event is one published domain event.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DefaultHistorySize is the ring buffer's default capacity, replayed to
// a subscriber immediately after it connects.
const DefaultHistorySize = 100

// SlowSubscriberThreshold is the queued-message count at which a
// subscriber is considered slow and dropped rather than allowed to
// backpressure the bus.
const SlowSubscriberThreshold = 256

// subscriber is one fan-out destination: a buffered channel plus the
// bookkeeping needed to detect and drop a slow consumer.
type subscriber struct {
	id  uint64
	ch  chan Event
	log *zap.Logger
}

// Bus is the event ring buffer and fan-out registry.
type Bus struct {
	log *zap.Logger

	mu      sync.Mutex
	history []Event
	capacity int
	nextID  uint64
	subs    map[uint64]*subscriber
}

// New builds a Bus with the given ring-buffer capacity (0 -> default).
func New(log *zap.Logger, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Bus{
		log:      log,
		capacity: capacity,
		subs:     make(map[uint64]*subscriber),
	}
}

// Publish appends an event to the ring buffer and fans it out to every
// current subscriber, dropping (and unsubscribing) any whose queue has
// grown past SlowSubscriberThreshold.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.capacity {
		b.history = b.history[len(b.history)-b.capacity:]
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			if len(s.ch) >= SlowSubscriberThreshold {
				b.log.Warn("dropping slow event subscriber", zap.Uint64("subscriber", s.id))
				b.Unsubscribe(s.id)
				continue
			}
			// Buffer is full: try once more without blocking; if it is
			// still full the event is dropped for this subscriber.
			select {
			case s.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its id, its event
// channel, and a replay of the current history (oldest first).
func (b *Bus) Subscribe() (id uint64, ch <-chan Event, replay []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id = b.nextID
	s := &subscriber{id: id, ch: make(chan Event, SlowSubscriberThreshold), log: b.log}
	b.subs[id] = s

	replay = append([]Event(nil), b.history...)
	return id, s.ch, replay
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(s.ch)
}

// SubscriberCount returns the number of currently connected subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
