package store

import "sync"

// subscriptionBuffer is the per-subscriber channel capacity. A subscriber that
// falls more than this far behind starts losing records — broadcast here is a
// wake-up/notification mechanism, not a durable queue.
const subscriptionBuffer = 64

// Subscription is one subscriber's feed for a single topic.
// Receive from C until it is closed; call Unsubscribe when done.
type Subscription struct {
	// C delivers payloads in publication order.
	C <-chan string

	ch    chan string
	hub   *Hub
	topic string
	once  sync.Once
}

// Unsubscribe detaches the subscription from its topic and closes C.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s.topic, s)
		close(s.ch)
	})
}

// Hub is an in-process broadcast pub/sub fan-out. Store implementations embed
// it to provide the Publish/Subscribe half of the Store interface.
//
// Publish is fire-and-forget: each subscriber gets the payload on a buffered
// channel, and a full buffer drops the payload for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string][]*Subscription)}
}

// Publish broadcasts payload to every current subscriber of topic.
// It never blocks.
func (h *Hub) Publish(topic, payload string) {
	// The read lock is held across the sends: they are non-blocking, and it
	// guarantees no channel is closed by Unsubscribe while a send is in flight.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.topics[topic] {
		select {
		case s.ch <- payload:
		default:
			// Subscriber buffer full — drop for this subscriber.
		}
	}
}

// Subscribe registers a new subscriber for topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan string, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, hub: h, topic: topic}

	h.mu.Lock()
	h.topics[topic] = append(h.topics[topic], s)
	h.mu.Unlock()
	return s
}

// remove detaches sub from topic's subscriber list.
func (h *Hub) remove(topic string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	for i, s := range subs {
		if s == sub {
			h.topics[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}
