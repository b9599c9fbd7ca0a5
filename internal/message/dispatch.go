package message

import (
	"strconv"

	"github.com/snehjoshi/courier/internal/store"
)

// QueueTopic is the broadcast topic new-message announcements are published on.
const QueueTopic = "message_queue"

// stopSentinel, when published, tells every queue subscriber to shut down.
const stopSentinel = "KILL"

// Dispatcher announces newly enqueued message ids to the queue workers.
//
// Announcements are wake-up hints, not the work itself: the queue list in the
// store is authoritative, and a worker that misses a hint (dropped for a slow
// subscriber) still finds the message on its next drain. Stop is broadcast as
// a sentinel so every worker sees it exactly like a normal announcement.
type Dispatcher struct {
	st store.Store
}

// NewDispatcher creates a Dispatcher publishing on st.
func NewDispatcher(st store.Store) *Dispatcher {
	return &Dispatcher{st: st}
}

// Notify announces that message id has been enqueued.
func (d *Dispatcher) Notify(id int64) {
	d.st.Publish(QueueTopic, strconv.FormatInt(id, 10))
}

// Subscribe returns a subscription to queue announcements. The caller must
// Unsubscribe when done.
func (d *Dispatcher) Subscribe() *store.Subscription {
	return d.st.Subscribe(QueueTopic)
}

// Stop broadcasts the shutdown sentinel to every subscribed worker.
func (d *Dispatcher) Stop() {
	d.st.Publish(QueueTopic, stopSentinel)
}

// IsStop reports whether a received announcement is the shutdown sentinel.
func IsStop(payload string) bool { return payload == stopSentinel }
