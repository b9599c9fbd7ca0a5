// Package types contains the core domain types shared across all Courier
// internal packages. It deliberately has zero imports of other Courier packages
// so that both the store layer and the message layer can import from it without
// creating import cycles.
package types

// Status is the lifecycle stage of a message.
//
// A message id is a member of exactly one status set at any instant after
// creation. Status is derived from set membership in the backing store — it is
// never written into the persisted message record.
type Status uint8

const (
	// StatusEnqueued means the message sits on the FIFO queue list awaiting
	// the spam-check worker.
	StatusEnqueued Status = iota
	// StatusBeingChecked means a worker has popped the message and the spam
	// policy is running against its content.
	StatusBeingChecked
	// StatusBlockedForSpam is terminal: the policy flagged the message and it
	// will never reach the recipient's inbox.
	StatusBlockedForSpam
	// StatusDelivered is terminal: the message is visible in the recipient's
	// inbox.
	StatusDelivered
)

// String returns the wire/storage name of the status.
func (s Status) String() string {
	switch s {
	case StatusEnqueued:
		return "enqueued"
	case StatusBeingChecked:
		return "being_checked"
	case StatusBlockedForSpam:
		return "blocked_for_spam"
	case StatusDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// Message is the canonical, immutable unit of data in Courier.
//
// Design rules:
//   - IDs are positive integers assigned from a single atomic counter, so they
//     are globally unique and monotone across all senders.
//   - A message is never deleted and never edited; after creation the only
//     thing that changes is which status set its id belongs to.
//   - CreatedAt is UTC milliseconds since Unix epoch.
type Message struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Role is the registry role a username is seeded into. Roles are fixed after
// seeding.
type Role uint8

const (
	RoleRegular Role = iota
	RoleAdmin
)

// String returns the registry name of the role.
func (r Role) String() string {
	switch r {
	case RoleRegular:
		return "regular"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}
