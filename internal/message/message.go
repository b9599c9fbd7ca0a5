// Package message owns the message lifecycle: identifier assignment, persisted
// bodies, the four status sets, the FIFO work queue, and the per-user
// inbox/outbox and score bookkeeping.
//
// Status is derived from set membership. Every transition that touches more
// than one structure runs as a single optimistic store transaction, so a
// message id is a member of exactly one status set at any instant after
// creation.
//
// Data layout in the backing store:
//
//	message_index                 counter — last assigned id
//	message                       hash — id → JSON message body
//	enqueued_messages             set
//	being_spam_checked_messages   set
//	spam_messages                 set
//	delivered_messages            set
//	message_queue                 list — FIFO work queue of ids
//	inbound_messages:<user>       list — ids, push order = arrival order
//	outbound_messages:<user>      list — ids, push order = send order
//	users_by_spam_messages        sorted set — username → spam score
//	users_by_delivered_messages   sorted set — username → delivered score
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/snehjoshi/courier/internal/store"
	"github.com/snehjoshi/courier/internal/types"
)

// Storage keys. Names follow the original deployment so operators can inspect
// the store with familiar key names.
const (
	counterIndex = "message_index"
	hashMessages = "message"

	setEnqueued     = "enqueued_messages"
	setBeingChecked = "being_spam_checked_messages"
	setSpam         = "spam_messages"
	setDelivered    = "delivered_messages"

	listQueue = "message_queue"

	zsetSpammers = "users_by_spam_messages"
	zsetChatters = "users_by_delivered_messages"
)

func inboxKey(username string) string  { return "inbound_messages:" + username }
func outboxKey(username string) string { return "outbound_messages:" + username }

// ErrValidation is returned by Create when sender, recipient, or content is
// empty. Create does NOT check that the usernames are registered — only
// Login/Logout consult the registry.
var ErrValidation = errors.New("message: missing required field")

// ErrNotFound is returned when no message exists for the requested id.
var ErrNotFound = errors.New("message: not found")

// Stats counts one user's outbound messages by lifecycle stage.
type Stats struct {
	Delivered    int `json:"delivered"`
	Enqueued     int `json:"enqueued"`
	MarkedAsSpam int `json:"marked_as_spam"`
	BeingChecked int `json:"being_spam_checked_count"`
}

// Store is the message store. All methods are safe for concurrent use; every
// multi-step update is one atomic store transaction.
type Store struct {
	st   store.Store
	disp *Dispatcher
}

// New creates a Store that announces enqueued messages through disp.
func New(st store.Store, disp *Dispatcher) *Store {
	return &Store{st: st, disp: disp}
}

// ─── Create ──────────────────────────────────────────────────────────────────

// Create assigns the next id and enqueues the message for spam checking.
//
// One optimistic transaction watching the id counter performs: counter
// increment, body persist, insertion into the enqueued set, push onto the FIFO
// queue, and push onto the sender's outbox. Two creators racing on the counter
// conflict and one retries, so ids are never double-assigned and the queue
// push order matches id order. The queue notification fires only after the
// transaction committed.
func (s *Store) Create(sender, recipient, content string) (int64, error) {
	if sender == "" || recipient == "" || content == "" {
		return 0, ErrValidation
	}

	var id int64
	err := s.st.Txn(func(tx store.Tx) error {
		next, err := tx.Incr(counterIndex, 1)
		if err != nil {
			return err
		}
		id = next

		body, err := json.Marshal(types.Message{
			ID:        id,
			Sender:    sender,
			Recipient: recipient,
			Content:   content,
			CreatedAt: time.Now().UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("message: encode %d: %w", id, err)
		}

		idStr := formatID(id)
		if err := tx.HSet(hashMessages, idStr, string(body)); err != nil {
			return err
		}
		if err := tx.SAdd(setEnqueued, idStr); err != nil {
			return err
		}
		if err := tx.RPush(listQueue, idStr); err != nil {
			return err
		}
		return tx.RPush(outboxKey(sender), idStr)
	}, counterIndex)
	if err != nil {
		return 0, err
	}

	s.disp.Notify(id)
	return id, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Get returns the message with the given id, or ErrNotFound.
func (s *Store) Get(id int64) (*types.Message, error) {
	var msg *types.Message
	err := s.st.View(func(tx store.ReadTx) error {
		m, err := readMessage(tx, formatID(id))
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

// Status returns the lifecycle stage of the message with the given id.
func (s *Store) Status(id int64) (types.Status, error) {
	var status types.Status
	err := s.st.View(func(tx store.ReadTx) error {
		idStr := formatID(id)
		for _, probe := range []struct {
			set    string
			status types.Status
		}{
			{setEnqueued, types.StatusEnqueued},
			{setBeingChecked, types.StatusBeingChecked},
			{setSpam, types.StatusBlockedForSpam},
			{setDelivered, types.StatusDelivered},
		} {
			ok, err := tx.SIsMember(probe.set, idStr)
			if err != nil {
				return err
			}
			if ok {
				status = probe.status
				return nil
			}
		}
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	})
	return status, err
}

// Inbound returns the messages delivered to username, most recent first.
// Ids still in flight (enqueued, being checked) or blocked for spam never
// appear.
func (s *Store) Inbound(username string) ([]types.Message, error) {
	var out []types.Message
	err := s.st.View(func(tx store.ReadTx) error {
		ids, err := tx.LRange(inboxKey(username))
		if err != nil {
			return err
		}
		out = make([]types.Message, 0, len(ids))
		for i := len(ids) - 1; i >= 0; i-- {
			delivered, err := tx.SIsMember(setDelivered, ids[i])
			if err != nil {
				return err
			}
			if !delivered {
				continue
			}
			m, err := readMessage(tx, ids[i])
			if err != nil {
				return err
			}
			out = append(out, *m)
		}
		return nil
	})
	return out, err
}

// UserStats counts username's outbound messages in each status set.
func (s *Store) UserStats(username string) (Stats, error) {
	var stats Stats
	err := s.st.View(func(tx store.ReadTx) error {
		ids, err := tx.LRange(outboxKey(username))
		if err != nil {
			return err
		}
		for _, idStr := range ids {
			for _, probe := range []struct {
				set   string
				count *int
			}{
				{setDelivered, &stats.Delivered},
				{setEnqueued, &stats.Enqueued},
				{setSpam, &stats.MarkedAsSpam},
				{setBeingChecked, &stats.BeingChecked},
			} {
				ok, err := tx.SIsMember(probe.set, idStr)
				if err != nil {
					return err
				}
				if ok {
					*probe.count++
				}
			}
		}
		return nil
	})
	return stats, err
}

// Spammers returns users ordered by descending spam score.
func (s *Store) Spammers() ([]store.ScoredMember, error) {
	return s.zrevrange(zsetSpammers)
}

// Chatters returns users ordered by descending delivered score.
func (s *Store) Chatters() ([]store.ScoredMember, error) {
	return s.zrevrange(zsetChatters)
}

func (s *Store) zrevrange(zset string) ([]store.ScoredMember, error) {
	var out []store.ScoredMember
	err := s.st.View(func(tx store.ReadTx) error {
		var err error
		out, err = tx.ZRevRange(zset)
		return err
	})
	return out, err
}

// ─── Worker transitions ──────────────────────────────────────────────────────
// The queue worker is the only caller of Dequeue, MarkSpam, and MarkDelivered;
// nothing else ever moves an id out of enqueued or being_checked.

// Dequeue pops the oldest queued message and moves its id from enqueued to
// being_checked as ONE atomic unit, so a crash can never lose a popped id.
// Returns nil with no error when the queue is empty. Concurrent workers racing
// on the queue conflict and retry, so no two ever pop the same id.
func (s *Store) Dequeue() (*types.Message, error) {
	var msg *types.Message
	err := s.st.Txn(func(tx store.Tx) error {
		msg = nil // reset: the transaction may run more than once

		idStr, ok, err := tx.LPop(listQueue)
		if err != nil || !ok {
			return err
		}

		moved, err := tx.SMove(setEnqueued, setBeingChecked, idStr)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("message: queued id %s missing from enqueued set", idStr)
		}

		m, err := readMessage(tx, idStr)
		if err != nil {
			return err
		}
		msg = m
		return nil
	}, listQueue)
	return msg, err
}

// MarkSpam moves msg from being_checked to blocked_for_spam and increments the
// sender's spam score, atomically.
func (s *Store) MarkSpam(msg *types.Message) error {
	return s.st.Txn(func(tx store.Tx) error {
		if err := s.moveChecked(tx, msg, setSpam); err != nil {
			return err
		}
		_, err := tx.ZIncrBy(zsetSpammers, msg.Sender, 1)
		return err
	}, setBeingChecked)
}

// MarkDelivered moves msg from being_checked to delivered, pushes its id onto
// the recipient's inbox, and increments the sender's delivered score,
// atomically.
func (s *Store) MarkDelivered(msg *types.Message) error {
	return s.st.Txn(func(tx store.Tx) error {
		if err := s.moveChecked(tx, msg, setDelivered); err != nil {
			return err
		}
		if err := tx.RPush(inboxKey(msg.Recipient), formatID(msg.ID)); err != nil {
			return err
		}
		_, err := tx.ZIncrBy(zsetChatters, msg.Sender, 1)
		return err
	}, setBeingChecked)
}

// moveChecked moves msg's id out of being_checked into the terminal set dst.
func (s *Store) moveChecked(tx store.Tx, msg *types.Message, dst string) error {
	moved, err := tx.SMove(setBeingChecked, dst, formatID(msg.ID))
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("message: id %d is not being checked", msg.ID)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func readMessage(tx store.ReadTx, idStr string) (*types.Message, error) {
	raw, ok, err := tx.HGet(hashMessages, idStr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, idStr)
	}
	var m types.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("message: decode %s: %w", idStr, err)
	}
	return &m, nil
}
