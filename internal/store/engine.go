// Package store defines the backing-store abstraction every Courier component
// is written against.
//
// Design principle: the message store, the session manager, and every layer
// above them must ONLY interact with shared state through this interface —
// never through file I/O or a private connection. Components receive a Store
// handle at construction time; nothing holds a singleton.
//
// The store exposes the five capabilities the pipeline needs: atomic counters,
// optimistic transactions, sets and sorted sets, ordered lists, and broadcast
// pub/sub. Each logical key names exactly one data structure.
package store

import "errors"

// ErrNotFound is returned when a key or hash field does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is the internal signal that an optimistic transaction observed a
// key whose version changed before commit. Txn implementations retry on it
// transparently; it must never escape to a Store caller.
var ErrConflict = errors.New("store: transaction conflict")

// ScoredMember is one entry of a sorted set.
type ScoredMember struct {
	Member string
	Score  int64
}

// ReadTx is the read-only view of the store's data structures.
// All reads within one ReadTx observe a single consistent snapshot.
type ReadTx interface {
	// Get reads the counter stored at key. ok is false when the counter has
	// never been incremented.
	Get(key string) (val int64, ok bool, err error)

	// HGet reads one field of the hash at key.
	HGet(hash, field string) (val string, ok bool, err error)

	// SIsMember reports whether member is in the set at key.
	SIsMember(set, member string) (bool, error)

	// SMembers returns all members of the set, sorted lexicographically.
	SMembers(set string) ([]string, error)

	// SCard returns the number of members in the set.
	SCard(set string) (int, error)

	// ZRevRange returns every entry of the sorted set ordered by descending
	// score; equal scores are ordered by ascending member so repeated reads
	// return identical lists.
	ZRevRange(zset string) ([]ScoredMember, error)

	// LRange returns the whole list in push order (oldest first).
	LRange(list string) ([]string, error)

	// LLen returns the list length.
	LLen(list string) (int, error)
}

// Tx extends ReadTx with mutations. All mutations staged in a Tx commit as one
// atomic unit, or not at all.
type Tx interface {
	ReadTx

	// Incr adds delta to the counter at key and returns the new value.
	// A counter that was never written starts at zero.
	Incr(key string, delta int64) (int64, error)

	// HSet writes one field of the hash at key.
	HSet(hash, field, value string) error

	// SAdd inserts members into the set. Re-adding an existing member is a
	// no-op, so seeding is idempotent.
	SAdd(set string, members ...string) error

	// SRem removes member from the set.
	SRem(set, member string) error

	// SMove atomically removes member from src and adds it to dst.
	// It reports false (and moves nothing) when member is not in src.
	SMove(src, dst, member string) (bool, error)

	// ZIncrBy adds delta to member's score in the sorted set, creating the
	// entry at delta if absent, and returns the new score.
	ZIncrBy(zset, member string, delta int64) (int64, error)

	// RPush appends values to the tail of the list.
	RPush(list string, values ...string) error

	// LPop removes and returns the head of the list.
	// ok is false when the list is empty.
	LPop(list string) (val string, ok bool, err error)
}

// Store is the single handle through which all shared state is accessed.
//
// Txn runs fn inside an optimistic transaction. The watched keys (plus every
// key fn reads) are version-checked at commit; if another transaction committed
// a change to any of them in the meantime the whole transaction is retried from
// scratch. The retry is invisible to the caller — fn must therefore be free of
// side effects other than staging reads and writes on the Tx.
//
// Publish/Subscribe is broadcast messaging: a publisher never blocks, and a
// subscriber that is slow or absent misses records instead of backpressuring
// the publisher.
//
// All methods are safe for concurrent use.
type Store interface {
	View(fn func(tx ReadTx) error) error
	Txn(fn func(tx Tx) error, watch ...string) error

	Publish(topic, payload string)
	Subscribe(topic string) *Subscription

	Close() error
}
