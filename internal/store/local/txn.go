package local

import (
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/courier/internal/store"
)

// kind tags which bucket a dirty logical key belongs to.
type kind uint8

const (
	kindCounter kind = iota
	kindHash
	kindSet
	kindZSet
	kindList
)

// counterVal tracks a loaded counter and whether it existed before the
// transaction (Get's ok return).
type counterVal struct {
	v      int64
	exists bool
}

// memTx is the staged optimistic transaction.
//
// Structures are lazily loaded on first touch, each recording the key's
// version at load time. Mutations operate on the in-memory copies and mark the
// key dirty. commit() validates every recorded version and writes back the
// dirty structures in one bbolt update.
type memTx struct {
	s *Store

	vers     map[string]uint64
	counters map[string]*counterVal
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	zsets    map[string]map[string]int64
	lists    map[string][]string
	dirty    map[string]kind
}

var _ store.Tx = (*memTx)(nil)

func newMemTx(s *Store) *memTx {
	return &memTx{
		s:        s,
		vers:     make(map[string]uint64),
		counters: make(map[string]*counterVal),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		zsets:    make(map[string]map[string]int64),
		lists:    make(map[string][]string),
		dirty:    make(map[string]kind),
	}
}

// touch records key's current version without loading any structure.
// Recording happens on first touch only — the version seen first is the one
// validated at commit.
func (t *memTx) touch(key string) error {
	if _, ok := t.vers[key]; ok {
		return nil
	}
	return t.s.db.View(func(btx *bbolt.Tx) error {
		t.vers[key] = currentVersion(btx.Bucket(bucketVersions), key)
		return nil
	})
}

// load reads the raw value for key from bucket and records its version.
func (t *memTx) load(bucket []byte, key string) ([]byte, error) {
	var raw []byte
	err := t.s.db.View(func(btx *bbolt.Tx) error {
		if _, seen := t.vers[key]; !seen {
			t.vers[key] = currentVersion(btx.Bucket(bucketVersions), key)
		}
		if v := btx.Bucket(bucket).Get([]byte(key)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	return raw, err
}

// ─── Lazy structure accessors ────────────────────────────────────────────────

func (t *memTx) counter(key string) (*counterVal, error) {
	if c, ok := t.counters[key]; ok {
		return c, nil
	}
	raw, err := t.load(bucketCounters, key)
	if err != nil {
		return nil, err
	}
	c := &counterVal{}
	if raw != nil {
		v, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: counter %s: %w", key, err)
		}
		c.v, c.exists = v, true
	}
	t.counters[key] = c
	return c, nil
}

func (t *memTx) hash(key string) (map[string]string, error) {
	if h, ok := t.hashes[key]; ok {
		return h, nil
	}
	raw, err := t.load(bucketHashes, key)
	if err != nil {
		return nil, err
	}
	h, err := decodeHash(raw)
	if err != nil {
		return nil, err
	}
	t.hashes[key] = h
	return h, nil
}

func (t *memTx) set(key string) (map[string]struct{}, error) {
	if s, ok := t.sets[key]; ok {
		return s, nil
	}
	raw, err := t.load(bucketSets, key)
	if err != nil {
		return nil, err
	}
	s, err := decodeSet(raw)
	if err != nil {
		return nil, err
	}
	t.sets[key] = s
	return s, nil
}

func (t *memTx) zset(key string) (map[string]int64, error) {
	if z, ok := t.zsets[key]; ok {
		return z, nil
	}
	raw, err := t.load(bucketZSets, key)
	if err != nil {
		return nil, err
	}
	z, err := decodeZSet(raw)
	if err != nil {
		return nil, err
	}
	t.zsets[key] = z
	return z, nil
}

func (t *memTx) list(key string) ([]string, error) {
	if l, ok := t.lists[key]; ok {
		return l, nil
	}
	raw, err := t.load(bucketLists, key)
	if err != nil {
		return nil, err
	}
	l, err := decodeList(raw)
	if err != nil {
		return nil, err
	}
	t.lists[key] = l
	return l, nil
}

// ─── ReadTx ──────────────────────────────────────────────────────────────────

func (t *memTx) Get(key string) (int64, bool, error) {
	c, err := t.counter(key)
	if err != nil {
		return 0, false, err
	}
	return c.v, c.exists, nil
}

func (t *memTx) HGet(hash, field string) (string, bool, error) {
	h, err := t.hash(hash)
	if err != nil {
		return "", false, err
	}
	v, ok := h[field]
	return v, ok, nil
}

func (t *memTx) SIsMember(set, member string) (bool, error) {
	s, err := t.set(set)
	if err != nil {
		return false, err
	}
	_, ok := s[member]
	return ok, nil
}

func (t *memTx) SMembers(set string) ([]string, error) {
	s, err := t.set(set)
	if err != nil {
		return nil, err
	}
	return sortedMembers(s), nil
}

func (t *memTx) SCard(set string) (int, error) {
	s, err := t.set(set)
	if err != nil {
		return 0, err
	}
	return len(s), nil
}

func (t *memTx) ZRevRange(zset string) ([]store.ScoredMember, error) {
	z, err := t.zset(zset)
	if err != nil {
		return nil, err
	}
	return zsetDescending(z), nil
}

func (t *memTx) LRange(list string) ([]string, error) {
	l, err := t.list(list)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(l))
	copy(out, l)
	return out, nil
}

func (t *memTx) LLen(list string) (int, error) {
	l, err := t.list(list)
	if err != nil {
		return 0, err
	}
	return len(l), nil
}

// ─── Tx mutations ────────────────────────────────────────────────────────────

func (t *memTx) Incr(key string, delta int64) (int64, error) {
	c, err := t.counter(key)
	if err != nil {
		return 0, err
	}
	c.v += delta
	c.exists = true
	t.dirty[key] = kindCounter
	return c.v, nil
}

func (t *memTx) HSet(hash, field, value string) error {
	h, err := t.hash(hash)
	if err != nil {
		return err
	}
	h[field] = value
	t.dirty[hash] = kindHash
	return nil
}

func (t *memTx) SAdd(set string, members ...string) error {
	s, err := t.set(set)
	if err != nil {
		return err
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	t.dirty[set] = kindSet
	return nil
}

func (t *memTx) SRem(set, member string) error {
	s, err := t.set(set)
	if err != nil {
		return err
	}
	delete(s, member)
	t.dirty[set] = kindSet
	return nil
}

func (t *memTx) SMove(src, dst, member string) (bool, error) {
	from, err := t.set(src)
	if err != nil {
		return false, err
	}
	if _, ok := from[member]; !ok {
		return false, nil
	}
	to, err := t.set(dst)
	if err != nil {
		return false, err
	}
	delete(from, member)
	to[member] = struct{}{}
	t.dirty[src] = kindSet
	t.dirty[dst] = kindSet
	return true, nil
}

func (t *memTx) ZIncrBy(zset, member string, delta int64) (int64, error) {
	z, err := t.zset(zset)
	if err != nil {
		return 0, err
	}
	z[member] += delta
	t.dirty[zset] = kindZSet
	return z[member], nil
}

func (t *memTx) RPush(list string, values ...string) error {
	l, err := t.list(list)
	if err != nil {
		return err
	}
	t.lists[list] = append(l, values...)
	t.dirty[list] = kindList
	return nil
}

func (t *memTx) LPop(list string) (string, bool, error) {
	l, err := t.list(list)
	if err != nil {
		return "", false, err
	}
	if len(l) == 0 {
		return "", false, nil
	}
	head := l[0]
	t.lists[list] = l[1:]
	t.dirty[list] = kindList
	return head, true, nil
}

// stale reports whether any key the transaction read has been committed to
// since it was loaded.
func (t *memTx) stale() (bool, error) {
	var stale bool
	err := t.s.db.View(func(btx *bbolt.Tx) error {
		versions := btx.Bucket(bucketVersions)
		for key, seen := range t.vers {
			if currentVersion(versions, key) != seen {
				stale = true
				return nil
			}
		}
		return nil
	})
	return stale, err
}

// ─── Commit ──────────────────────────────────────────────────────────────────

// commit validates every version observed by the transaction and, if none
// changed, writes back all dirty structures and bumps their versions — all
// inside one bbolt update. Returns store.ErrConflict on validation failure.
func (t *memTx) commit() error {
	return t.s.db.Update(func(btx *bbolt.Tx) error {
		versions := btx.Bucket(bucketVersions)

		for key, seen := range t.vers {
			if currentVersion(versions, key) != seen {
				return store.ErrConflict
			}
		}

		for key, k := range t.dirty {
			var (
				bucket []byte
				raw    []byte
				err    error
			)
			switch k {
			case kindCounter:
				bucket = bucketCounters
				raw = []byte(strconv.FormatInt(t.counters[key].v, 10))
			case kindHash:
				bucket = bucketHashes
				raw, err = encodeJSON(t.hashes[key])
			case kindSet:
				bucket = bucketSets
				raw, err = encodeSet(t.sets[key])
			case kindZSet:
				bucket = bucketZSets
				raw, err = encodeJSON(t.zsets[key])
			case kindList:
				bucket = bucketLists
				raw, err = encodeJSON(t.lists[key])
			}
			if err != nil {
				return fmt.Errorf("store: encode %s: %w", key, err)
			}
			if err := btx.Bucket(bucket).Put([]byte(key), raw); err != nil {
				return err
			}
			if err := putVersion(versions, key, t.vers[key]+1); err != nil {
				return err
			}
		}
		return nil
	})
}
