// Package local is the single-node, disk-backed implementation of the Courier
// backing store.
//
// All data structures live in one bbolt database file. bbolt is chosen because
// it is pure Go (no CGO, no external process), ACID, a single file inside the
// data directory, and well-maintained (used by etcd in production).
//
// Each logical key holds one serialized structure and carries a version number
// in a separate bucket. Optimistic transactions snapshot-load the structures
// they touch, stage mutations in memory, and commit inside one bbolt update
// that re-validates every observed version — a concurrent commit to any key
// the transaction read aborts it, and Txn retries from scratch.
package local

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/courier/internal/store"
)

const dbFile = "store.db"

var (
	bucketCounters = []byte("counters")
	bucketHashes   = []byte("hashes")
	bucketSets     = []byte("sets")
	bucketZSets    = []byte("zsets")
	bucketLists    = []byte("lists")
	bucketVersions = []byte("versions")
)

var allBuckets = [][]byte{
	bucketCounters, bucketHashes, bucketSets, bucketZSets, bucketLists, bucketVersions,
}

// Store is the bbolt-backed store.Store implementation.
type Store struct {
	*store.Hub
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the store database inside dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, dbFile)
	opts := &bbolt.Options{Timeout: 0} // non-blocking open
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	return &Store{Hub: store.NewHub(), db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn against a single consistent read snapshot.
func (s *Store) View(fn func(tx store.ReadTx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&readTx{btx: btx})
	})
}

// Txn runs fn inside an optimistic transaction; see store.Store for the
// contract. Conflicts retry indefinitely — under a single bbolt writer they
// are transient by construction.
//
// Structures are lazily loaded, so fn may observe keys from different moments
// in time. The commit validates the whole read-set, and an fn error is only
// surfaced when the read-set is still current — an error computed on a stale
// snapshot retries like any other conflict.
func (s *Store) Txn(fn func(tx store.Tx) error, watch ...string) error {
	for {
		t := newMemTx(s)
		for _, key := range watch {
			if err := t.touch(key); err != nil {
				return err
			}
		}
		if err := fn(t); err != nil {
			stale, verr := t.stale()
			if verr != nil {
				return verr
			}
			if stale {
				continue
			}
			return err
		}
		err := t.commit()
		if err == nil {
			return nil
		}
		if err != store.ErrConflict {
			return err
		}
		// Another transaction committed to a key we read — start over.
	}
}

// ─── Single-snapshot read transaction ────────────────────────────────────────

// readTx serves ReadTx directly from one open bbolt view.
type readTx struct {
	btx *bbolt.Tx
}

var _ store.ReadTx = (*readTx)(nil)

func (t *readTx) Get(key string) (int64, bool, error) {
	raw := t.btx.Bucket(bucketCounters).Get([]byte(key))
	if raw == nil {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("store: counter %s: %w", key, err)
	}
	return v, true, nil
}

func (t *readTx) HGet(hash, field string) (string, bool, error) {
	h, err := decodeHash(t.btx.Bucket(bucketHashes).Get([]byte(hash)))
	if err != nil {
		return "", false, err
	}
	v, ok := h[field]
	return v, ok, nil
}

func (t *readTx) SIsMember(set, member string) (bool, error) {
	s, err := decodeSet(t.btx.Bucket(bucketSets).Get([]byte(set)))
	if err != nil {
		return false, err
	}
	_, ok := s[member]
	return ok, nil
}

func (t *readTx) SMembers(set string) ([]string, error) {
	s, err := decodeSet(t.btx.Bucket(bucketSets).Get([]byte(set)))
	if err != nil {
		return nil, err
	}
	return sortedMembers(s), nil
}

func (t *readTx) SCard(set string) (int, error) {
	s, err := decodeSet(t.btx.Bucket(bucketSets).Get([]byte(set)))
	if err != nil {
		return 0, err
	}
	return len(s), nil
}

func (t *readTx) ZRevRange(zset string) ([]store.ScoredMember, error) {
	z, err := decodeZSet(t.btx.Bucket(bucketZSets).Get([]byte(zset)))
	if err != nil {
		return nil, err
	}
	return zsetDescending(z), nil
}

func (t *readTx) LRange(list string) ([]string, error) {
	return decodeList(t.btx.Bucket(bucketLists).Get([]byte(list)))
}

func (t *readTx) LLen(list string) (int, error) {
	l, err := decodeList(t.btx.Bucket(bucketLists).Get([]byte(list)))
	if err != nil {
		return 0, err
	}
	return len(l), nil
}

// ─── Serialization helpers ───────────────────────────────────────────────────

// Sets are persisted as sorted JSON arrays, hashes and sorted sets as JSON
// objects, lists as JSON arrays in push order. A nil value decodes to the
// empty structure — absence and emptiness are indistinguishable on purpose.

func decodeSet(raw []byte) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if raw == nil {
		return out, nil
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, fmt.Errorf("store: decode set: %w", err)
	}
	for _, m := range members {
		out[m] = struct{}{}
	}
	return out, nil
}

func encodeSet(s map[string]struct{}) ([]byte, error) {
	return json.Marshal(sortedMembers(s))
}

func decodeHash(raw []byte) (map[string]string, error) {
	out := make(map[string]string)
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode hash: %w", err)
	}
	return out, nil
}

func decodeZSet(raw []byte) (map[string]int64, error) {
	out := make(map[string]int64)
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode zset: %w", err)
	}
	return out, nil
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeList(raw []byte) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode list: %w", err)
	}
	return out, nil
}

func sortedMembers(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// zsetDescending orders by descending score, then ascending member so that
// repeated reads of an unchanged sorted set return identical lists.
func zsetDescending(z map[string]int64) []store.ScoredMember {
	out := make([]store.ScoredMember, 0, len(z))
	for m, score := range z {
		out = append(out, store.ScoredMember{Member: m, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// ─── Versions ────────────────────────────────────────────────────────────────

func currentVersion(versions *bbolt.Bucket, key string) uint64 {
	raw := versions.Get([]byte(key))
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func putVersion(versions *bbolt.Bucket, key string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return versions.Put([]byte(key), buf[:])
}
