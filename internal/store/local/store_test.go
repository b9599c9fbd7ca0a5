package local_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/snehjoshi/courier/internal/store"
	"github.com/snehjoshi/courier/internal/store/local"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func openStore(t *testing.T) *local.Store {
	t.Helper()
	st, err := local.Open(t.TempDir())
	if err != nil {
		t.Fatalf("local.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustTxn(t *testing.T, st *local.Store, fn func(tx store.Tx) error, watch ...string) {
	t.Helper()
	if err := st.Txn(fn, watch...); err != nil {
		t.Fatalf("Txn: %v", err)
	}
}

// ─── Counters ────────────────────────────────────────────────────────────────

func TestStore_IncrAndGet(t *testing.T) {
	st := openStore(t)

	mustTxn(t, st, func(tx store.Tx) error {
		v, err := tx.Incr("hits", 1)
		if err != nil {
			return err
		}
		if v != 1 {
			t.Errorf("first Incr: want 1, got %d", v)
		}
		v, err = tx.Incr("hits", 2)
		if err != nil {
			return err
		}
		if v != 3 {
			t.Errorf("second Incr: want 3, got %d", v)
		}
		return nil
	})

	if err := st.View(func(tx store.ReadTx) error {
		v, ok, err := tx.Get("hits")
		if err != nil {
			return err
		}
		if !ok || v != 3 {
			t.Errorf("Get: want (3, true), got (%d, %v)", v, ok)
		}
		_, ok, err = tx.Get("missing")
		if err != nil {
			return err
		}
		if ok {
			t.Error("Get missing: want ok=false")
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

// TestStore_ConcurrentIncr is the core optimistic-concurrency property: many
// goroutines incrementing the same watched counter must produce every value
// exactly once.
func TestStore_ConcurrentIncr(t *testing.T) {
	st := openStore(t)

	const goroutines = 16
	const perGoroutine = 10

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				var got int64
				err := st.Txn(func(tx store.Tx) error {
					v, err := tx.Incr("ids", 1)
					got = v
					return err
				}, "ids")
				if err != nil {
					t.Errorf("Txn: %v", err)
					return
				}
				mu.Lock()
				seen[got]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := goroutines * perGoroutine
	if len(seen) != total {
		t.Fatalf("distinct values: want %d, got %d", total, len(seen))
	}
	for v := int64(1); v <= int64(total); v++ {
		if seen[v] != 1 {
			t.Errorf("value %d assigned %d times", v, seen[v])
		}
	}
}

// ─── Hashes ──────────────────────────────────────────────────────────────────

func TestStore_Hash(t *testing.T) {
	st := openStore(t)

	mustTxn(t, st, func(tx store.Tx) error {
		if err := tx.HSet("users", "1", "alice"); err != nil {
			return err
		}
		return tx.HSet("users", "2", "bob")
	})

	if err := st.View(func(tx store.ReadTx) error {
		v, ok, err := tx.HGet("users", "1")
		if err != nil {
			return err
		}
		if !ok || v != "alice" {
			t.Errorf(`HGet "1": want ("alice", true), got (%q, %v)`, v, ok)
		}
		_, ok, err = tx.HGet("users", "9")
		if err != nil {
			return err
		}
		if ok {
			t.Error("HGet missing field: want ok=false")
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

// ─── Sets ────────────────────────────────────────────────────────────────────

func TestStore_SetOperations(t *testing.T) {
	st := openStore(t)

	mustTxn(t, st, func(tx store.Tx) error {
		return tx.SAdd("online", "carol", "alice", "bob", "alice")
	})

	if err := st.View(func(tx store.ReadTx) error {
		members, err := tx.SMembers("online")
		if err != nil {
			return err
		}
		want := []string{"alice", "bob", "carol"}
		if len(members) != len(want) {
			t.Fatalf("SMembers: want %v, got %v", want, members)
		}
		for i := range want {
			if members[i] != want[i] {
				t.Errorf("SMembers[%d]: want %q, got %q", i, want[i], members[i])
			}
		}
		n, err := tx.SCard("online")
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("SCard: want 3, got %d", n)
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}

	mustTxn(t, st, func(tx store.Tx) error {
		return tx.SRem("online", "bob")
	})

	if err := st.View(func(tx store.ReadTx) error {
		ok, err := tx.SIsMember("online", "bob")
		if err != nil {
			return err
		}
		if ok {
			t.Error("SIsMember after SRem: want false")
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestStore_SMove(t *testing.T) {
	st := openStore(t)

	mustTxn(t, st, func(tx store.Tx) error {
		return tx.SAdd("pending", "42")
	})

	mustTxn(t, st, func(tx store.Tx) error {
		moved, err := tx.SMove("pending", "done", "42")
		if err != nil {
			return err
		}
		if !moved {
			t.Error("SMove existing member: want moved=true")
		}
		moved, err = tx.SMove("pending", "done", "99")
		if err != nil {
			return err
		}
		if moved {
			t.Error("SMove missing member: want moved=false")
		}
		return nil
	})

	if err := st.View(func(tx store.ReadTx) error {
		inPending, err := tx.SIsMember("pending", "42")
		if err != nil {
			return err
		}
		inDone, err := tx.SIsMember("done", "42")
		if err != nil {
			return err
		}
		if inPending || !inDone {
			t.Errorf("after SMove: pending=%v done=%v, want false/true", inPending, inDone)
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

// ─── Sorted sets ─────────────────────────────────────────────────────────────

func TestStore_ZRevRange(t *testing.T) {
	st := openStore(t)

	mustTxn(t, st, func(tx store.Tx) error {
		for member, n := range map[string]int{"alice": 3, "bob": 1, "carol": 3, "dave": 5} {
			for i := 0; i < n; i++ {
				if _, err := tx.ZIncrBy("scores", member, 1); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if err := st.View(func(tx store.ReadTx) error {
		got, err := tx.ZRevRange("scores")
		if err != nil {
			return err
		}
		want := []store.ScoredMember{
			{Member: "dave", Score: 5},
			{Member: "alice", Score: 3}, // score ties break by member ascending
			{Member: "carol", Score: 3},
			{Member: "bob", Score: 1},
		}
		if len(got) != len(want) {
			t.Fatalf("ZRevRange: want %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ZRevRange[%d]: want %+v, got %+v", i, want[i], got[i])
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

// ─── Lists ───────────────────────────────────────────────────────────────────

func TestStore_ListFIFO(t *testing.T) {
	st := openStore(t)

	mustTxn(t, st, func(tx store.Tx) error {
		return tx.RPush("queue", "a", "b", "c")
	})

	for _, want := range []string{"a", "b", "c"} {
		mustTxn(t, st, func(tx store.Tx) error {
			v, ok, err := tx.LPop("queue")
			if err != nil {
				return err
			}
			if !ok || v != want {
				t.Errorf("LPop: want (%q, true), got (%q, %v)", want, v, ok)
			}
			return nil
		})
	}

	mustTxn(t, st, func(tx store.Tx) error {
		_, ok, err := tx.LPop("queue")
		if err != nil {
			return err
		}
		if ok {
			t.Error("LPop on empty list: want ok=false")
		}
		return nil
	})
}

// ─── Persistence ─────────────────────────────────────────────────────────────

func TestStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	st, err := local.Open(dir)
	if err != nil {
		t.Fatalf("local.Open: %v", err)
	}
	mustTxn(t, st, func(tx store.Tx) error {
		if _, err := tx.Incr("counter", 7); err != nil {
			return err
		}
		if err := tx.SAdd("members", "alice"); err != nil {
			return err
		}
		return tx.RPush("log", "one", "two")
	})
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := local.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	if err := st2.View(func(tx store.ReadTx) error {
		v, ok, err := tx.Get("counter")
		if err != nil {
			return err
		}
		if !ok || v != 7 {
			t.Errorf("counter after reopen: want 7, got (%d, %v)", v, ok)
		}
		isMember, err := tx.SIsMember("members", "alice")
		if err != nil {
			return err
		}
		if !isMember {
			t.Error("set member lost after reopen")
		}
		items, err := tx.LRange("log")
		if err != nil {
			return err
		}
		if len(items) != 2 || items[0] != "one" || items[1] != "two" {
			t.Errorf("list after reopen: want [one two], got %v", items)
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

// ─── Transaction semantics ───────────────────────────────────────────────────

// A transaction whose function returns an error must leave no trace.
func TestStore_TxnRollbackOnError(t *testing.T) {
	st := openStore(t)
	boom := errors.New("boom")

	err := st.Txn(func(tx store.Tx) error {
		if _, err := tx.Incr("counter", 1); err != nil {
			return err
		}
		if err := tx.SAdd("members", "alice"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Txn error: want boom, got %v", err)
	}

	if err := st.View(func(tx store.ReadTx) error {
		_, ok, err := tx.Get("counter")
		if err != nil {
			return err
		}
		if ok {
			t.Error("counter written despite rollback")
		}
		n, err := tx.SCard("members")
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("set written despite rollback: %d members", n)
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

// Concurrent poppers on a watched list must never hand out the same item.
func TestStore_ConcurrentLPopNoDuplicates(t *testing.T) {
	st := openStore(t)

	const items = 50
	mustTxn(t, st, func(tx store.Tx) error {
		for i := 0; i < items; i++ {
			if err := tx.RPush("queue", fmt.Sprintf("item-%d", i)); err != nil {
				return err
			}
		}
		return nil
	})

	var (
		mu     sync.Mutex
		popped = make(map[string]int)
		wg     sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var item string
				var ok bool
				err := st.Txn(func(tx store.Tx) error {
					item, ok = "", false
					v, popOK, err := tx.LPop("queue")
					if err != nil {
						return err
					}
					item, ok = v, popOK
					return nil
				}, "queue")
				if err != nil {
					t.Errorf("Txn: %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				popped[item]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(popped) != items {
		t.Fatalf("popped %d distinct items, want %d", len(popped), items)
	}
	for item, n := range popped {
		if n != 1 {
			t.Errorf("%s popped %d times", item, n)
		}
	}
}
