// Package journal is the append-only event journal: a chronological log of
// human-readable lifecycle events (logins, logouts, spam flags).
//
// Records are durably appended to a checksummed log file FIRST and broadcast
// on the journal topic second. The broadcast is a low-latency hint for live
// subscribers (the listener, WebSocket streams) and may drop records for slow
// subscribers; the log file is the source of truth and misses nothing.
package journal

import (
	"fmt"
	"path/filepath"

	"github.com/snehjoshi/courier/internal/metrics"
	"github.com/snehjoshi/courier/internal/store"
)

// Topic is the broadcast topic journal records are published on.
const Topic = "event_journal"

// sentinel terminates every subscription feed when published.
const sentinel = "KILL"

const logFile = "events.log"

// Journal appends and serves event records.
// All methods are safe for concurrent use.
type Journal struct {
	st  store.Store
	log *Log
	reg *metrics.Registry // nil when metrics are disabled
}

// Option configures a Journal.
type Option func(*Journal)

// WithMetrics attaches a metrics registry; every Record increments the
// journal counter.
func WithMetrics(reg *metrics.Registry) Option {
	return func(j *Journal) { j.reg = reg }
}

// Open creates a Journal whose log file lives inside dir.
func Open(st store.Store, dir string, opts ...Option) (*Journal, error) {
	l, err := OpenLog(filepath.Join(dir, logFile))
	if err != nil {
		return nil, err
	}
	j := &Journal{st: st, log: l}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Record durably appends text and then broadcasts it to live subscribers.
// The broadcast is fire-and-forget; Record never blocks on subscribers.
func (j *Journal) Record(text string) error {
	if err := j.log.Append(text); err != nil {
		return fmt.Errorf("journal: record: %w", err)
	}
	if j.reg != nil {
		j.reg.JournalRecords.Inc(Topic)
	}
	j.st.Publish(Topic, text)
	return nil
}

// Events returns every record in append order.
func (j *Journal) Events() ([]string, error) {
	return j.log.ReadAll()
}

// Close broadcasts the terminating sentinel — ending every open feed — and
// closes the log file.
func (j *Journal) Close() error {
	j.st.Publish(Topic, sentinel)
	return j.log.Close()
}

// ─── Feeds ───────────────────────────────────────────────────────────────────

// Feed is a live sequence of journal records in publication order.
// C is closed when the journal terminates (sentinel) or Cancel is called.
type Feed struct {
	C <-chan string

	sub *store.Subscription
}

// Cancel detaches the feed early. Safe to call more than once.
func (f *Feed) Cancel() { f.sub.Unsubscribe() }

// Subscribe returns a Feed of records published after this call.
// Records published while no one is draining the feed are dropped, not queued
// without bound.
func (j *Journal) Subscribe() *Feed {
	sub := j.st.Subscribe(Topic)
	out := make(chan string, 64)
	f := &Feed{C: out, sub: sub}

	go func() {
		defer close(out)
		for payload := range sub.C {
			if payload == sentinel {
				sub.Unsubscribe()
				return
			}
			select {
			case out <- payload:
			default:
				// Feed consumer is not draining — drop, like the hub does.
			}
		}
	}()
	return f
}
