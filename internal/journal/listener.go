package journal

import (
	"log/slog"
	"sync"
)

// Listener is the passive journal observer: it renders every broadcast record
// through the structured logger, in arrival order, and stops when the journal
// terminates. It has no other externally visible effect and never blocks a
// publisher.
type Listener struct {
	feed *Feed
	wg   sync.WaitGroup
}

// NewListener starts a listener on j.
func NewListener(j *Journal) *Listener {
	l := &Listener{feed: j.Subscribe()}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Listener) run() {
	defer l.wg.Done()
	for record := range l.feed.C {
		slog.Info("event journal", "record", record)
	}
	slog.Info("event journal listener stopped")
}

// Stop detaches the listener without waiting for the journal sentinel and
// blocks until the render loop has exited.
func (l *Listener) Stop() {
	l.feed.Cancel()
	l.wg.Wait()
}
