// Package worker runs the spam-check loop: pop the oldest queued message,
// apply the policy, and commit the resulting lifecycle transition.
//
// Design rules:
//
//   - The queue list in the store is authoritative. Dispatcher announcements
//     are wake-up hints only; a worker drains the queue until empty on every
//     wake-up, so a dropped hint delays a message but never strands it.
//   - Pop and record happen in one atomic store transaction (Store.Dequeue),
//     so a crash between them cannot lose a message.
//   - Multiple workers are safe: the store's optimistic concurrency ensures no
//     two ever pop the same id.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/snehjoshi/courier/internal/journal"
	"github.com/snehjoshi/courier/internal/message"
	"github.com/snehjoshi/courier/internal/metrics"
	"github.com/snehjoshi/courier/internal/spam"
	"github.com/snehjoshi/courier/internal/types"
)

// Pool runs a fixed number of spam-check workers.
type Pool struct {
	msgs   *message.Store
	disp   *message.Dispatcher
	jrnl   *journal.Journal
	policy spam.Policy

	workers int
	reg     *metrics.Registry // nil when metrics are disabled

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics attaches a metrics registry; verdict counters are recorded per
// processed message.
func WithMetrics(reg *metrics.Registry) Option {
	return func(p *Pool) { p.reg = reg }
}

// NewPool creates a pool of n workers. n < 1 is treated as 1.
func NewPool(msgs *message.Store, disp *message.Dispatcher, jrnl *journal.Journal, policy spam.Policy, n int, opts ...Option) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{msgs: msgs, disp: disp, jrnl: jrnl, policy: policy, workers: n}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. They run until ctx is cancelled or the
// dispatcher broadcasts its stop sentinel; either way each worker performs a
// final drain before exiting, so everything enqueued before shutdown is
// processed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	log := slog.With("worker", id)

	// Subscribe before the initial drain: a message created between the drain
	// and the subscription would otherwise wait for the next hint.
	sub := p.disp.Subscribe()
	defer sub.Unsubscribe()

	p.drain(ctx, log)

	for {
		select {
		case <-ctx.Done():
			p.drain(context.Background(), log)
			log.Info("worker stopped", "reason", "context cancelled")
			return
		case payload, ok := <-sub.C:
			if !ok || message.IsStop(payload) {
				p.drain(context.Background(), log)
				log.Info("worker stopped", "reason", "dispatcher stop")
				return
			}
			p.drain(ctx, log)
		}
	}
}

// drain processes queued messages until the queue is empty.
func (p *Pool) drain(ctx context.Context, log *slog.Logger) {
	for {
		msg, err := p.msgs.Dequeue()
		if err != nil {
			log.Error("dequeue failed", "error", err)
			return
		}
		if msg == nil {
			return
		}
		if err := p.process(ctx, msg, log); err != nil {
			log.Error("spam check failed", "id", msg.ID, "error", err)
		}
	}
}

func (p *Pool) process(ctx context.Context, msg *types.Message, log *slog.Logger) error {
	isSpam := p.policy.IsSpam(ctx, msg.Content)

	if isSpam {
		if err := p.msgs.MarkSpam(msg); err != nil {
			return err
		}
		if err := p.jrnl.Record(fmt.Sprintf("Message %d from %s was blocked for spam.", msg.ID, msg.Sender)); err != nil {
			log.Error("journal record failed", "id", msg.ID, "error", err)
		}
		if p.reg != nil {
			p.reg.Checked.Inc(metrics.VerdictKey(msg.Sender, "spam"))
		}
		log.Info("message blocked for spam", "id", msg.ID, "sender", msg.Sender)
		return nil
	}

	if err := p.msgs.MarkDelivered(msg); err != nil {
		return err
	}
	if p.reg != nil {
		p.reg.Checked.Inc(metrics.VerdictKey(msg.Sender, "delivered"))
	}
	log.Info("message delivered", "id", msg.ID, "sender", msg.Sender, "recipient", msg.Recipient)
	return nil
}
