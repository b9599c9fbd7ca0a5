// Command courier-server is the Courier messaging backend process.
// It loads configuration, initialises node identity, seeds the user registry,
// and starts the spam-check pipeline and the HTTP transport.
//
// Usage:
//
//	courier-server [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snehjoshi/courier/internal/config"
	"github.com/snehjoshi/courier/internal/journal"
	"github.com/snehjoshi/courier/internal/message"
	"github.com/snehjoshi/courier/internal/metrics"
	"github.com/snehjoshi/courier/internal/node"
	"github.com/snehjoshi/courier/internal/session"
	"github.com/snehjoshi/courier/internal/spam"
	"github.com/snehjoshi/courier/internal/store/local"
	transphttp "github.com/snehjoshi/courier/internal/transport/http"
	"github.com/snehjoshi/courier/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise node identity ──────────────────────────────────────────
	n, err := node.New(cfg.Node.DataDir, cfg.Node.ID)
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}

	slog.Info("courier starting",
		"node_id", n.ID(),
		"host", cfg.Node.Host,
		"port", cfg.Node.Port,
		"data_dir", n.DataDir(),
	)

	// ── 4. Open the backing store ────────────────────────────────────────────
	st, err := local.Open(n.DataDir())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// ── 5. Initialise metrics registry ───────────────────────────────────────
	var metricsReg *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsReg = &metrics.Registry{}
	}

	// ── 6. Open the event journal and start its listener ─────────────────────
	var journalOpts []journal.Option
	if metricsReg != nil {
		journalOpts = append(journalOpts, journal.WithMetrics(metricsReg))
	}
	jrnl, err := journal.Open(st, n.DataDir(), journalOpts...)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	listener := journal.NewListener(jrnl)

	// ── 7. Seed the user registry ────────────────────────────────────────────
	sess := session.New(st, jrnl)
	if err := sess.Seed(cfg.Seed.RegularUsers, cfg.Seed.AdminUsers); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	// ── 8. Construct the message pipeline ────────────────────────────────────
	disp := message.NewDispatcher(st)
	msgs := message.New(st, disp)

	policy, err := spam.FromConfig(cfg.Spam.Policy, cfg.Spam.Probability, cfg.Spam.CheckDelay(), cfg.Spam.Keywords)
	if err != nil {
		return fmt.Errorf("spam policy: %w", err)
	}

	// ── 9. Start the spam-check workers ──────────────────────────────────────
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var poolOpts []worker.Option
	if metricsReg != nil {
		poolOpts = append(poolOpts, worker.WithMetrics(metricsReg))
	}
	pool := worker.NewPool(msgs, disp, jrnl, policy, cfg.Workers.Count, poolOpts...)
	pool.Start(workerCtx)

	// ── 10. Start HTTP / WebSocket transport ─────────────────────────────────
	srv := transphttp.New(msgs, sess, jrnl, n, cfg, metricsReg)
	addr := fmt.Sprintf("%s:%d", cfg.Node.Host, cfg.Node.Port)

	// Serve in a background goroutine so we can handle signals.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("courier ready", "node_id", n.ID(), "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 11. Start dedicated Prometheus metrics listener ──────────────────────
	if metricsReg != nil {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			slog.Info("metrics server listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, metricsReg.Handler()); err != nil {
				slog.Warn("metrics server error", "err", err)
			}
		}()
	}

	// ── 12. Graceful shutdown on SIGINT / SIGTERM ────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests 5 seconds to complete.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	// Stop the pipeline: broadcast the dispatcher sentinel so every worker
	// drains the queue and exits, then close the journal and the store.
	disp.Stop()
	pool.Wait()
	listener.Stop()

	if err := jrnl.Close(); err != nil {
		slog.Warn("journal close error", "err", err)
	}
	if err := st.Close(); err != nil {
		slog.Warn("store close error", "err", err)
	}

	slog.Info("courier stopped")
	return nil
}
