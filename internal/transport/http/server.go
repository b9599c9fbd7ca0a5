// Package http provides the HTTP transport layer for Courier.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	POST /login
//	POST /logout
//	POST /message
//	GET  /inbound-messages
//	GET  /user-stats
//	GET  /spammer-stats
//	GET  /chatter-stats
//	GET  /online-users
//	GET  /event-journal
//	GET  /event-journal/ws
//	GET  /health
//	GET  /metrics
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/courier/internal/config"
	"github.com/snehjoshi/courier/internal/journal"
	"github.com/snehjoshi/courier/internal/message"
	"github.com/snehjoshi/courier/internal/metrics"
	"github.com/snehjoshi/courier/internal/node"
	"github.com/snehjoshi/courier/internal/session"
	transportws "github.com/snehjoshi/courier/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with Courier route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(msgs *message.Store, sess *session.Manager, jrnl *journal.Journal, n *node.Node, cfg *config.Config, reg *metrics.Registry) *Server {
	h := &Handler{msgs: msgs, sess: sess, jrnl: jrnl, node: n, reg: reg}
	ws := &transportws.Handler{Journal: jrnl}

	mux := http.NewServeMux()

	// Sessions
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /logout", h.logout)
	mux.HandleFunc("GET /online-users", h.onlineUsers)

	// Messages
	mux.HandleFunc("POST /message", h.createMessage)
	mux.HandleFunc("GET /inbound-messages", h.inboundMessages)
	mux.HandleFunc("GET /user-stats", h.userStats)
	mux.HandleFunc("GET /spammer-stats", h.spammerStats)
	mux.HandleFunc("GET /chatter-stats", h.chatterStats)

	// Event journal
	mux.HandleFunc("GET /event-journal", h.eventJournal)
	mux.Handle("GET /event-journal/ws", ws)

	// Health
	mux.HandleFunc("GET /health", h.health)

	// Metrics (Prometheus text format)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	// Build middleware chain (first = outermost).
	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware(cfg.HTTP.MaxBodyBytes),
		LoggingMiddleware(reg),
		RateLimitMiddleware(cfg.HTTP.RateLimit, cfg.HTTP.Burst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8080").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
