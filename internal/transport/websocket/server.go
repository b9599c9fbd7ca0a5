// Package websocket streams the live event journal to WebSocket clients.
//
// Clients open a WebSocket connection to:
//
//	GET /event-journal/ws
//
// Every journal record published after the connection was opened is pushed as
// a JSON frame:
//
//	{"type":"event","record":"Alice has logged in."}
//
// The connection closes when the journal terminates or the client leaves.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/snehjoshi/courier/internal/journal"
)

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic).  Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the live journal stream.
type Handler struct {
	Journal *journal.Journal
}

// eventFrame is the JSON structure pushed to the client.
type eventFrame struct {
	Type   string `json:"type"` // "event"
	Record string `json:"record"`
}

const writeTimeout = 10 * time.Second

// ServeHTTP upgrades the connection and forwards journal records until the
// feed ends or the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	feed := h.Journal.Subscribe()
	defer feed.Cancel()

	// Read pump: frames from the client are discarded, but the read loop is
	// what notices a closed connection.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case record, ok := <-feed.C:
			if !ok {
				// Journal terminated; tell the client before closing.
				deadline := time.Now().Add(writeTimeout)
				_ = conn.WriteControl(gorillaws.CloseMessage,
					gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, "journal closed"),
					deadline)
				return
			}
			data, err := json.Marshal(eventFrame{Type: "event", Record: record})
			if err != nil {
				slog.Warn("ws encode frame failed", "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
				return
			}
		}
	}
}
