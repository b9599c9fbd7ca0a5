package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/snehjoshi/courier/internal/journal"
	"github.com/snehjoshi/courier/internal/message"
	"github.com/snehjoshi/courier/internal/metrics"
	"github.com/snehjoshi/courier/internal/node"
	"github.com/snehjoshi/courier/internal/session"
	"github.com/snehjoshi/courier/internal/store"
)

// Handler groups all HTTP request handlers.
type Handler struct {
	msgs *message.Store
	sess *session.Manager
	jrnl *journal.Journal
	node *node.Node
	reg  *metrics.Registry // nil when metrics are disabled
}

// countSession records a session-counter sample when metrics are enabled.
func (h *Handler) countSession(action string, err error) {
	if h.reg == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.reg.Sessions.Inc(metrics.SessionKey(action, outcome))
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type sessionReq struct {
	Username string `json:"username"`
}

type createMessageReq struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type createMessageResp struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type inboundResp struct {
	Messages []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// Score responses carry [username, score] pairs, descending by score.
type spammerStatsResp struct {
	Spammers [][]any `json:"spammers"`
}

type chatterStatsResp struct {
	Chatters [][]any `json:"chatters"`
}

type onlineUsersResp struct {
	OnlineUsers []string `json:"online_users"`
}

// eventJournalResp keeps the legacy "chatters" key of the original API; it
// holds event texts, not usernames.
type eventJournalResp struct {
	Chatters []string `json:"chatters"`
}

type healthResp struct {
	Status   string `json:"status"`
	NodeID   string `json:"node_id"`
	Uptime   string `json:"uptime"`
	UptimeMs int64  `json:"uptime_ms"`
	Version  string `json:"version"`
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("username is required"))
		return
	}
	err := h.sess.Login(req.Username)
	h.countSession("login", err)
	if err != nil {
		writeError(w, sessionStatus(err), err)
		return
	}
	writeText(w, http.StatusOK, "Logged in.")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req sessionReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("username is required"))
		return
	}
	err := h.sess.Logout(req.Username)
	h.countSession("logout", err)
	if err != nil {
		writeError(w, sessionStatus(err), err)
		return
	}
	writeText(w, http.StatusOK, "Logged out.")
}

func (h *Handler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.sess.Online()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, onlineUsersResp{OnlineUsers: users})
}

// sessionStatus maps session errors onto the API's status codes: 404 for an
// unknown user, 418 for a presence conflict (the original API's choice,
// preserved for client compatibility).
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrUsernameNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyLoggedIn), errors.Is(err, session.ErrNotLoggedIn):
		return http.StatusTeapot
	default:
		return http.StatusInternalServerError
	}
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageReq
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.msgs.Create(req.Sender, req.Recipient, req.Content)
	if err != nil {
		if errors.Is(err, message.ErrValidation) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.reg != nil {
		h.reg.Created.Inc(req.Sender)
	}
	writeJSON(w, http.StatusOK, createMessageResp{
		ID:        id,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Content:   req.Content,
	})
}

func (h *Handler) inboundMessages(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	msgs, err := h.msgs.Inbound(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]inboundMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, inboundMessage{
			ID:        m.ID,
			Sender:    m.Sender,
			Recipient: m.Recipient,
			Content:   m.Content,
		})
	}
	writeJSON(w, http.StatusOK, inboundResp{Messages: out})
}

func (h *Handler) userStats(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	stats, err := h.msgs.UserStats(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) spammerStats(w http.ResponseWriter, r *http.Request) {
	scores, err := h.msgs.Spammers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, spammerStatsResp{Spammers: scorePairs(scores)})
}

func (h *Handler) chatterStats(w http.ResponseWriter, r *http.Request) {
	scores, err := h.msgs.Chatters()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chatterStatsResp{Chatters: scorePairs(scores)})
}

// scorePairs renders scored members as [username, score] pairs, never nil.
func scorePairs(scores []store.ScoredMember) [][]any {
	pairs := make([][]any, 0, len(scores))
	for _, s := range scores {
		pairs = append(pairs, []any{s.Member, s.Score})
	}
	return pairs
}

// ─── Event journal ────────────────────────────────────────────────────────────

func (h *Handler) eventJournal(w http.ResponseWriter, r *http.Request) {
	events, err := h.jrnl.Events()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []string{}
	}
	writeJSON(w, http.StatusOK, eventJournalResp{Chatters: events})
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:   "ok",
		NodeID:   h.node.ID().String(),
		Uptime:   elapsed.Round(time.Second).String(),
		UptimeMs: elapsed.Milliseconds(),
		Version:  "1.0.0",
	})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(text))
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
