package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snehjoshi/courier/internal/config"
	"github.com/snehjoshi/courier/internal/journal"
	"github.com/snehjoshi/courier/internal/message"
	"github.com/snehjoshi/courier/internal/node"
	"github.com/snehjoshi/courier/internal/session"
	"github.com/snehjoshi/courier/internal/spam"
	"github.com/snehjoshi/courier/internal/store/local"
	transphttp "github.com/snehjoshi/courier/internal/transport/http"
	"github.com/snehjoshi/courier/internal/worker"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// newTestServer wires the whole pipeline behind the HTTP handler. The worker
// pool runs with the given spam policy so end-to-end flows can be exercised.
func newTestServer(t *testing.T, policy spam.Policy) http.Handler {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Node.DataDir = dir

	st, err := local.Open(dir)
	if err != nil {
		t.Fatalf("local.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jrnl, err := journal.Open(st, dir)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = jrnl.Close() })

	sess := session.New(st, jrnl)
	if err := sess.Seed(cfg.Seed.RegularUsers, cfg.Seed.AdminUsers); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	disp := message.NewDispatcher(st)
	msgs := message.New(st, disp)

	if policy != nil {
		pool := worker.NewPool(msgs, disp, jrnl, policy, 1)
		pool.Start(context.Background())
		t.Cleanup(func() {
			disp.Stop()
			pool.Wait()
		})
	}

	n, err := node.New(dir, "auto")
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}

	srv := transphttp.New(msgs, sess, jrnl, n, cfg, nil)
	return srv.Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &reqBody)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v, body: %s", err, rr.Body.String())
	}
}

// waitForStats polls /user-stats until the predicate holds.
func waitForStats(t *testing.T, h http.Handler, username string, pred func(map[string]int) bool) map[string]int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var stats map[string]int
	for time.Now().Before(deadline) {
		rr := doRequest(t, h, "GET", "/user-stats?username="+username, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("user-stats: want 200, got %d — body: %s", rr.Code, rr.Body)
		}
		stats = nil
		decodeResp(t, rr, &stats)
		if pred(stats) {
			return stats
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stats predicate never satisfied, last: %v", stats)
	return nil
}

// ─── Health ───────────────────────────────────────────────────────────────────

func TestHTTP_Health(t *testing.T) {
	h := newTestServer(t, nil)
	rr := doRequest(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: want 200, got %d — body: %s", rr.Code, rr.Body)
	}
	var resp map[string]any
	decodeResp(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("health status: want ok, got %v", resp["status"])
	}
	if resp["node_id"] == "" {
		t.Error("health: empty node_id")
	}
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

func TestHTTP_LoginLogout(t *testing.T) {
	h := newTestServer(t, nil)

	rr := doRequest(t, h, "POST", "/login", map[string]string{"username": "Alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: want 200, got %d — body: %s", rr.Code, rr.Body)
	}
	if rr.Body.String() != "Logged in." {
		t.Errorf("login body: want %q, got %q", "Logged in.", rr.Body.String())
	}

	rr = doRequest(t, h, "GET", "/online-users", nil)
	var online struct {
		OnlineUsers []string `json:"online_users"`
	}
	decodeResp(t, rr, &online)
	if len(online.OnlineUsers) != 1 || online.OnlineUsers[0] != "Alice" {
		t.Errorf("online-users: want [Alice], got %v", online.OnlineUsers)
	}

	rr = doRequest(t, h, "POST", "/logout", map[string]string{"username": "Alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: want 200, got %d — body: %s", rr.Code, rr.Body)
	}
	if rr.Body.String() != "Logged out." {
		t.Errorf("logout body: want %q, got %q", "Logged out.", rr.Body.String())
	}
}

func TestHTTP_LoginErrors(t *testing.T) {
	h := newTestServer(t, nil)

	// 422: missing username
	rr := doRequest(t, h, "POST", "/login", map[string]string{})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("login without username: want 422, got %d", rr.Code)
	}

	// 404: unknown user
	rr = doRequest(t, h, "POST", "/login", map[string]string{"username": "Nobody"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("login unknown user: want 404, got %d", rr.Code)
	}

	// 418: already online
	doRequest(t, h, "POST", "/login", map[string]string{"username": "Alice"})
	rr = doRequest(t, h, "POST", "/login", map[string]string{"username": "Alice"})
	if rr.Code != http.StatusTeapot {
		t.Errorf("double login: want 418, got %d", rr.Code)
	}
}

func TestHTTP_LogoutErrors(t *testing.T) {
	h := newTestServer(t, nil)

	rr := doRequest(t, h, "POST", "/logout", map[string]string{})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("logout without username: want 422, got %d", rr.Code)
	}

	rr = doRequest(t, h, "POST", "/logout", map[string]string{"username": "Nobody"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("logout unknown user: want 404, got %d", rr.Code)
	}

	// 418: not online
	rr = doRequest(t, h, "POST", "/logout", map[string]string{"username": "Alice"})
	if rr.Code != http.StatusTeapot {
		t.Errorf("logout while offline: want 418, got %d", rr.Code)
	}
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func TestHTTP_CreateMessage(t *testing.T) {
	h := newTestServer(t, nil)

	rr := doRequest(t, h, "POST", "/message", map[string]string{
		"sender": "Alice", "recipient": "Malory", "content": "hi",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("message: want 200, got %d — body: %s", rr.Code, rr.Body)
	}
	var resp struct {
		ID        int64  `json:"id"`
		Sender    string `json:"sender"`
		Recipient string `json:"recipient"`
		Content   string `json:"content"`
	}
	decodeResp(t, rr, &resp)
	if resp.ID != 1 || resp.Sender != "Alice" || resp.Recipient != "Malory" || resp.Content != "hi" {
		t.Errorf("message response: %+v", resp)
	}
}

func TestHTTP_CreateMessageValidation(t *testing.T) {
	h := newTestServer(t, nil)

	cases := []map[string]string{
		{"recipient": "Malory", "content": "hi"},
		{"sender": "Alice", "content": "hi"},
		{"sender": "Alice", "recipient": "Malory"},
	}
	for _, body := range cases {
		rr := doRequest(t, h, "POST", "/message", body)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("message %v: want 422, got %d", body, rr.Code)
		}
	}
}

// End-to-end with a never-spam policy: message is delivered, shows up in the
// recipient's inbound list and the sender's stats and chatter score.
func TestHTTP_MessageDeliveredEndToEnd(t *testing.T) {
	h := newTestServer(t, spam.NewRandom(0, 0))

	rr := doRequest(t, h, "POST", "/message", map[string]string{
		"sender": "Alice", "recipient": "Malory", "content": "hi",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("message: want 200, got %d — body: %s", rr.Code, rr.Body)
	}

	stats := waitForStats(t, h, "Alice", func(s map[string]int) bool { return s["delivered"] == 1 })
	if stats["enqueued"] != 0 || stats["marked_as_spam"] != 0 || stats["being_spam_checked_count"] != 0 {
		t.Errorf("stats after delivery: %v", stats)
	}

	rr = doRequest(t, h, "GET", "/inbound-messages?username=Malory", nil)
	var inbound struct {
		Messages []struct {
			ID      int64  `json:"id"`
			Sender  string `json:"sender"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	decodeResp(t, rr, &inbound)
	if len(inbound.Messages) != 1 || inbound.Messages[0].Sender != "Alice" || inbound.Messages[0].Content != "hi" {
		t.Errorf("inbound-messages: %+v", inbound.Messages)
	}

	rr = doRequest(t, h, "GET", "/chatter-stats", nil)
	var chatters struct {
		Chatters [][]any `json:"chatters"`
	}
	decodeResp(t, rr, &chatters)
	if len(chatters.Chatters) != 1 || chatters.Chatters[0][0] != "Alice" {
		t.Errorf("chatter-stats: %v", chatters.Chatters)
	}
}

// End-to-end with an always-spam policy: message is blocked, scored, and
// journaled; the recipient never sees it.
func TestHTTP_MessageBlockedEndToEnd(t *testing.T) {
	h := newTestServer(t, spam.NewRandom(1, 0))

	rr := doRequest(t, h, "POST", "/message", map[string]string{
		"sender": "Malory", "recipient": "Alice", "content": "buy now",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("message: want 200, got %d — body: %s", rr.Code, rr.Body)
	}

	waitForStats(t, h, "Malory", func(s map[string]int) bool { return s["marked_as_spam"] == 1 })

	rr = doRequest(t, h, "GET", "/inbound-messages?username=Alice", nil)
	var inbound struct {
		Messages []any `json:"messages"`
	}
	decodeResp(t, rr, &inbound)
	if len(inbound.Messages) != 0 {
		t.Errorf("inbound after spam: want empty, got %v", inbound.Messages)
	}

	rr = doRequest(t, h, "GET", "/spammer-stats", nil)
	var spammers struct {
		Spammers [][]any `json:"spammers"`
	}
	decodeResp(t, rr, &spammers)
	if len(spammers.Spammers) != 1 || spammers.Spammers[0][0] != "Malory" {
		t.Errorf("spammer-stats: %v", spammers.Spammers)
	}

	rr = doRequest(t, h, "GET", "/event-journal", nil)
	var events struct {
		Chatters []string `json:"chatters"`
	}
	decodeResp(t, rr, &events)
	if len(events.Chatters) != 1 {
		t.Errorf("event-journal: want 1 record, got %v", events.Chatters)
	}
}

// Repeating the same GET with no intervening writes returns identical output.
func TestHTTP_StatsAreIdempotent(t *testing.T) {
	h := newTestServer(t, spam.NewRandom(1, 0))

	for _, sender := range []string{"Alice", "Malory", "Alice"} {
		doRequest(t, h, "POST", "/message", map[string]string{
			"sender": sender, "recipient": "Ilya", "content": "junk",
		})
	}
	waitForStats(t, h, "Alice", func(s map[string]int) bool { return s["marked_as_spam"] == 2 })
	waitForStats(t, h, "Malory", func(s map[string]int) bool { return s["marked_as_spam"] == 1 })

	first := doRequest(t, h, "GET", "/spammer-stats", nil)
	second := doRequest(t, h, "GET", "/spammer-stats", nil)
	if first.Body.String() != second.Body.String() {
		t.Errorf("spammer-stats not idempotent:\n%s\n%s", first.Body, second.Body)
	}

	var spammers struct {
		Spammers [][]any `json:"spammers"`
	}
	decodeResp(t, first, &spammers)
	if len(spammers.Spammers) != 2 || spammers.Spammers[0][0] != "Alice" {
		t.Errorf("spammer-stats order: %v", spammers.Spammers)
	}
}

// ─── Event journal ────────────────────────────────────────────────────────────

func TestHTTP_EventJournalRecordsSessions(t *testing.T) {
	h := newTestServer(t, nil)

	doRequest(t, h, "POST", "/login", map[string]string{"username": "Alice"})
	doRequest(t, h, "POST", "/logout", map[string]string{"username": "Alice"})

	rr := doRequest(t, h, "GET", "/event-journal", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("event-journal: want 200, got %d", rr.Code)
	}
	var events struct {
		Chatters []string `json:"chatters"`
	}
	decodeResp(t, rr, &events)
	want := []string{"Alice has logged in.", "Alice has logged out."}
	if len(events.Chatters) != len(want) {
		t.Fatalf("event-journal: want %v, got %v", want, events.Chatters)
	}
	for i := range want {
		if events.Chatters[i] != want[i] {
			t.Errorf("event-journal[%d]: want %q, got %q", i, want[i], events.Chatters[i])
		}
	}
}
