// Package client is the official Go SDK for the Courier messaging backend.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	if err := c.Login(ctx, "Alice"); err != nil { ... }
//
//	id, err := c.Send(ctx, "Alice", "Malory", "hi")
//
//	msgs, err := c.InboundMessages(ctx, "Malory")
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Use errors.As to inspect the HTTP status and server message;
// IsNotFound and IsPresenceConflict cover the common cases.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the Courier server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("courier: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 (unknown username).
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsPresenceConflict reports whether the error is a 418 — the server's status
// for logging in while already online, or logging out while offline.
func IsPresenceConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusTeapot
}

// IsValidation reports whether the error is a 422 (missing or malformed field).
func IsValidation(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnprocessableEntity
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the Courier API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a new Client that connects to the Courier server at baseURL.
//
//	c := client.New("http://localhost:8080")
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Message is a delivered message returned by InboundMessages.
type Message struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// UserStats counts one user's sent messages by lifecycle stage.
type UserStats struct {
	Delivered    int `json:"delivered"`
	Enqueued     int `json:"enqueued"`
	MarkedAsSpam int `json:"marked_as_spam"`
	BeingChecked int `json:"being_spam_checked_count"`
}

// Score is one [username, score] entry of a ranking, highest score first.
type Score struct {
	Username string
	Score    int64
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status  string
	NodeID  string
	Uptime  time.Duration
	Version string
}

// ─── Sessions ─────────────────────────────────────────────────────────────────

// Login marks username as online.
// Returns IsNotFound(err) for unknown users and IsPresenceConflict(err) when
// the user is already logged in.
func (c *Client) Login(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/login", map[string]string{"username": username}, nil)
}

// Logout marks username as offline.
// Returns IsNotFound(err) for unknown users and IsPresenceConflict(err) when
// the user is not logged in.
func (c *Client) Logout(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/logout", map[string]string{"username": username}, nil)
}

// OnlineUsers returns the usernames currently logged in.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var resp struct {
		OnlineUsers []string `json:"online_users"`
	}
	if err := c.do(ctx, http.MethodGet, "/online-users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.OnlineUsers, nil
}

// ─── Messages ─────────────────────────────────────────────────────────────────

// Send submits a message for delivery and returns its assigned id.
// The message passes an asynchronous spam check before reaching the recipient,
// so it will not appear in the recipient's inbound list immediately.
func (c *Client) Send(ctx context.Context, sender, recipient, content string) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	body := map[string]string{"sender": sender, "recipient": recipient, "content": content}
	if err := c.do(ctx, http.MethodPost, "/message", body, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// InboundMessages returns the messages delivered to username, most recent
// first.
func (c *Client) InboundMessages(ctx context.Context, username string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	path := "/inbound-messages?username=" + url.QueryEscape(username)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// UserStats returns the per-stage counts of username's sent messages.
func (c *Client) UserStats(ctx context.Context, username string) (UserStats, error) {
	var resp UserStats
	path := "/user-stats?username=" + url.QueryEscape(username)
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// SpammerStats returns users ranked by spam score, highest first.
func (c *Client) SpammerStats(ctx context.Context) ([]Score, error) {
	var resp struct {
		Spammers [][]json.RawMessage `json:"spammers"`
	}
	if err := c.do(ctx, http.MethodGet, "/spammer-stats", nil, &resp); err != nil {
		return nil, err
	}
	return decodeScores(resp.Spammers)
}

// ChatterStats returns users ranked by delivered-message score, highest first.
func (c *Client) ChatterStats(ctx context.Context) ([]Score, error) {
	var resp struct {
		Chatters [][]json.RawMessage `json:"chatters"`
	}
	if err := c.do(ctx, http.MethodGet, "/chatter-stats", nil, &resp); err != nil {
		return nil, err
	}
	return decodeScores(resp.Chatters)
}

// decodeScores converts wire-format [username, score] pairs.
func decodeScores(pairs [][]json.RawMessage) ([]Score, error) {
	out := make([]Score, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("courier: malformed score entry %d", i)
		}
		var s Score
		if err := json.Unmarshal(p[0], &s.Username); err != nil {
			return nil, fmt.Errorf("courier: decode score entry %d: %w", i, err)
		}
		if err := json.Unmarshal(p[1], &s.Score); err != nil {
			return nil, fmt.Errorf("courier: decode score entry %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ─── Event journal ────────────────────────────────────────────────────────────

// EventJournal returns every journal record in log order.
func (c *Client) EventJournal(ctx context.Context) ([]string, error) {
	// The server keeps the legacy "chatters" key for journal records.
	var resp struct {
		Chatters []string `json:"chatters"`
	}
	if err := c.do(ctx, http.MethodGet, "/event-journal", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chatters, nil
}

// ─── Health ───────────────────────────────────────────────────────────────────

// Health returns the server's health snapshot.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status   string `json:"status"`
		NodeID   string `json:"node_id"`
		UptimeMs int64  `json:"uptime_ms"`
		Version  string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:  resp.Status,
		NodeID:  resp.NodeID,
		Uptime:  time.Duration(resp.UptimeMs) * time.Millisecond,
		Version: resp.Version,
	}, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// Plain-text success responses (login/logout) are accepted when resp is nil.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("courier: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("courier: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("courier: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("courier: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("courier: decode response: %w", err)
		}
	}
	return nil
}
