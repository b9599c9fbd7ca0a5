// Package spam holds the spam-check policy seam.
//
// The pipeline never hard-codes a detection strategy: the worker receives a
// Policy at construction time, so real detection logic can be substituted
// without touching the message lifecycle.
package spam

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Policy decides whether a message's content is spam.
//
// A policy may take time (a real checker would call out somewhere); it must
// respect ctx and return promptly once ctx is done.
type Policy interface {
	IsSpam(ctx context.Context, content string) bool
}

// ─── Random ──────────────────────────────────────────────────────────────────

// Random is the placeholder policy: it flags content with a fixed probability
// after a simulated checking delay. It carries no signal about the content —
// it exists so the pipeline's spam path can be exercised end to end.
type Random struct {
	probability float64
	delay       time.Duration
}

// NewRandom returns a Random policy. probability is clamped to [0, 1].
func NewRandom(probability float64, delay time.Duration) *Random {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	return &Random{probability: probability, delay: delay}
}

func (p *Random) IsSpam(ctx context.Context, content string) bool {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.delay):
		}
	}
	return rand.Float64() < p.probability
}

// ─── Keywords ────────────────────────────────────────────────────────────────

// Keywords flags content containing any of the configured keywords,
// case-insensitively.
type Keywords struct {
	keywords []string
}

// NewKeywords returns a Keywords policy. Empty keywords are dropped.
func NewKeywords(keywords []string) *Keywords {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			out = append(out, k)
		}
	}
	return &Keywords{keywords: out}
}

func (p *Keywords) IsSpam(_ context.Context, content string) bool {
	lowered := strings.ToLower(content)
	for _, k := range p.keywords {
		if strings.Contains(lowered, k) {
			return true
		}
	}
	return false
}

// ─── Selection ───────────────────────────────────────────────────────────────

// FromConfig builds the policy named by name ("random" or "keywords").
func FromConfig(name string, probability float64, delay time.Duration, keywords []string) (Policy, error) {
	switch name {
	case "random":
		return NewRandom(probability, delay), nil
	case "keywords":
		return NewKeywords(keywords), nil
	default:
		return nil, fmt.Errorf("spam: unknown policy %q", name)
	}
}
