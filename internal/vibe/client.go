package vibe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"udos/internal/logging"
)

const (
	// defaultAttemptTimeout bounds one provider call. The caller context
	// can always cut it shorter.
	defaultAttemptTimeout = 30 * time.Second

	defaultMaxTokens = 1024
)

// Attempt records one provider call, successful or not.
type Attempt struct {
	Provider       string `json:"provider"`
	OK             bool   `json:"ok"`
	FailoverReason string `json:"failover_reason,omitempty"`
	ElapsedMS      int64  `json:"elapsed_ms"`
}

// Result is a successful chain outcome.
type Result struct {
	Text         string
	ProviderUsed string
	Attempts     []Attempt
}

// ChainError is returned when every provider in the chain failed. Reason
// is the most severe classification observed; Attempts records the full
// walk for diagnostics.
type ChainError struct {
	Reason   FailoverReason
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("provider chain exhausted after %d attempts: %s", len(e.Attempts), e.Reason)
}

// Client walks the provider chain for stage-3 prompts. Read-only after
// construction; safe for concurrent use.
type Client struct {
	chain          []string
	endpoints      map[string]string
	attemptTimeout time.Duration
	maxTokens      int
	httpClient     *http.Client
	getenv         func(string) string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides one provider's endpoint, for proxy deployments.
func WithEndpoint(providerID, url string) Option {
	return func(c *Client) { c.endpoints[providerID] = url }
}

// WithAttemptTimeout sets the per-provider request timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithMaxTokens sets the completion token limit sent to providers.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithGetenv replaces the auth lookup, for tests.
func WithGetenv(fn func(string) string) Option {
	return func(c *Client) { c.getenv = fn }
}

// NewClient builds a chain client. The chain is resolved once; reloads
// construct a fresh client.
func NewClient(chain []string, opts ...Option) *Client {
	c := &Client{
		chain:          chain,
		endpoints:      make(map[string]string),
		attemptTimeout: defaultAttemptTimeout,
		maxTokens:      defaultMaxTokens,
		httpClient:     &http.Client{},
		getenv:         os.Getenv,
	}
	if len(c.chain) == 0 {
		c.chain = DefaultChain()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chain returns the resolved attempt order.
func (c *Client) Chain() []string {
	out := make([]string, len(c.chain))
	copy(out, c.chain)
	return out
}

// Ask walks the chain in order and returns the first completion. Each
// attempt has its own timeout; cancelling ctx aborts the in-flight call
// and stops the chain. On exhaustion the error is a *ChainError carrying
// the most severe reason observed.
func (c *Client) Ask(ctx context.Context, prompt string) (*Result, error) {
	var attempts []Attempt
	worst := ReasonMissingAuth

	for _, id := range c.chain {
		if err := ctx.Err(); err != nil {
			logging.ProviderWarn("chain stopped: caller cancelled after %d attempts", len(attempts))
			return nil, &ChainError{Reason: ReasonCancelled, Attempts: attempts}
		}

		d, ok := Lookup(id)
		if !ok {
			// Unknown ids are filtered at chain resolution; backstop only.
			continue
		}

		apiKey := c.getenv(d.AuthEnvVar)
		if apiKey == "" {
			logging.ProviderDebug("provider=%s skipped: %s not set", d.ID, d.AuthEnvVar)
			attempts = append(attempts, Attempt{Provider: d.ID, FailoverReason: string(ReasonMissingAuth)})
			continue
		}

		start := time.Now()
		text, reason, err := c.call(ctx, d, apiKey, prompt)
		elapsed := time.Since(start).Milliseconds()

		if err == nil {
			attempts = append(attempts, Attempt{Provider: d.ID, OK: true, ElapsedMS: elapsed})
			logging.Provider("provider=%s ok elapsed_ms=%d", d.ID, elapsed)
			return &Result{Text: text, ProviderUsed: d.ID, Attempts: attempts}, nil
		}

		attempts = append(attempts, Attempt{Provider: d.ID, FailoverReason: string(reason), ElapsedMS: elapsed})
		logging.ProviderWarn("provider=%s failed reason=%s elapsed_ms=%d: %v", d.ID, reason, elapsed, err)

		if reason == ReasonCancelled {
			return nil, &ChainError{Reason: ReasonCancelled, Attempts: attempts}
		}
		if MoreSevere(reason, worst) {
			worst = reason
		}
	}

	logging.ProviderError("chain exhausted: %d attempts, worst=%s", len(attempts), worst)
	return nil, &ChainError{Reason: worst, Attempts: attempts}
}

// call runs one shaped request against one provider.
func (c *Client) call(ctx context.Context, d Descriptor, apiKey, prompt string) (string, FailoverReason, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	body, headers, err := shapeRequest(d, d.DefaultModel, prompt, apiKey, c.maxTokens)
	if err != nil {
		return "", ReasonInvalidResponse, err
	}

	endpoint := d.Endpoint
	if override, ok := c.endpoints[d.ID]; ok {
		endpoint = override
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", ReasonUnreachable, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ClassifyTransportErr(ctx), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", ClassifyTransportErr(ctx), fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := ClassifyStatus(resp.StatusCode)
		return "", reason, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	text, err := extractText(d.APIStyle, respBody)
	if err != nil {
		return "", ReasonInvalidResponse, err
	}
	if text == "" {
		return "", ReasonInvalidResponse, fmt.Errorf("empty completion")
	}
	return text, "", nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
