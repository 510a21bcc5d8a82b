package vibe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func openAIOK(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": text}},
			},
		})
	}
}

func statusOnly(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", code)
	}
}

func TestAsk_FirstProviderSucceeds(t *testing.T) {
	srv := httptest.NewServer(openAIOK("hello from mistral"))
	defer srv.Close()

	c := NewClient([]string{"mistral"},
		WithEndpoint("mistral", srv.URL),
		WithGetenv(fakeEnv(map[string]string{"MISTRAL_API_KEY": "k"})),
	)
	result, err := c.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if result.Text != "hello from mistral" || result.ProviderUsed != "mistral" {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Attempts) != 1 || !result.Attempts[0].OK {
		t.Errorf("unexpected attempts: %+v", result.Attempts)
	}
}

func TestAsk_RateLimitFailsOver(t *testing.T) {
	limited := httptest.NewServer(statusOnly(http.StatusTooManyRequests))
	defer limited.Close()
	ok := httptest.NewServer(openAIOK("answer"))
	defer ok.Close()

	c := NewClient([]string{"mistral", "openrouter"},
		WithEndpoint("mistral", limited.URL),
		WithEndpoint("openrouter", ok.URL),
		WithGetenv(fakeEnv(map[string]string{
			"MISTRAL_API_KEY":    "k1",
			"OPENROUTER_API_KEY": "k2",
		})),
	)
	result, err := c.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if result.ProviderUsed != "openrouter" {
		t.Errorf("expected openrouter, got %s", result.ProviderUsed)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %+v", result.Attempts)
	}
	if result.Attempts[0].Provider != "mistral" || result.Attempts[0].FailoverReason != "rate_limit" {
		t.Errorf("first attempt: %+v", result.Attempts[0])
	}
	if result.Attempts[1].Provider != "openrouter" || !result.Attempts[1].OK {
		t.Errorf("second attempt: %+v", result.Attempts[1])
	}
}

func TestAsk_NoAuthAnywhere(t *testing.T) {
	c := NewClient([]string{"mistral", "openai"}, WithGetenv(fakeEnv(nil)))
	_, err := c.Ask(context.Background(), "hi")

	var ce *ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ChainError, got %v", err)
	}
	if ce.Reason != ReasonMissingAuth {
		t.Errorf("expected missing_auth, got %s", ce.Reason)
	}
	if len(ce.Attempts) != 2 {
		t.Errorf("expected 2 skip attempts, got %+v", ce.Attempts)
	}
	for _, a := range ce.Attempts {
		if a.FailoverReason != "missing_auth" {
			t.Errorf("attempt %+v: expected missing_auth", a)
		}
	}
}

func TestAsk_MostSevereReasonWins(t *testing.T) {
	down := httptest.NewServer(statusOnly(http.StatusInternalServerError))
	defer down.Close()
	denied := httptest.NewServer(statusOnly(http.StatusUnauthorized))
	defer denied.Close()

	// unreachable then auth_error: auth_error outranks.
	c := NewClient([]string{"mistral", "openrouter"},
		WithEndpoint("mistral", down.URL),
		WithEndpoint("openrouter", denied.URL),
		WithGetenv(fakeEnv(map[string]string{
			"MISTRAL_API_KEY":    "k1",
			"OPENROUTER_API_KEY": "k2",
		})),
	)
	_, err := c.Ask(context.Background(), "hi")
	var ce *ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ChainError, got %v", err)
	}
	if ce.Reason != ReasonAuthError {
		t.Errorf("expected auth_error to win, got %s", ce.Reason)
	}
}

func TestAsk_InvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := NewClient([]string{"mistral"},
		WithEndpoint("mistral", srv.URL),
		WithGetenv(fakeEnv(map[string]string{"MISTRAL_API_KEY": "k"})),
	)
	_, err := c.Ask(context.Background(), "hi")
	var ce *ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ChainError, got %v", err)
	}
	if ce.Reason != ReasonInvalidResponse {
		t.Errorf("expected invalid_response, got %s", ce.Reason)
	}
}

func TestAsk_CancellationStopsChain(t *testing.T) {
	var calls atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	c := NewClient([]string{"mistral", "openrouter"},
		WithEndpoint("mistral", slow.URL),
		WithEndpoint("openrouter", slow.URL),
		WithGetenv(fakeEnv(map[string]string{
			"MISTRAL_API_KEY":    "k1",
			"OPENROUTER_API_KEY": "k2",
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Ask(ctx, "hi")
	var ce *ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ChainError, got %v", err)
	}
	if ce.Reason != ReasonCancelled {
		t.Errorf("expected cancelled, got %s", ce.Reason)
	}
	// The chain must stop at the aborted attempt, not walk on.
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 provider call, got %d", got)
	}
}

func TestAsk_AttemptTimeoutIsUnreachable(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()
	ok := httptest.NewServer(openAIOK("late but fine"))
	defer ok.Close()

	c := NewClient([]string{"mistral", "openrouter"},
		WithEndpoint("mistral", slow.URL),
		WithEndpoint("openrouter", ok.URL),
		WithAttemptTimeout(50*time.Millisecond),
		WithGetenv(fakeEnv(map[string]string{
			"MISTRAL_API_KEY":    "k1",
			"OPENROUTER_API_KEY": "k2",
		})),
	)
	result, err := c.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if result.ProviderUsed != "openrouter" {
		t.Errorf("expected failover to openrouter, got %s", result.ProviderUsed)
	}
	if result.Attempts[0].FailoverReason != "unreachable" {
		t.Errorf("timed-out attempt must classify unreachable, got %s", result.Attempts[0].FailoverReason)
	}
}

func TestAsk_AnthropicShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "claude says hi"}},
		})
	}))
	defer srv.Close()

	c := NewClient([]string{"anthropic"},
		WithEndpoint("anthropic", srv.URL),
		WithGetenv(fakeEnv(map[string]string{"ANTHROPIC_API_KEY": "sk-ant"})),
	)
	result, err := c.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if result.Text != "claude says hi" {
		t.Errorf("unexpected text: %q", result.Text)
	}
}

func TestAsk_GeminiShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hi" {
			t.Errorf("unexpected contents: %+v", req.Contents)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "gemini says hi"}},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient([]string{"gemini"},
		WithEndpoint("gemini", srv.URL),
		WithGetenv(fakeEnv(map[string]string{"GEMINI_API_KEY": "g"})),
	)
	result, err := c.Ask(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if result.Text != "gemini says hi" {
		t.Errorf("unexpected text: %q", result.Text)
	}
}
