package engine

import (
	"context"
	"os"
	"strings"
	"testing"

	"udos/internal/config"
	"udos/internal/dispatch"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetConfigDir(t.TempDir())
	cfg.SetStateDir(t.TempDir())
	// Point the local model endpoint at a closed loopback port so HEALTH
	// probes fail fast instead of touching a real service.
	cfg.LocalModel.Endpoint = "http://127.0.0.1:1"

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_DispatchRecordsSession(t *testing.T) {
	e := newTestEngine(t)

	resp := e.Dispatch(context.Background(), &dispatch.Request{Input: "VERIFY", Caller: dispatch.CallerInteractive})
	if resp.Status != dispatch.StatusSuccess {
		t.Fatalf("VERIFY failed: %s %s", resp.Status, resp.Message)
	}
	if resp.DispatchTo != dispatch.RouteUcode {
		t.Errorf("expected ucode route, got %s", resp.DispatchTo)
	}

	stats := e.Stats()
	if stats.Total != 1 {
		t.Errorf("expected 1 session entry, got %d", stats.Total)
	}
	if stats.PerCommand["VERIFY"] != 1 {
		t.Errorf("per-command counter missing: %+v", stats.PerCommand)
	}
	if stats.PerRoute["ucode"] != 1 {
		t.Errorf("per-route counter missing: %+v", stats.PerRoute)
	}
}

func TestEngine_VerifyReportsDrift(t *testing.T) {
	e := newTestEngine(t)

	// Fresh install: env key and token are absent.
	resp := e.Dispatch(context.Background(), &dispatch.Request{Input: "VERIFY"})
	if resp.Status != dispatch.StatusSuccess {
		t.Fatalf("VERIFY failed: %s", resp.Message)
	}
	if !strings.Contains(resp.Payload.Output, "drift detected") {
		t.Errorf("expected drift in output, got %q", resp.Payload.Output)
	}
}

func TestEngine_RepairThenVerifyClean(t *testing.T) {
	e := newTestEngine(t)

	resp := e.Dispatch(context.Background(), &dispatch.Request{Input: "REPAIR"})
	if resp.Status != dispatch.StatusSuccess {
		t.Fatalf("REPAIR failed: %s %s", resp.Status, resp.Message)
	}
	if !strings.Contains(resp.Payload.Output, "repaired:") {
		t.Errorf("expected repair actions in output, got %q", resp.Payload.Output)
	}

	resp = e.Dispatch(context.Background(), &dispatch.Request{Input: "VERIFY"})
	if !strings.Contains(resp.Payload.Output, "healthy") {
		t.Errorf("expected healthy contract after repair, got %q", resp.Payload.Output)
	}
}

func TestEngine_HealthReportsServiceDown(t *testing.T) {
	e := newTestEngine(t)

	resp := e.Dispatch(context.Background(), &dispatch.Request{Input: "HEALTH"})
	if resp.Status != dispatch.StatusSuccess {
		t.Fatalf("HEALTH failed: %s", resp.Message)
	}
	if !strings.Contains(resp.Payload.Output, "service_down") {
		t.Errorf("expected service_down issue, got %q", resp.Payload.Output)
	}
}

func TestEngine_VibeWithoutAuthSurfacesMissingAuth(t *testing.T) {
	e := newTestEngine(t)
	for _, v := range []string{
		"MISTRAL_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY",
		"ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(v, "")
	}

	resp := e.Dispatch(context.Background(), &dispatch.Request{Input: "summarize what happened; thanks"})
	if resp.DispatchTo != dispatch.RouteVibe || resp.Status != dispatch.StatusError {
		t.Fatalf("expected vibe error, got %s/%s", resp.DispatchTo, resp.Status)
	}
	if resp.Code != dispatch.CodeProviderMissingAuth {
		t.Errorf("expected provider_missing_auth, got %s", resp.Code)
	}
}

func TestEngine_RawInputOptIn(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SetConfigDir(t.TempDir())
	cfg.SetStateDir(t.TempDir())
	cfg.LocalModel.Endpoint = "http://127.0.0.1:1"
	cfg.Shell.LogRawInput = true

	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.Dispatch(context.Background(), &dispatch.Request{Input: "VERIFY"})
	stats := e.Stats()
	if stats.Total != 1 {
		t.Fatalf("expected 1 entry, got %d", stats.Total)
	}
}

func TestEngine_PerRequestRawInputOptIn(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SetConfigDir(t.TempDir())
	cfg.SetStateDir(t.TempDir())
	cfg.LocalModel.Endpoint = "http://127.0.0.1:1"

	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.Dispatch(context.Background(), &dispatch.Request{Input: "HELP"})
	e.Dispatch(context.Background(), &dispatch.Request{Input: "VERIFY", LogRawInput: true})

	data, err := os.ReadFile(cfg.SessionLogPath())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 session entries, got %d", len(lines))
	}
	if strings.Contains(lines[0], "raw_input") {
		t.Errorf("entry without opt-in must not carry raw input: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"raw_input":"VERIFY"`) {
		t.Errorf("opted-in entry must carry raw input: %s", lines[1])
	}
}

func TestEngine_LogsCommand(t *testing.T) {
	e := newTestEngine(t)

	e.Dispatch(context.Background(), &dispatch.Request{Input: "VERIFY"})
	resp := e.Dispatch(context.Background(), &dispatch.Request{Input: "LOGS"})
	if resp.Status != dispatch.StatusSuccess {
		t.Fatalf("LOGS failed: %s", resp.Message)
	}
	if !strings.Contains(resp.Payload.Output, "per_route") {
		t.Errorf("expected counters in output, got %q", resp.Payload.Output)
	}
}
