package selfheal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func modelServer(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "0.5.0"})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		type model struct {
			Name string `json:"name"`
		}
		list := make([]model, len(models))
		for i, name := range models {
			list[i] = model{Name: name}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"models": list})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheck_AllModelsPresent(t *testing.T) {
	srv := modelServer(t, "llama3.2:3b", "nomic-embed-text")
	p := NewProber(srv.URL, "llama3.2:3b", "tier2")

	report, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("expected clean report, got %+v", report.Issues)
	}
}

func TestCheck_DefaultModelMissing(t *testing.T) {
	srv := modelServer(t, "nomic-embed-text")
	p := NewProber(srv.URL, "llama3.2:3b", "")

	report, err := p.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.Kind != IssueModelMissing || !issue.Repairable {
		t.Errorf("unexpected issue: %+v", issue)
	}
	if issue.Action != "pull_llama3.2:3b" {
		t.Errorf("expected pull action, got %s", issue.Action)
	}
	if len(report.Repairable) != 1 {
		t.Errorf("repairable list must mirror repairable issues: %+v", report.Repairable)
	}
}

func TestCheck_TierModelsMissing(t *testing.T) {
	srv := modelServer(t, "llama3.2:3b")
	p := NewProber(srv.URL, "llama3.2:3b", "tier3")

	report, err := p.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wantActions := map[string]bool{
		"pull_nomic-embed-text": true,
		"pull_qwen2.5-coder:7b": true,
	}
	if len(report.Issues) != len(wantActions) {
		t.Fatalf("expected %d issues, got %+v", len(wantActions), report.Issues)
	}
	for _, issue := range report.Issues {
		if issue.Kind != IssueTierModelMissing {
			t.Errorf("unexpected kind: %+v", issue)
		}
		if !wantActions[issue.Action] {
			t.Errorf("unexpected action: %s", issue.Action)
		}
	}
}

func TestCheck_ServiceDown(t *testing.T) {
	// Reserve a loopback port with nothing listening on it.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewProber(url, "llama3.2:3b", "tier2")
	report, err := p.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issues) == 0 || report.Issues[0].Kind != IssueServiceDown {
		t.Errorf("expected service_down, got %+v", report.Issues)
	}
	if len(report.Repairable) != 0 {
		t.Errorf("service_down is not repairable: %+v", report.Repairable)
	}
}

func TestCheck_NonLoopbackEndpointBlocked(t *testing.T) {
	p := NewProber("http://10.0.0.5:11434", "llama3.2:3b", "tier2")
	report, err := p.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Issues) != 1 || report.Issues[0].Kind != IssueEndpointBlocked {
		t.Errorf("expected endpoint_blocked, got %+v", report.Issues)
	}
}

func TestTierModels(t *testing.T) {
	if len(TierModels("tier2")) != 2 {
		t.Errorf("tier2 list: %v", TierModels("tier2"))
	}
	if len(TierModels("tier3")) != 3 {
		t.Errorf("tier3 list: %v", TierModels("tier3"))
	}
	if len(TierModels("bogus")) != 0 {
		t.Errorf("unknown tier must require nothing")
	}
}
