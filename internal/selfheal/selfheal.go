// Package selfheal probes the local model service and reports issues,
// marking the ones a follow-up action can fix.
package selfheal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"udos/internal/loopback"
	"udos/internal/logging"
)

// Issue is one problem found by a probe run.
type Issue struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	Repairable bool   `json:"repairable"`
	// Action names the fix for repairable issues, e.g. pull_llama3.2:3b.
	Action string `json:"action,omitempty"`
}

// Issue kinds.
const (
	IssueEndpointBlocked  = "endpoint_blocked"
	IssueServiceDown      = "service_down"
	IssueModelMissing     = "model_missing"
	IssueTierModelMissing = "tier_model_missing"
)

// Report is the outcome of one Check.
type Report struct {
	Issues     []Issue `json:"issues"`
	Repairable []Issue `json:"repairable"`
}

// OK reports a clean probe.
func (r *Report) OK() bool { return len(r.Issues) == 0 }

func (r *Report) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	if issue.Repairable {
		r.Repairable = append(r.Repairable, issue)
	}
}

// tierModels lists the models each tier requires on the local service.
var tierModels = map[string][]string{
	"tier2": {"llama3.2:3b", "nomic-embed-text"},
	"tier3": {"llama3.2:3b", "nomic-embed-text", "qwen2.5-coder:7b"},
}

// TierModels returns the required-model list for a tier. Unknown tiers
// require nothing.
func TierModels(tier string) []string {
	models := tierModels[tier]
	out := make([]string, len(models))
	copy(out, models)
	return out
}

// Prober checks the local model service. The endpoint goes through the
// loopback boundary; non-loopback endpoints never see I/O.
type Prober struct {
	client       *loopback.Client
	endpoint     string
	defaultModel string
	tier         string
	timeout      time.Duration
}

// NewProber builds a probe against the configured local model service.
func NewProber(endpoint, defaultModel, tier string) *Prober {
	return &Prober{
		client:       loopback.New(),
		endpoint:     endpoint,
		defaultModel: defaultModel,
		tier:         tier,
		timeout:      loopback.DefaultTimeout,
	}
}

// tagsResponse is the Ollama-style model listing at GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Check probes the service and enumerates issues. The reachability probe
// and the model listing run concurrently; model-presence checks are
// skipped when the listing itself failed.
func (p *Prober) Check(ctx context.Context) (*Report, error) {
	report := &Report{Issues: []Issue{}, Repairable: []Issue{}}

	tagsURL, err := loopback.CheckURL(p.endpoint + "/api/tags")
	if err != nil {
		logging.SelfHealWarn("endpoint blocked: %s", p.endpoint)
		report.add(Issue{
			Kind:    IssueEndpointBlocked,
			Message: fmt.Sprintf("local model endpoint %s is not loopback", p.endpoint),
		})
		return report, nil
	}
	versionURL, err := loopback.CheckURL(p.endpoint + "/api/version")
	if err != nil {
		report.add(Issue{
			Kind:    IssueEndpointBlocked,
			Message: fmt.Sprintf("local model endpoint %s is not loopback", p.endpoint),
		})
		return report, nil
	}

	var (
		reachErr error
		listed   map[string]bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := p.client.Get(gctx, versionURL, nil, p.timeout); err != nil {
			reachErr = err
		}
		return nil
	})
	g.Go(func() error {
		resp, err := p.client.Get(gctx, tagsURL, nil, p.timeout)
		if err != nil {
			return nil
		}
		var tags tagsResponse
		if err := json.Unmarshal(resp.Body, &tags); err != nil {
			return nil
		}
		models := make(map[string]bool, len(tags.Models))
		for _, m := range tags.Models {
			models[m.Name] = true
		}
		listed = models
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if reachErr != nil && listed == nil {
		report.add(Issue{
			Kind:    IssueServiceDown,
			Message: fmt.Sprintf("local model service unreachable: %v", reachErr),
		})
		return report, nil
	}
	if listed == nil {
		report.add(Issue{
			Kind:    IssueServiceDown,
			Message: "model listing unavailable",
		})
		return report, nil
	}

	if p.defaultModel != "" && !listed[p.defaultModel] {
		report.add(Issue{
			Kind:       IssueModelMissing,
			Message:    fmt.Sprintf("default model %s not present", p.defaultModel),
			Repairable: true,
			Action:     "pull_" + p.defaultModel,
		})
	}
	for _, name := range TierModels(p.tier) {
		if name == p.defaultModel {
			continue
		}
		if !listed[name] {
			report.add(Issue{
				Kind:       IssueTierModelMissing,
				Message:    fmt.Sprintf("%s model %s not present", p.tier, name),
				Repairable: true,
				Action:     "pull_" + name,
			})
		}
	}

	if report.OK() {
		logging.SelfHeal("probe clean: endpoint=%s model=%s tier=%s", p.endpoint, p.defaultModel, p.tier)
	} else {
		logging.SelfHealWarn("probe found %d issues (%d repairable)", len(report.Issues), len(report.Repairable))
	}
	return report, nil
}
