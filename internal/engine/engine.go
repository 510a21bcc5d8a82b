// Package engine is the public surface of the wizard core. It owns the
// process singletons (config, dispatcher, provider chain, secret
// contract, session log) and exposes the four operations every entry
// point consumes: dispatch, contract status, contract repair, self-heal.
package engine

import (
	"context"
	"fmt"
	"time"

	"udos/internal/config"
	"udos/internal/contract"
	"udos/internal/dispatch"
	"udos/internal/logging"
	"udos/internal/selfheal"
	"udos/internal/sessionlog"
	"udos/internal/vibe"
)

// Engine holds the wired singletons. Construct once at startup; all
// methods are safe for concurrent use.
type Engine struct {
	cfg        *config.Config
	chain      []string
	dispatcher *dispatch.Dispatcher
	contract   *contract.Manager
	prober     *selfheal.Prober
	sessions   *sessionlog.Log
}

// New wires an engine from a loaded config.
func New(cfg *config.Config) (*Engine, error) {
	sessions, err := sessionlog.Open(cfg.SessionLogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	if err := sessions.Recount(); err != nil {
		logging.SessionError("recount failed: %v", err)
	}

	manager := contract.NewManager(cfg)
	prober := selfheal.NewProber(cfg.LocalModel.Endpoint, cfg.LocalModel.DefaultModel, cfg.LocalModel.Tier)

	chain := vibe.ResolveChain(cfg.Vibe.Chain, cfg.Vibe.Primary, cfg.Vibe.Secondary)
	var vibeOpts []vibe.Option
	if cfg.Vibe.MaxTokens > 0 {
		vibeOpts = append(vibeOpts, vibe.WithMaxTokens(cfg.Vibe.MaxTokens))
	}
	asker := &vibeAsker{client: vibe.NewClient(chain, vibeOpts...)}

	e := &Engine{
		cfg:      cfg,
		chain:    chain,
		contract: manager,
		prober:   prober,
		sessions: sessions,
	}

	registry := dispatch.NewRegistry()
	e.registerHandlers(registry)

	validator := dispatch.NewShellValidator(dispatch.DefaultShellRules(), cfg.Shell.Allowlist)
	var dispatchOpts []dispatch.DispatcherOption
	if cfg.EnforceModeBoundaries {
		dispatchOpts = append(dispatchOpts, dispatch.WithModeBoundaries())
	}
	e.dispatcher = dispatch.NewDispatcher(registry, validator, dispatch.NewShellExecutor(), asker, dispatchOpts...)

	logging.Boot("engine ready: chain=%v bind=%s", chain, cfg.Bind)
	return e, nil
}

// Close releases the engine's file handles.
func (e *Engine) Close() error {
	return e.sessions.Close()
}

// Dispatch routes one input and records the outcome in the session log.
func (e *Engine) Dispatch(ctx context.Context, req *dispatch.Request) *dispatch.Response {
	start := time.Now()
	resp := e.dispatcher.Dispatch(ctx, req)
	e.record(req, resp, time.Since(start))
	return resp
}

// ContractStatus scans the admin-secret artifacts.
func (e *Engine) ContractStatus() (*contract.StatusReport, error) {
	return e.contract.Status()
}

// RepairContract runs the fixed repair order.
func (e *Engine) RepairContract() (*contract.RepairReport, error) {
	return e.contract.Repair()
}

// SelfHeal probes the local model service.
func (e *Engine) SelfHeal(ctx context.Context) (*selfheal.Report, error) {
	return e.prober.Check(ctx)
}

// Stats returns the local session-log aggregates.
func (e *Engine) Stats() sessionlog.Summary {
	return e.sessions.Summary()
}

// record appends one session entry. Raw input is stored only when the
// config or the request explicitly opted in.
func (e *Engine) record(req *dispatch.Request, resp *dispatch.Response, elapsed time.Duration) {
	entry := sessionlog.Entry{
		Caller:    string(req.Caller),
		InputHash: sessionlog.HashInput(req.Input),
		Command:   resp.Payload.Command,
		Route:     string(resp.DispatchTo),
		Status:    string(resp.Status),
		ElapsedMS: elapsed.Milliseconds(),
		Failover:  worstFailover(resp),
	}
	if e.cfg.Shell.LogRawInput || req.LogRawInput {
		entry.RawInput = req.Input
		entry.Redactions = []string{}
	}
	if err := e.sessions.Record(entry); err != nil {
		logging.SessionError("record failed: %v", err)
	}
}

// worstFailover extracts the most severe failover reason from the
// attempt list, if any attempt failed over.
func worstFailover(resp *dispatch.Response) string {
	if resp.Debug == nil {
		return ""
	}
	worst := ""
	for _, a := range resp.Debug.Attempts {
		if a.OK || a.FailoverReason == "" {
			continue
		}
		if worst == "" || vibe.MoreSevere(vibe.FailoverReason(a.FailoverReason), vibe.FailoverReason(worst)) {
			worst = a.FailoverReason
		}
	}
	return worst
}
