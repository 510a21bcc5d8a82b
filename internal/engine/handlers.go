package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"udos/internal/catalog"
	"udos/internal/dispatch"
)

// registerHandlers wires the commands backed by real engine operations.
// Everything else keeps the registry's echo default.
func (e *Engine) registerHandlers(r *dispatch.Registry) {
	r.Register("HEALTH", dispatch.HandlerFunc{
		CommandKind: catalog.KindReadOnly,
		Fn:          e.handleHealth,
	})
	r.Register("VERIFY", dispatch.HandlerFunc{
		CommandKind: catalog.KindReadOnly,
		Fn:          e.handleVerify,
	})
	r.Register("REPAIR", dispatch.HandlerFunc{
		CommandKind: catalog.KindMutating,
		Fn:          e.handleRepair,
	})
	r.Register("LOGS", dispatch.HandlerFunc{
		CommandKind: catalog.KindReadOnly,
		Fn:          e.handleLogs,
	})
	r.Register("CONFIG", dispatch.HandlerFunc{
		CommandKind: catalog.KindMutating,
		Fn:          e.handleConfig,
	})
}

// handleHealth runs the self-heal probe and reports its findings.
func (e *Engine) handleHealth(ctx context.Context, _ *dispatch.Request, args []string) (*dispatch.Payload, error) {
	report, err := e.prober.Check(ctx)
	if err != nil {
		return nil, dispatch.NewError(dispatch.CodeInternal, "%s", err)
	}

	var b strings.Builder
	if report.OK() {
		b.WriteString("local model service healthy")
	} else {
		fmt.Fprintf(&b, "%d issue(s) found:\n", len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Fprintf(&b, "  [%s] %s", issue.Kind, issue.Message)
			if issue.Repairable {
				fmt.Fprintf(&b, " (fix: %s)", issue.Action)
			}
			b.WriteString("\n")
		}
	}
	return &dispatch.Payload{Command: "HEALTH", Args: args, Output: b.String()}, nil
}

// handleVerify reports the admin-secret contract state without touching
// anything.
func (e *Engine) handleVerify(_ context.Context, _ *dispatch.Request, args []string) (*dispatch.Payload, error) {
	status, err := e.contract.Status()
	if err != nil {
		return nil, dispatch.NewError(dispatch.CodeInternal, "%s", err)
	}
	out := "admin-secret contract healthy"
	if !status.OK {
		parts := make([]string, len(status.Drift))
		for i, d := range status.Drift {
			parts[i] = string(d)
		}
		out = "drift detected: " + strings.Join(parts, ", ")
	}
	return &dispatch.Payload{Command: "VERIFY", Args: args, Output: out}, nil
}

// handleRepair runs contract repair. Residual drift is an error so shell
// callers see a non-zero exit.
func (e *Engine) handleRepair(_ context.Context, _ *dispatch.Request, args []string) (*dispatch.Payload, error) {
	report, err := e.contract.Repair()
	if err != nil {
		return nil, dispatch.NewError(dispatch.CodeInternal, "%s", err)
	}
	if !report.OK {
		parts := make([]string, len(report.ResidualDrift))
		for i, d := range report.ResidualDrift {
			parts[i] = string(d)
		}
		return nil, dispatch.NewError(dispatch.CodeContractUnrepairable,
			"residual drift after repair: %s", strings.Join(parts, ", "))
	}
	out := "contract healthy"
	if len(report.Performed) > 0 {
		parts := make([]string, len(report.Performed))
		for i, a := range report.Performed {
			parts[i] = string(a)
		}
		out = "repaired: " + strings.Join(parts, ", ")
	}
	return &dispatch.Payload{Command: "REPAIR", Args: args, Output: out}, nil
}

// handleLogs prints the local session counters.
func (e *Engine) handleLogs(_ context.Context, _ *dispatch.Request, args []string) (*dispatch.Payload, error) {
	summary := e.sessions.Summary()
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, dispatch.NewError(dispatch.CodeInternal, "%s", err)
	}
	return &dispatch.Payload{Command: "LOGS", Args: args, Output: string(data)}, nil
}

// handleConfig shows the active config without secrets.
func (e *Engine) handleConfig(_ context.Context, _ *dispatch.Request, args []string) (*dispatch.Payload, error) {
	view := map[string]interface{}{
		"name":             e.cfg.Name,
		"bind":             e.cfg.Bind,
		"admin_api_key_id": e.cfg.AdminAPIKeyID,
		"local_model":      e.cfg.LocalModel,
		"vibe_chain":       e.chain,
		"shell_allowlist":  e.cfg.Shell.Allowlist,
		"config_dir":       e.cfg.ConfigDir(),
		"state_dir":        e.cfg.StateDir(),
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, dispatch.NewError(dispatch.CodeInternal, "%s", err)
	}
	return &dispatch.Payload{Command: "CONFIG", Args: args, Output: string(data)}, nil
}
