package dispatch

import (
	"context"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExecutor records calls without spawning processes.
type fakeExecutor struct {
	ran     bool
	command string
	args    []string
	output  string
	exit    int
	err     error
}

func (f *fakeExecutor) Run(_ context.Context, command string, args []string) (string, int, error) {
	f.ran = true
	f.command = command
	f.args = args
	return f.output, f.exit, f.err
}

// fakeAsker returns a canned stage-3 result.
type fakeAsker struct {
	called bool
	result *AskResult
	err    error
}

func (f *fakeAsker) Ask(_ context.Context, _ string) (*AskResult, error) {
	f.called = true
	return f.result, f.err
}

func newTestDispatcher(exec ShellExecutor, asker Asker) *Dispatcher {
	if exec == nil {
		exec = &fakeExecutor{}
	}
	return NewDispatcher(NewRegistry(), newTestValidator(), exec, asker)
}

func TestDispatch_UcodeRoute(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	resp := d.Dispatch(context.Background(), &Request{Input: "HEALTH", Caller: CallerInteractive})

	if resp.Status != StatusSuccess {
		t.Errorf("expected success, got %s (%s)", resp.Status, resp.Message)
	}
	if resp.DispatchTo != RouteUcode {
		t.Errorf("expected ucode route, got %s", resp.DispatchTo)
	}
	if resp.Contract.Version != ContractVersion {
		t.Errorf("expected contract version %s, got %s", ContractVersion, resp.Contract.Version)
	}
	if len(resp.Contract.RouteOrder) != 3 || resp.Contract.RouteOrder[0] != "ucode" {
		t.Errorf("unexpected route order: %v", resp.Contract.RouteOrder)
	}
	if resp.Payload.Command != "HEALTH" {
		t.Errorf("expected payload command HEALTH, got %s", resp.Payload.Command)
	}
	if resp.Payload.Args == nil || len(resp.Payload.Args) != 0 {
		t.Errorf("expected empty args slice, got %v", resp.Payload.Args)
	}
}

func TestDispatch_ModeBoundariesGateDestructiveCommands(t *testing.T) {
	d := NewDispatcher(NewRegistry(), newTestValidator(), &fakeExecutor{}, nil, WithModeBoundaries())

	resp := d.Dispatch(context.Background(), &Request{Input: "DESTROY cache", Caller: CallerInteractive})
	if resp.Status != StatusPending || resp.DispatchTo != RouteConfirm {
		t.Fatalf("expected pending/confirm, got %s/%s", resp.Status, resp.DispatchTo)
	}
	if resp.Payload.Command != "DESTROY" {
		t.Errorf("pending payload must name the command, got %q", resp.Payload.Command)
	}

	resp = d.Dispatch(context.Background(), &Request{Input: "DESTROY cache", Confirm: true})
	if resp.Status != StatusSuccess || resp.DispatchTo != RouteUcode {
		t.Fatalf("confirmed destructive must execute, got %s/%s", resp.Status, resp.DispatchTo)
	}

	// Without the gate, destructive commands run directly.
	plain := newTestDispatcher(nil, nil)
	resp = plain.Dispatch(context.Background(), &Request{Input: "DESTROY cache"})
	if resp.Status != StatusSuccess {
		t.Errorf("ungated dispatcher must execute destructive commands, got %s", resp.Status)
	}
}

func TestDispatch_AliasRoute(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	resp := d.Dispatch(context.Background(), &Request{Input: "RESTART", Caller: CallerShell})

	if resp.DispatchTo != RouteUcode || resp.Status != StatusSuccess {
		t.Fatalf("expected ucode success, got %s/%s", resp.DispatchTo, resp.Status)
	}
	if resp.Payload.Command != "REBOOT" {
		t.Errorf("RESTART must dispatch as REBOOT, got %s", resp.Payload.Command)
	}
}

func TestDispatch_ShellReadOnlyExecutes(t *testing.T) {
	exec := &fakeExecutor{output: "file.txt\n"}
	d := newTestDispatcher(exec, nil)
	resp := d.Dispatch(context.Background(), &Request{Input: "ls", Caller: CallerInteractive})

	if resp.Status != StatusSuccess || resp.DispatchTo != RouteShell {
		t.Fatalf("expected shell success, got %s/%s (%s)", resp.DispatchTo, resp.Status, resp.Message)
	}
	if !exec.ran || exec.command != "ls" {
		t.Errorf("executor not invoked with ls: %+v", exec)
	}
	if resp.Payload.Shell == nil || resp.Payload.Shell.RequiresConfirmation {
		t.Error("ls must not require confirmation")
	}
	if resp.Payload.Output != "file.txt\n" {
		t.Errorf("expected captured output, got %q", resp.Payload.Output)
	}
}

func TestDispatch_ConfirmationGate(t *testing.T) {
	exec := &fakeExecutor{}
	d := newTestDispatcher(exec, nil)

	resp := d.Dispatch(context.Background(), &Request{Input: "mv a b", Caller: CallerInteractive})
	if resp.Status != StatusPending || resp.DispatchTo != RouteConfirm {
		t.Fatalf("expected pending/confirm, got %s/%s", resp.Status, resp.DispatchTo)
	}
	if exec.ran {
		t.Error("pending response must not execute")
	}
	if resp.Payload.Shell == nil || !resp.Payload.Shell.RequiresConfirmation {
		t.Error("confirm payload must carry requires_confirmation=true")
	}

	// Same input with --confirm proceeds to execution.
	resp = d.Dispatch(context.Background(), &Request{Input: "mv a b", Confirm: true})
	if resp.Status != StatusSuccess || resp.DispatchTo != RouteShell {
		t.Fatalf("expected shell success with --confirm, got %s/%s", resp.DispatchTo, resp.Status)
	}
	if !exec.ran || exec.command != "mv" {
		t.Errorf("executor not invoked with mv: %+v", exec)
	}
}

func TestDispatch_VibeFallback(t *testing.T) {
	asker := &fakeAsker{result: &AskResult{
		Text:         "sure thing",
		ProviderUsed: "openrouter",
		Attempts: []Attempt{
			{Provider: "mistral", FailoverReason: "rate_limit"},
			{Provider: "openrouter", OK: true},
		},
	}}
	d := newTestDispatcher(nil, asker)
	resp := d.Dispatch(context.Background(), &Request{Input: "cat file; rm important"})

	if !asker.called {
		t.Fatal("stage 3 was not reached")
	}
	if resp.Status != StatusSuccess || resp.DispatchTo != RouteVibe {
		t.Fatalf("expected vibe success, got %s/%s", resp.DispatchTo, resp.Status)
	}
	if resp.Payload.ProviderUsed != "openrouter" {
		t.Errorf("expected provider_used=openrouter, got %s", resp.Payload.ProviderUsed)
	}
	if resp.Debug == nil || len(resp.Debug.Attempts) != 2 {
		t.Fatal("vibe responses must carry the attempt list")
	}
	if resp.Debug.Attempts[0].FailoverReason != "rate_limit" {
		t.Errorf("expected first attempt rate_limit, got %s", resp.Debug.Attempts[0].FailoverReason)
	}
}

func TestDispatch_VibeMissingAuth(t *testing.T) {
	d := newTestDispatcher(nil, &fakeAsker{err: NewError(CodeProviderMissingAuth, "no provider has auth configured")})
	resp := d.Dispatch(context.Background(), &Request{Input: "cat file; rm important"})

	if resp.Status != StatusError || resp.DispatchTo != RouteVibe {
		t.Fatalf("expected vibe error, got %s/%s", resp.DispatchTo, resp.Status)
	}
	if resp.Code != CodeProviderMissingAuth {
		t.Errorf("expected provider_missing_auth, got %s", resp.Code)
	}
}

func TestDispatch_RouteTrace(t *testing.T) {
	d := newTestDispatcher(nil, &fakeAsker{result: &AskResult{Text: "ok", ProviderUsed: "mistral"}})

	// Stage-1 hit: one trace entry.
	resp := d.Dispatch(context.Background(), &Request{Input: "HEALTH", Debug: true})
	if resp.Debug == nil || len(resp.Debug.RouteTrace) != 1 {
		t.Fatalf("expected 1 trace entry, got %+v", resp.Debug)
	}
	tr := resp.Debug.RouteTrace[0]
	if tr.Stage != 1 || tr.Decision != DecisionMatch {
		t.Errorf("unexpected stage-1 trace: %+v", tr)
	}
	if tr.Confidence == nil || *tr.Confidence != 1.0 {
		t.Error("stage-1 match trace must carry confidence")
	}
	if resp.Debug.RequestID == "" {
		t.Error("debug responses must carry a request id")
	}

	// Fall-through to stage 3: three entries with non-decreasing stages.
	resp = d.Dispatch(context.Background(), &Request{Input: "what is this; really", Debug: true})
	if resp.Debug == nil || len(resp.Debug.RouteTrace) != 3 {
		t.Fatalf("expected 3 trace entries, got %+v", resp.Debug)
	}
	last := 0
	for _, rec := range resp.Debug.RouteTrace {
		if rec.Stage < last {
			t.Errorf("trace stages must be non-decreasing: %+v", resp.Debug.RouteTrace)
		}
		last = rec.Stage
	}
	if resp.Debug.RouteTrace[1].Reason != "metachar_chain" {
		t.Errorf("expected stage-2 skip reason metachar_chain, got %s", resp.Debug.RouteTrace[1].Reason)
	}

	// Without --dispatch-debug no trace is attached.
	resp = d.Dispatch(context.Background(), &Request{Input: "HEALTH"})
	if resp.Debug != nil && len(resp.Debug.RouteTrace) != 0 {
		t.Error("route trace must be absent without --dispatch-debug")
	}
}

func TestDispatch_DryRun(t *testing.T) {
	exec := &fakeExecutor{}
	asker := &fakeAsker{result: &AskResult{Text: "x"}}
	d := newTestDispatcher(exec, asker)

	resp := d.Dispatch(context.Background(), &Request{Input: "HEALTH", DryRun: true})
	if resp.Status != StatusSkipped || resp.DispatchTo != RouteUcode {
		t.Errorf("expected skipped/ucode, got %s/%s", resp.Status, resp.DispatchTo)
	}

	resp = d.Dispatch(context.Background(), &Request{Input: "ls", DryRun: true})
	if resp.Status != StatusSkipped || resp.DispatchTo != RouteShell {
		t.Errorf("expected skipped/shell, got %s/%s", resp.Status, resp.DispatchTo)
	}
	if exec.ran {
		t.Error("dry-run must not execute")
	}

	resp = d.Dispatch(context.Background(), &Request{Input: "free-form question?", DryRun: true})
	if resp.Status != StatusSkipped || resp.DispatchTo != RouteVibe {
		t.Errorf("expected skipped/vibe, got %s/%s", resp.Status, resp.DispatchTo)
	}
	if asker.called {
		t.Error("dry-run must not call providers")
	}
}

func TestDispatch_EmptyInput(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	resp := d.Dispatch(context.Background(), &Request{Input: "   "})
	if resp.Status != StatusError || resp.Code != CodeInputInvalid {
		t.Errorf("expected input_invalid error, got %s/%s", resp.Status, resp.Code)
	}
	if resp.DispatchTo != RouteNone {
		t.Errorf("expected none route, got %s", resp.DispatchTo)
	}
	if resp.Contract.Version != ContractVersion {
		t.Error("error responses must still carry the contract")
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := d.Dispatch(ctx, &Request{Input: "HEALTH"})
	if resp.Code != CodeCancelled {
		t.Errorf("expected cancelled, got %s", resp.Code)
	}
}
