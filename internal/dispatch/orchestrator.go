package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"udos/internal/catalog"
	"udos/internal/logging"
)

// AskResult is the outcome of a stage-3 assistant call.
type AskResult struct {
	Text         string
	ProviderUsed string
	Attempts     []Attempt
}

// Asker is the stage-3 assistant boundary. Mirrors vibe.Client to avoid
// import cycles; the engine wires the real client in.
type Asker interface {
	Ask(ctx context.Context, prompt string) (*AskResult, error)
}

// Dispatcher runs the fixed three-stage pipeline. Each request owns its
// state; the dispatcher itself is read-only after construction.
type Dispatcher struct {
	registry       *Registry
	validator      *ShellValidator
	executor       ShellExecutor
	asker          Asker
	modeBoundaries bool
}

// DispatcherOption adjusts dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithModeBoundaries gates destructive catalog commands behind the
// confirmation flow, the same gate mutating shell heads go through.
func WithModeBoundaries() DispatcherOption {
	return func(d *Dispatcher) { d.modeBoundaries = true }
}

// NewDispatcher wires the pipeline. asker may be nil, in which case stage 3
// fails with provider_missing_auth semantics only after stages 1 and 2 pass
// on nothing.
func NewDispatcher(registry *Registry, validator *ShellValidator, executor ShellExecutor, asker Asker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		validator: validator,
		executor:  executor,
		asker:     asker,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// tracer accumulates route-trace records for one request.
type tracer struct {
	enabled bool
	records []TraceRecord
}

func (t *tracer) add(stage int, decision, reason string, confidence *float64, start time.Time) {
	if !t.enabled {
		return
	}
	t.records = append(t.records, TraceRecord{
		Stage:      stage,
		Decision:   decision,
		Reason:     reason,
		Confidence: confidence,
		ElapsedMS:  time.Since(start).Milliseconds(),
	})
}

// Dispatch classifies one input and routes it through stage 1 (command
// match), stage 2 (shell passthrough), and stage 3 (assistant fallback),
// in that fixed order. The returned response always names exactly one
// route and carries the contract metadata.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	timer := logging.StartTimer(logging.CategoryDispatch, "dispatch")
	defer timer.Stop()

	trace := &tracer{enabled: req.Debug}
	requestID := ""
	if req.Debug {
		requestID = uuid.NewString()
	}

	resp := d.run(ctx, req, trace)
	resp.Contract = NewContract()
	if req.Debug {
		if resp.Debug == nil {
			resp.Debug = &DebugInfo{}
		}
		resp.Debug.RequestID = requestID
		resp.Debug.RouteTrace = trace.records
	}
	logging.Dispatch("caller=%s route=%s status=%s", req.Caller, resp.DispatchTo, resp.Status)
	return resp
}

func (d *Dispatcher) run(ctx context.Context, req *Request, trace *tracer) *Response {
	if strings.TrimSpace(req.Input) == "" {
		return &Response{
			Status:     StatusError,
			DispatchTo: RouteNone,
			Code:       CodeInputInvalid,
			Message:    "empty input",
		}
	}
	if err := ctx.Err(); err != nil {
		return &Response{
			Status:     StatusError,
			DispatchTo: RouteNone,
			Code:       CodeCancelled,
			Message:    "request cancelled before dispatch",
		}
	}

	// Stage 1: canonical command match.
	s1Start := time.Now()
	m := Match(req.Input)
	if m.Command != "" && m.Confidence >= catalog.MinConfidence(m.Command) {
		conf := m.Confidence
		trace.add(1, DecisionMatch, m.Reason, &conf, s1Start)
		return d.runUcode(ctx, req, m)
	}
	trace.add(1, DecisionSkip, m.Reason, nil, s1Start)

	// Stage 2: shell passthrough.
	s2Start := time.Now()
	v := d.validator.Validate(req.Input)
	if v.Safe {
		if v.Payload.RequiresConfirmation && !req.Confirm {
			trace.add(2, DecisionDispatch, "confirmation_required", nil, s2Start)
			return &Response{
				Status:     StatusPending,
				DispatchTo: RouteConfirm,
				Payload:    Payload{Shell: v.Payload},
				Message:    "confirmation required: repeat with --confirm to execute",
			}
		}
		trace.add(2, DecisionDispatch, v.Reason, nil, s2Start)
		return d.runShell(ctx, req, v)
	}
	trace.add(2, DecisionSkip, v.Reason, nil, s2Start)

	// Stage 3: generative assistant fallback.
	s3Start := time.Now()
	resp := d.runVibe(ctx, req)
	if resp.Status == StatusError {
		trace.add(3, DecisionFail, string(resp.Code), nil, s3Start)
	} else {
		trace.add(3, DecisionDispatch, "assistant", nil, s3Start)
	}
	return resp
}

func (d *Dispatcher) runUcode(ctx context.Context, req *Request, m MatchResult) *Response {
	if d.modeBoundaries && catalog.KindOf(m.Command) == catalog.KindDestructive && !req.Confirm {
		return &Response{
			Status:     StatusPending,
			DispatchTo: RouteConfirm,
			Payload:    Payload{Command: m.Command, Args: argsOrEmpty(m.Args)},
			Message:    "confirmation required: repeat with --confirm to execute",
		}
	}
	if req.DryRun {
		return &Response{
			Status:     StatusSkipped,
			DispatchTo: RouteUcode,
			Payload:    Payload{Command: m.Command, Args: argsOrEmpty(m.Args)},
		}
	}

	handler := d.registry.Get(m.Command)
	if handler == nil {
		// Catalog/registry divergence is caught by the parity test; this
		// is a runtime backstop.
		return &Response{
			Status:     StatusError,
			DispatchTo: RouteUcode,
			Code:       CodeInternal,
			Message:    "no handler registered for " + m.Command,
		}
	}

	payload, err := handler.Handle(ctx, req, m.Args)
	if err != nil {
		var de *Error
		code := CodeInternal
		if errors.As(err, &de) {
			code = de.Code
		}
		return &Response{
			Status:     StatusError,
			DispatchTo: RouteUcode,
			Code:       code,
			Message:    err.Error(),
		}
	}
	if payload == nil {
		payload = &Payload{Command: m.Command, Args: argsOrEmpty(m.Args)}
	}
	if payload.Command == "" {
		payload.Command = m.Command
	}
	if payload.Args == nil {
		payload.Args = argsOrEmpty(m.Args)
	}
	return &Response{
		Status:     StatusSuccess,
		DispatchTo: RouteUcode,
		Payload:    *payload,
	}
}

func (d *Dispatcher) runShell(ctx context.Context, req *Request, v Validation) *Response {
	if req.DryRun {
		return &Response{
			Status:     StatusSkipped,
			DispatchTo: RouteShell,
			Payload:    Payload{Shell: v.Payload},
		}
	}

	output, exitCode, err := d.executor.Run(ctx, v.Payload.Command, v.Payload.Args)
	if err != nil {
		if ctx.Err() != nil {
			return &Response{
				Status:     StatusError,
				DispatchTo: RouteShell,
				Payload:    Payload{Shell: v.Payload},
				Code:       CodeCancelled,
				Message:    "shell execution cancelled",
			}
		}
		return &Response{
			Status:     StatusError,
			DispatchTo: RouteShell,
			Payload:    Payload{Shell: v.Payload},
			Code:       CodeInternal,
			Message:    err.Error(),
		}
	}
	return &Response{
		Status:     StatusSuccess,
		DispatchTo: RouteShell,
		Payload: Payload{
			Shell:    v.Payload,
			Output:   output,
			ExitCode: exitCode,
		},
	}
}

func (d *Dispatcher) runVibe(ctx context.Context, req *Request) *Response {
	if req.DryRun {
		return &Response{
			Status:     StatusSkipped,
			DispatchTo: RouteVibe,
		}
	}
	if d.asker == nil {
		return &Response{
			Status:     StatusError,
			DispatchTo: RouteVibe,
			Code:       CodeProviderMissingAuth,
			Message:    "no assistant backend configured",
		}
	}

	result, err := d.asker.Ask(ctx, req.Input)
	if err != nil {
		var de *Error
		code := CodeProviderUnreachable
		if errors.As(err, &de) {
			code = de.Code
		}
		resp := &Response{
			Status:     StatusError,
			DispatchTo: RouteVibe,
			Code:       code,
			Message:    err.Error(),
		}
		if result != nil && len(result.Attempts) > 0 {
			resp.Debug = &DebugInfo{Attempts: result.Attempts}
		}
		return resp
	}
	return &Response{
		Status:     StatusSuccess,
		DispatchTo: RouteVibe,
		Payload: Payload{
			Text:         result.Text,
			ProviderUsed: result.ProviderUsed,
		},
		Debug: &DebugInfo{Attempts: result.Attempts},
	}
}

func argsOrEmpty(args []string) []string {
	if args == nil {
		return []string{}
	}
	return args
}
