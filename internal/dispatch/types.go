// Package dispatch implements the three-stage command dispatcher: stage-1
// canonical command matching, stage-2 shell passthrough validation, and
// stage-3 generative assistant fallback. It owns the stable request and
// response types consumed by the interactive prompt, the wizard HTTP
// server, and the shell entry point.
package dispatch

import "encoding/json"

// ContractVersion identifies the response envelope contract.
const ContractVersion = "m1.1"

// Caller identifies the surface a request arrived from.
type Caller string

const (
	CallerInteractive Caller = "interactive"
	CallerHTTP        Caller = "http"
	CallerShell       Caller = "shell"
)

// Status is the response status tag.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPending Status = "pending"
	StatusSkipped Status = "skipped"
)

// Route names the stage a response was dispatched to.
type Route string

const (
	RouteUcode   Route = "ucode"
	RouteShell   Route = "shell"
	RouteVibe    Route = "vibe"
	RouteConfirm Route = "confirm"
	RouteNone    Route = "none"
)

// Request carries one input through the dispatcher. It is created at the
// public surface and read-only afterward.
type Request struct {
	Input  string `json:"input"`
	Caller Caller `json:"caller"`

	// Flags
	Debug   bool `json:"dispatch_debug,omitempty"` // --dispatch-debug
	Confirm bool `json:"confirm,omitempty"`        // --confirm
	DryRun  bool `json:"dry_run,omitempty"`        // --dry-run

	// LogRawInput opts this request in to raw-text session logging.
	LogRawInput bool `json:"log_raw_input,omitempty"`

	// Env holds per-request environment overrides.
	Env map[string]string `json:"env,omitempty"`
}

// Contract is the envelope metadata present on every response.
type Contract struct {
	Version    string   `json:"version"`
	RouteOrder []string `json:"route_order"`
}

// NewContract returns the fixed contract metadata.
func NewContract() Contract {
	return Contract{
		Version:    ContractVersion,
		RouteOrder: []string{"ucode", "shell", "vibe"},
	}
}

// TraceRecord is one per-stage decision in the route trace.
type TraceRecord struct {
	Stage      int      `json:"stage"`
	Decision   string   `json:"decision"` // match, skip, dispatch, fail
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence,omitempty"`
	ElapsedMS  int64    `json:"elapsed_ms"`
}

// Trace decisions.
const (
	DecisionMatch    = "match"
	DecisionSkip     = "skip"
	DecisionDispatch = "dispatch"
	DecisionFail     = "fail"
)

// ShellPayload describes a stage-2 shell dispatch.
type ShellPayload struct {
	Command              string   `json:"command"`
	Args                 []string `json:"args"`
	Raw                  string   `json:"raw"`
	ValidationReason     string   `json:"validation_reason"`
	AllowlistEnabled     bool     `json:"allowlist_enabled"`
	BlocklistEnabled     bool     `json:"blocklist_enabled"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
}

// Attempt records one provider attempt for the debug envelope.
type Attempt struct {
	Provider       string `json:"provider"`
	OK             bool   `json:"ok,omitempty"`
	FailoverReason string `json:"failover_reason,omitempty"`
	ElapsedMS      int64  `json:"elapsed_ms,omitempty"`
}

// Payload is the route-dependent response body.
type Payload struct {
	// contract endpoints: the status or repair report, pre-encoded
	Report json.RawMessage `json:"report,omitempty"`

	// ucode route
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// shell and confirm routes
	Shell *ShellPayload `json:"shell,omitempty"`

	// vibe route
	Text         string `json:"text,omitempty"`
	ProviderUsed string `json:"provider_used,omitempty"`

	// execution output (shell route, and ucode handlers that produce text)
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// DebugInfo is attached under --dispatch-debug.
type DebugInfo struct {
	RequestID  string        `json:"request_id,omitempty"`
	RouteTrace []TraceRecord `json:"route_trace,omitempty"`
	Attempts   []Attempt     `json:"attempts,omitempty"`
}

// Response is the tagged-union result of a dispatch. Every response names
// exactly one route and carries the contract metadata.
type Response struct {
	Status     Status     `json:"status"`
	DispatchTo Route      `json:"dispatch_to"`
	Contract   Contract   `json:"contract"`
	Payload    Payload    `json:"payload"`
	Code       Code       `json:"code,omitempty"`
	Message    string     `json:"message,omitempty"`
	Debug      *DebugInfo `json:"debug,omitempty"`
}
