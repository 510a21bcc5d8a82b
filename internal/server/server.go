// Package server exposes the engine over a loopback-only HTTP surface.
// Three endpoints, all returning the JSON response envelope; the contract
// endpoints additionally require the admin bearer token.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"udos/internal/config"
	"udos/internal/dispatch"
	"udos/internal/engine"
	"udos/internal/loopback"
)

// Server wraps the engine behind the HTTP surface at the configured
// loopback bind address.
type Server struct {
	engine *engine.Engine
	cfg    *config.Config
	log    *zap.Logger
	http   *http.Server
}

// New builds an unstarted server. The access log goes through zap;
// engine internals keep their own categorized logs.
func New(e *engine.Engine, cfg *config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{engine: e, cfg: cfg, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin-token/contract/status", s.requireAdmin(s.handleContractStatus))
	mux.HandleFunc("POST /api/admin-token/contract/repair", s.requireAdmin(s.handleContractRepair))
	mux.HandleFunc("POST /api/dispatch", s.handleDispatch)

	s.http = &http.Server{
		Handler:           s.accessLog(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// BindAddr normalizes the configured bind address to loopback. Wildcard
// hosts collapse to 127.0.0.1; any other non-loopback host is an error.
func (s *Server) BindAddr() (string, error) {
	host, port, err := net.SplitHostPort(s.cfg.Bind)
	if err != nil {
		return "", fmt.Errorf("invalid bind address %q: %w", s.cfg.Bind, err)
	}
	host = loopback.NormalizeHost(host)
	if _, err := loopback.CheckURL("http://" + net.JoinHostPort(host, port)); err != nil {
		return "", fmt.Errorf("bind address %q is not loopback", s.cfg.Bind)
	}
	return net.JoinHostPort(host, port), nil
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr, err := s.BindAddr()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.Info("wizard server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// accessLog wraps the mux with one structured line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requireAdmin gates contract endpoints on the admin bearer token. The
// token is re-read from the env file per request so a repair-generated
// token takes effect without restart.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.adminToken()
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(presented)) != 1 {
			s.log.Warn("admin auth rejected", zap.String("path", r.URL.Path))
			writeEnvelope(w, http.StatusUnauthorized, &dispatch.Response{
				Status:     dispatch.StatusError,
				DispatchTo: dispatch.RouteNone,
				Contract:   dispatch.NewContract(),
				Code:       dispatch.CodeInputInvalid,
				Message:    "missing or invalid admin token",
			})
			return
		}
		next(w, r)
	}
}

func (s *Server) adminToken() string {
	env, err := config.LoadEnvFile(s.cfg.EnvFilePath())
	if err != nil {
		return ""
	}
	return env.Get("WIZARD_ADMIN_TOKEN")
}

// dispatchRequest is the POST /api/dispatch body.
type dispatchRequest struct {
	Input       string `json:"input"`
	Confirm     bool   `json:"confirm"`
	DryRun      bool   `json:"dry_run"`
	Debug       bool   `json:"debug"`
	LogRawInput bool   `json:"log_raw_input"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, &dispatch.Response{
			Status:     dispatch.StatusError,
			DispatchTo: dispatch.RouteNone,
			Contract:   dispatch.NewContract(),
			Code:       dispatch.CodeInputInvalid,
			Message:    "malformed request body",
		})
		return
	}

	resp := s.engine.Dispatch(r.Context(), &dispatch.Request{
		Input:       body.Input,
		Caller:      dispatch.CallerHTTP,
		Confirm:     body.Confirm,
		DryRun:      body.DryRun,
		Debug:       body.Debug,
		LogRawInput: body.LogRawInput,
	})
	writeEnvelope(w, httpStatusFor(resp), resp)
}

func (s *Server) handleContractStatus(w http.ResponseWriter, _ *http.Request) {
	report, err := s.engine.ContractStatus()
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, internalEnvelope(err))
		return
	}
	resp := &dispatch.Response{
		Status:     dispatch.StatusSuccess,
		DispatchTo: dispatch.RouteNone,
		Contract:   dispatch.NewContract(),
		Payload:    reportPayload(report),
	}
	if !report.OK {
		resp.Status = dispatch.StatusError
		resp.Code = dispatch.CodeContractDrift
		resp.Message = "contract drift detected"
	}
	writeEnvelope(w, http.StatusOK, resp)
}

func (s *Server) handleContractRepair(w http.ResponseWriter, _ *http.Request) {
	report, err := s.engine.RepairContract()
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, internalEnvelope(err))
		return
	}
	resp := &dispatch.Response{
		Status:     dispatch.StatusSuccess,
		DispatchTo: dispatch.RouteNone,
		Contract:   dispatch.NewContract(),
		Payload:    reportPayload(report),
	}
	status := http.StatusOK
	if !report.OK {
		status = http.StatusServiceUnavailable
		resp.Status = dispatch.StatusError
		resp.Code = dispatch.CodeContractUnrepairable
		resp.Message = "residual drift after repair"
	}
	writeEnvelope(w, status, resp)
}

// reportPayload embeds a pre-encoded status or repair report in the
// envelope payload.
func reportPayload(report interface{}) dispatch.Payload {
	data, err := json.Marshal(report)
	if err != nil {
		return dispatch.Payload{}
	}
	return dispatch.Payload{Report: data}
}

func internalEnvelope(err error) *dispatch.Response {
	return &dispatch.Response{
		Status:     dispatch.StatusError,
		DispatchTo: dispatch.RouteNone,
		Contract:   dispatch.NewContract(),
		Code:       dispatch.CodeInternal,
		Message:    err.Error(),
	}
}

// httpStatusFor maps a dispatch response to its HTTP status: 200 for
// success/skipped, 409 for the confirmation gate, 400 for input errors,
// 502 for provider failures, 503 for an unrepairable contract.
func httpStatusFor(resp *dispatch.Response) int {
	if resp.Status == dispatch.StatusPending {
		return http.StatusConflict
	}
	if resp.Status != dispatch.StatusError {
		return http.StatusOK
	}
	switch resp.Code {
	case dispatch.CodeInputInvalid, dispatch.CodeNoMatch, dispatch.CodeShellBlocked:
		return http.StatusBadRequest
	case dispatch.CodeConfirmationRequired:
		return http.StatusConflict
	case dispatch.CodeProviderMissingAuth, dispatch.CodeProviderAuthError,
		dispatch.CodeProviderRateLimit, dispatch.CodeProviderUnreachable,
		dispatch.CodeProviderInvalidResponse:
		return http.StatusBadGateway
	case dispatch.CodeContractUnrepairable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, resp *dispatch.Response) {
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
