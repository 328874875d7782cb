// HTTP surface for the policy gateway.
//
// DESIGN: Thin layer over Gateway.Handle:
//   - POST /v1/generate     one generation request
//   - GET  /healthz         health with a ledger probe
//   - GET  /v1/usage        current-window usage and per-model totals
//   - GET  /v1/audit/stream live audit tail over WebSocket
//   - GET  /metrics         Prometheus metrics
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollgate/policy-gateway/internal/budget"
	"github.com/tollgate/policy-gateway/internal/guardrails"
	"github.com/tollgate/policy-gateway/internal/ledger"
)

// MaxRequestBodySize caps a generate request body.
const MaxRequestBodySize = 4 * 1024 * 1024

// PolicyResolver maps a caller to its budget policy. Policies live in
// configuration; the handler resolves them per request.
type PolicyResolver func(callerID string) budget.Policy

// Server exposes the gateway over HTTP.
type Server struct {
	gw       *Gateway
	ledger   *ledger.Ledger
	policies PolicyResolver
	registry *prometheus.Registry
}

// NewServer wires the HTTP surface. registry may be nil to disable /metrics.
func NewServer(gw *Gateway, led *ledger.Ledger, policies PolicyResolver, registry *prometheus.Registry) *Server {
	return &Server{gw: gw, ledger: led, policies: policies, registry: registry}
}

// Routes returns the gateway mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate", s.handleGenerate)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/audit/stream", s.handleAuditStream)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// generateRequest is the wire shape of one generation request.
type generateRequest struct {
	Prompt     string            `json:"prompt"`
	CallerID   string            `json:"caller_id"`
	Guardrails guardrails.Config `json:"guardrails"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" || req.CallerID == "" {
		s.writeError(w, "prompt and caller_id are required", http.StatusBadRequest)
		return
	}
	if req.Guardrails.RBACLevel != "" && !validRBACLevel(req.Guardrails.RBACLevel) {
		s.writeError(w, "unrecognized rbac_level", http.StatusBadRequest)
		return
	}

	resp, err := s.gw.Handle(r.Context(), Request{
		Prompt:     req.Prompt,
		CallerID:   req.CallerID,
		Guardrails: req.Guardrails,
		Policy:     s.policies(req.CallerID),
	})
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleHealth returns gateway health status with a live ledger probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}

	if err := s.ledger.Probe(r.Context()); err != nil {
		health["status"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if health["status"] != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// handleUsage reports the current window per caller plus lifetime per-model
// totals.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	models, err := s.ledger.ModelTotals(r.Context())
	if err != nil {
		s.writeError(w, "usage store unavailable", http.StatusServiceUnavailable)
		return
	}

	callers := s.ledger.Snapshot()
	if callers == nil {
		callers = []ledger.UsageRecord{}
	}
	if models == nil {
		models = []ledger.ModelTotals{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"callers": callers,
		"models":  models,
	})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "gateway_error"},
	})
}

// writeGatewayError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	ge, ok := AsGatewayError(err)
	if !ok {
		s.writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch ge.Kind {
	case KindBudgetExceeded:
		status = http.StatusPaymentRequired
	case KindGuardrailRejected, KindMalformedResponse:
		status = http.StatusUnprocessableEntity
	case KindBackendFailure:
		status = http.StatusBadGateway
	case KindLedgerUnavailable:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": ge})
}

func validRBACLevel(level guardrails.RBACLevel) bool {
	switch level {
	case guardrails.RBACNone, guardrails.RBACReadOnly, guardrails.RBACAdmin:
		return true
	}
	return false
}
