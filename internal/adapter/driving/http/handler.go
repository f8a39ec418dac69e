// Package httphandler is the HTTP driving adapter: it lets approvers decide
// a pending deployment over HTTP and exposes the deployment ledger.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/staticdeploy/internal/application"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// ApprovalGate is the part of the approval state machine the handler drives.
type ApprovalGate interface {
	State() model.ApprovalState
	DecidedBy() string
	Approvers() []string
	Approve(identity string) (model.ApprovalState, error)
	Reject(identity string) (model.ApprovalState, error)
}

// Compile-time interface satisfaction check.
var _ ApprovalGate = (*application.ApprovalGate)(nil)

// maxListLimit caps the history page size.
const maxListLimit = 200

// HealthPath is the only route served without a bearer token.
const HealthPath = "/api/v1/health"

// DefaultHealthAddr is checked when the listen address is unset or invalid.
const DefaultHealthAddr = "127.0.0.1:8080"

// Handler serves the approval and history API.
type Handler struct {
	gate   ApprovalGate
	store  driven.DeploymentStore
	logger *slog.Logger
}

// NewHandler creates a Handler. gate is nil when the server runs without a
// deployment in flight; store is nil when no ledger is configured.
func NewHandler(gate ApprovalGate, store driven.DeploymentStore, logger *slog.Logger) *Handler {
	return &Handler{gate: gate, store: store, logger: logger}
}

// RegisterAPIRoutes registers every API route on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET "+HealthPath, h.Health)
	mux.HandleFunc("GET /api/v1/approval", h.GetApproval)
	mux.HandleFunc("POST /api/v1/approval/approve", h.Approve)
	mux.HandleFunc("POST /api/v1/approval/reject", h.Reject)
	mux.HandleFunc("GET /api/v1/deployments", h.ListDeployments)
	mux.HandleFunc("GET /api/v1/deployments/{id}", h.GetDeployment)
}

// ApplyMiddleware wraps next with auth, recovery and request logging.
func ApplyMiddleware(next http.Handler, logger *slog.Logger, token string) http.Handler {
	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, next)
	wrapped = authMiddleware(token, logger, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	return wrapped
}

// NewServer builds the HTTP server for addr with the full route set.
func NewServer(addr string, h *Handler, logger *slog.Logger, token string) *http.Server {
	mux := http.NewServeMux()
	RegisterAPIRoutes(mux, h)

	return &http.Server{
		Addr:              addr,
		Handler:           ApplyMiddleware(mux, logger, token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// HealthURL returns the health endpoint of a server bound to listenAddr,
// reached over loopback when the server binds every interface.
func HealthURL(listenAddr string) string {
	addr := DefaultHealthAddr
	if host, port, err := net.SplitHostPort(listenAddr); err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr + HealthPath
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// GetApproval returns the current gate state.
func (h *Handler) GetApproval(w http.ResponseWriter, _ *http.Request) {
	if h.gate == nil {
		writeError(w, http.StatusNotFound, "no deployment is awaiting approval")
		return
	}
	writeJSON(w, http.StatusOK, h.approvalResponse())
}

// Approve records an approval.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionApprove)
}

// Reject records a rejection.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision model.ApprovalDecision) {
	if h.gate == nil {
		writeError(w, http.StatusNotFound, "no deployment is awaiting approval")
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Approver = strings.TrimSpace(req.Approver)
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}

	if state := h.gate.State(); state != model.ApprovalPending {
		writeJSON(w, http.StatusConflict, h.approvalResponse())
		return
	}

	var err error
	if decision == model.DecisionApprove {
		_, err = h.gate.Approve(req.Approver)
	} else {
		_, err = h.gate.Reject(req.Approver)
	}
	if errors.Is(err, application.ErrNotApprover) {
		h.logger.Warn("approval decision from non-approver", "identity", req.Approver, "decision", decision)
		writeError(w, http.StatusForbidden, "identity is not an approver")
		return
	}
	if err != nil {
		h.logger.Error("failed to apply approval decision", "identity", req.Approver, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("approval decision received", "identity", req.Approver, "decision", decision, "state", h.gate.State())
	writeJSON(w, http.StatusOK, h.approvalResponse())
}

func (h *Handler) approvalResponse() ApprovalResponse {
	return ApprovalResponse{
		State:     string(h.gate.State()),
		DecidedBy: h.gate.DecidedBy(),
		Approvers: h.gate.Approvers(),
	}
}

// ListDeployments returns the newest ledger entries. Query parameters:
// environment (optional) and limit (default 20, max 200).
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "deployment ledger is not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	deployments, err := h.store.List(r.Context(), r.URL.Query().Get("environment"), limit)
	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]DeploymentResponse, 0, len(deployments))
	for _, d := range deployments {
		resp = append(resp, ToDeploymentResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDeployment returns one ledger entry with its status events.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "deployment ledger is not configured")
		return
	}
	id := r.PathValue("id")

	d, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get deployment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "deployment not found")
		return
	}

	events, err := h.store.Events(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list deployment events", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ToDeploymentResponse(*d)
	resp.Events = make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp.Events = append(resp.Events, ToEventResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
