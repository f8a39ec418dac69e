package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ApprovalResponse is the JSON representation of the approval gate.
type ApprovalResponse struct {
	State     string   `json:"state"`
	DecidedBy string   `json:"decided_by,omitempty"`
	Approvers []string `json:"approvers"`
}

// DecisionRequest is the JSON body of the approve and reject endpoints.
type DecisionRequest struct {
	Approver string `json:"approver"`
}

// DeploymentResponse is the JSON representation of a ledger entry.
type DeploymentResponse struct {
	ID          string          `json:"id"`
	Environment string          `json:"environment"`
	DeployType  string          `json:"deploy_type"`
	Ref         string          `json:"ref"`
	CommitSHA   string          `json:"commit_sha"`
	Merged      bool            `json:"merged"`
	TargetURL   string          `json:"target_url"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	RemoteID    string          `json:"remote_id,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	Events      []EventResponse `json:"events,omitempty"`
}

// EventResponse is one accepted status transition.
type EventResponse struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	At          string `json:"at"`
}

// ToDeploymentResponse converts a ledger entry to its JSON representation.
func ToDeploymentResponse(d model.Deployment) DeploymentResponse {
	return DeploymentResponse{
		ID:          d.ID,
		Environment: d.Environment,
		DeployType:  string(d.DeployType),
		Ref:         d.Ref.RefLabel,
		CommitSHA:   d.Ref.CommitSHA,
		Merged:      d.Ref.Merged,
		TargetURL:   d.TargetURL,
		Status:      string(d.Status),
		Description: d.Description,
		RemoteID:    d.RemoteID,
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ToEventResponse converts a status event to its JSON representation.
func ToEventResponse(e model.StatusEvent) EventResponse {
	return EventResponse{
		Status:      string(e.Status),
		Description: e.Description,
		At:          e.At.UTC().Format(time.RFC3339),
	}
}
