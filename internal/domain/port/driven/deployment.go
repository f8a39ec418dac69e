package driven

import (
	"context"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// DeploymentStore defines the driven port for the deployment ledger, the
// system of record for tracked deployments.
type DeploymentStore interface {
	// Create persists d and returns it with ID and timestamps assigned.
	Create(ctx context.Context, d model.Deployment) (model.Deployment, error)

	// SetRef records the resolved ref and the mirror id of a deployment.
	SetRef(ctx context.Context, id string, ref model.ResolvedRef, remoteID string) error

	// UpdateStatus moves the deployment to status. It returns false without
	// writing when the stored status is terminal or the move is a regression.
	UpdateStatus(ctx context.Context, id string, status model.DeploymentStatus, description string) (bool, error)

	// Get returns the deployment, or nil if it does not exist.
	Get(ctx context.Context, id string) (*model.Deployment, error)

	// List returns the most recent deployments, newest first. An empty
	// environment lists all environments.
	List(ctx context.Context, environment string, limit int) ([]model.Deployment, error)

	// Events returns the accepted status transitions of a deployment in order.
	Events(ctx context.Context, id string) ([]model.StatusEvent, error)
}

// DeploymentStatusUpdate carries the optional fields of a mirrored status write.
type DeploymentStatusUpdate struct {
	Status         model.DeploymentStatus
	Description    string
	EnvironmentURL string
	LogURL         string
}

// DeploymentService defines the driven port for an external deployment
// tracking service (e.g. GitHub Deployments).
type DeploymentService interface {
	// Create opens a deployment of ref to environment and returns its id.
	Create(ctx context.Context, environment string, ref model.ResolvedRef, description string) (string, error)

	// UpdateStatus records a status on the deployment.
	UpdateStatus(ctx context.Context, id string, update DeploymentStatusUpdate) error
}
