package driven

import (
	"context"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// ApprovalChannel defines the driven port through which approvers are asked
// for a decision and through which their decisions are collected.
type ApprovalChannel interface {
	// Request opens an approval request visible to the approvers.
	Request(ctx context.Context, req model.ApprovalRequest) (model.ApprovalHandle, error)

	// Poll returns the actions recorded on the handle so far, oldest first.
	// The gate filters identities; channels report every actor.
	Poll(ctx context.Context, handle model.ApprovalHandle) ([]model.ApprovalAction, error)

	// Resolve closes the request once the gate reached a terminal state.
	Resolve(ctx context.Context, handle model.ApprovalHandle, state model.ApprovalState, decidedBy string) error
}
