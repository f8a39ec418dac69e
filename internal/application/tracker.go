package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// mirrorTimeout bounds each write to a deployment mirror.
const mirrorTimeout = 30 * time.Second

// DeploymentTracker tracks the record of a single pipeline run in the ledger
// and mirrors every accepted transition to the configured deployment
// services. It is not safe to Open twice.
type DeploymentTracker struct {
	store   driven.DeploymentStore
	mirrors []driven.DeploymentService

	mu        sync.Mutex
	current   model.Deployment
	opened    bool
	mirrorIDs []string // parallel to mirrors; "" when creation failed.
}

// NewDeploymentTracker creates a tracker over store. Mirrors are optional.
func NewDeploymentTracker(store driven.DeploymentStore, mirrors ...driven.DeploymentService) *DeploymentTracker {
	return &DeploymentTracker{store: store, mirrors: mirrors}
}

// Open creates the pending ledger record for req.
func (t *DeploymentTracker) Open(ctx context.Context, req model.DeploymentRequest) (model.Deployment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return t.current, errors.New("deployment tracker already opened")
	}

	d, err := t.store.Create(ctx, model.Deployment{
		Environment: req.Environment(),
		DeployType:  req.DeployType(),
		Ref:         model.ResolvedRef{RefLabel: req.Source().Label()},
		TargetURL:   req.TargetURL(),
		Status:      model.DeploymentStatusPending,
		Description: "deployment requested",
	})
	if err != nil {
		return model.Deployment{}, fmt.Errorf("opening deployment record: %w", err)
	}

	t.current = d
	t.opened = true
	slog.Info("deployment opened", "id", d.ID, "environment", d.Environment, "deploy_type", d.DeployType)
	return d, nil
}

// Current returns a copy of the tracked record.
func (t *DeploymentTracker) Current() model.Deployment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// AttachRef records the resolved ref and creates the mirror deployments.
// Mirror failures are logged and do not fail the call.
func (t *DeploymentTracker) AttachRef(ctx context.Context, ref model.ResolvedRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return errors.New("deployment tracker not opened")
	}

	t.mirrorIDs = make([]string, len(t.mirrors))
	for i, m := range t.mirrors {
		mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
		id, err := m.Create(mctx, t.current.Environment, ref, t.current.Description)
		cancel()
		if err != nil {
			slog.Warn("failed to create mirror deployment", "id", t.current.ID, "error", err)
			continue
		}
		t.mirrorIDs[i] = id
	}

	remoteID := ""
	for _, id := range t.mirrorIDs {
		if id != "" {
			remoteID = id
			break
		}
	}

	if err := t.store.SetRef(ctx, t.current.ID, ref, remoteID); err != nil {
		return fmt.Errorf("recording resolved ref: %w", err)
	}
	t.current.Ref = ref
	t.current.RemoteID = remoteID

	for i := range t.mirrors {
		t.mirror(ctx, i, model.DeploymentStatusPending, t.current.Description)
	}
	return nil
}

// MarkInProgress records that the build has begun.
func (t *DeploymentTracker) MarkInProgress(ctx context.Context) error {
	_, err := t.UpdateStatus(ctx, model.DeploymentStatusInProgress, "build started")
	return err
}

// Finish writes the terminal status. Only the first terminal write is kept.
func (t *DeploymentTracker) Finish(ctx context.Context, status model.DeploymentStatus, description string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finish with non-terminal status %q", status)
	}
	return t.UpdateStatus(ctx, status, description)
}

// UpdateStatus moves the record forward. Writes after a terminal status and
// regressions are no-ops and report false.
func (t *DeploymentTracker) UpdateStatus(ctx context.Context, status model.DeploymentStatus, description string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.opened {
		return false, errors.New("deployment tracker not opened")
	}

	if !t.current.Status.CanTransitionTo(status) {
		slog.Debug("ignoring deployment status write",
			"id", t.current.ID,
			"current", t.current.Status,
			"requested", status,
		)
		return false, nil
	}

	applied, err := t.store.UpdateStatus(ctx, t.current.ID, status, description)
	if err != nil {
		return false, fmt.Errorf("updating deployment %s to %s: %w", t.current.ID, status, err)
	}
	if !applied {
		return false, nil
	}

	t.current.Status = status
	t.current.Description = description
	t.current.UpdatedAt = time.Now().UTC()
	slog.Info("deployment status", "id", t.current.ID, "status", status, "description", description)

	for i := range t.mirrorIDs {
		t.mirror(ctx, i, status, description)
	}
	return true, nil
}

// mirror must be called with mu held.
func (t *DeploymentTracker) mirror(ctx context.Context, i int, status model.DeploymentStatus, description string) {
	id := t.mirrorIDs[i]
	if id == "" {
		return
	}

	// Terminal writes must reach the mirror even when the run was cancelled.
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()

	err := t.mirrors[i].UpdateStatus(mctx, id, driven.DeploymentStatusUpdate{
		Status:         status,
		Description:    description,
		EnvironmentURL: t.current.TargetURL,
	})
	if err != nil {
		slog.Warn("failed to mirror deployment status", "id", t.current.ID, "remote_id", id, "status", status, "error", err)
	}
}

// Classify maps a pipeline failure to the terminal status it produces.
// buildStarted distinguishes a cancellation during the run (error) from one
// while the record is still pending, which returns "" (no terminal write).
// An expired approval timeout is a decided outcome and classifies as failure.
func Classify(err error, buildStarted bool) model.DeploymentStatus {
	switch {
	case err == nil:
		return model.DeploymentStatusSuccess
	case errors.Is(err, ErrApprovalTimeout):
		return model.DeploymentStatusFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, model.ErrApprovalCancelled):
		if !buildStarted {
			return ""
		}
		return model.DeploymentStatusError
	case model.IsKnown(err):
		return model.DeploymentStatusFailure
	default:
		return model.DeploymentStatusError
	}
}
