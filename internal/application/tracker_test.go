package application_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/application"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

func TestTracker_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	mirror := &mockDeploymentService{}
	tracker := application.NewDeploymentTracker(ledger, mirror)

	req := mustRequest(t, model.RequestParams{DeployType: model.DeployTypeBranch, Branch: "main", TargetURL: "https://staging.acme.dev"})
	d, err := tracker.Open(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStatusPending, d.Status)

	ref := model.ResolvedRef{CommitSHA: "abc", RefLabel: "main"}
	require.NoError(t, tracker.AttachRef(ctx, ref))
	require.NoError(t, tracker.MarkInProgress(ctx))

	applied, err := tracker.Finish(ctx, model.DeploymentStatusSuccess, "done")
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.DeploymentStatusSuccess, stored.Status)
	assert.Equal(t, ref, stored.Ref)
	assert.Equal(t, "remote-42", stored.RemoteID)

	assert.Equal(t, []model.DeploymentStatus{
		model.DeploymentStatusPending,
		model.DeploymentStatusInProgress,
		model.DeploymentStatusSuccess,
	}, ledger.statuses(d.ID))

	var mirrored []model.DeploymentStatus
	for _, u := range mirror.updates {
		mirrored = append(mirrored, u.Status)
	}
	assert.Equal(t, []model.DeploymentStatus{
		model.DeploymentStatusPending,
		model.DeploymentStatusInProgress,
		model.DeploymentStatusSuccess,
	}, mirrored)
}

func TestTracker_TerminalWritesAreFinal(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	tracker := application.NewDeploymentTracker(ledger)

	d, err := tracker.Open(ctx, mustRequest(t, model.RequestParams{DeployType: model.DeployTypeTag, Tag: "v1"}))
	require.NoError(t, err)

	applied, err := tracker.Finish(ctx, model.DeploymentStatusFailure, "build failed")
	require.NoError(t, err)
	assert.True(t, applied)

	for _, s := range []model.DeploymentStatus{
		model.DeploymentStatusSuccess,
		model.DeploymentStatusError,
		model.DeploymentStatusInProgress,
		model.DeploymentStatusPending,
	} {
		applied, err := tracker.UpdateStatus(ctx, s, "late")
		require.NoError(t, err)
		assert.False(t, applied, s)
	}

	assert.Equal(t, model.DeploymentStatusFailure, tracker.Current().Status)
	assert.Equal(t, []model.DeploymentStatus{model.DeploymentStatusPending, model.DeploymentStatusFailure}, ledger.statuses(d.ID))
}

func TestTracker_RegressionIsNoop(t *testing.T) {
	ctx := context.Background()
	tracker := application.NewDeploymentTracker(newMemoryLedger())
	_, err := tracker.Open(ctx, mustRequest(t, model.RequestParams{DeployType: model.DeployTypeBranch, Branch: "main"}))
	require.NoError(t, err)
	require.NoError(t, tracker.MarkInProgress(ctx))

	applied, err := tracker.UpdateStatus(ctx, model.DeploymentStatusPending, "back")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, model.DeploymentStatusInProgress, tracker.Current().Status)
}

func TestTracker_FinishRejectsNonTerminal(t *testing.T) {
	tracker := application.NewDeploymentTracker(newMemoryLedger())
	_, err := tracker.Open(context.Background(), mustRequest(t, model.RequestParams{DeployType: model.DeployTypeBranch, Branch: "main"}))
	require.NoError(t, err)

	_, err = tracker.Finish(context.Background(), model.DeploymentStatusInProgress, "")
	assert.Error(t, err)
}

func TestTracker_MirrorFailureDoesNotFail(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	mirror := &mockDeploymentService{createErr: errors.New("403 resource not accessible")}
	tracker := application.NewDeploymentTracker(ledger, mirror)

	d, err := tracker.Open(ctx, mustRequest(t, model.RequestParams{DeployType: model.DeployTypeBranch, Branch: "main"}))
	require.NoError(t, err)
	require.NoError(t, tracker.AttachRef(ctx, model.ResolvedRef{CommitSHA: "abc", RefLabel: "main"}))
	require.NoError(t, tracker.MarkInProgress(ctx))

	stored, err := ledger.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.RemoteID)
	assert.Empty(t, mirror.updates)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		buildStarted bool
		want         model.DeploymentStatus
	}{
		{name: "nil", err: nil, want: model.DeploymentStatusSuccess},
		{name: "known kind", err: fmt.Errorf("%w: exit 1", model.ErrBuildCommand), buildStarted: true, want: model.DeploymentStatusFailure},
		{name: "rejected", err: fmt.Errorf("%w by bob", model.ErrApprovalRejected), want: model.DeploymentStatusFailure},
		{name: "unknown fault", err: errors.New("nil pointer"), buildStarted: true, want: model.DeploymentStatusError},
		{name: "cancelled after build started", err: context.Canceled, buildStarted: true, want: model.DeploymentStatusError},
		{name: "deadline after build started", err: context.DeadlineExceeded, buildStarted: true, want: model.DeploymentStatusError},
		{name: "cancelled at gate", err: fmt.Errorf("%w: %w", model.ErrApprovalCancelled, context.Canceled), want: ""},
		{name: "approval timeout", err: fmt.Errorf("%w: %w", model.ErrApprovalCancelled, application.ErrApprovalTimeout), want: model.DeploymentStatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, application.Classify(tt.err, tt.buildStarted))
		})
	}
}
