package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

func validParams() model.RequestParams {
	return model.RequestParams{
		DeployType:       model.DeployTypeBranch,
		Branch:           "main",
		Environment:      "staging",
		TargetURL:        "https://staging.example.com",
		Bucket:           "example-site",
		DeploymentPrefix: "/docs/",
		UseCleanInstall:  true,
	}
}

func TestNewDeploymentRequest_Branch(t *testing.T) {
	req, err := model.NewDeploymentRequest(validParams())

	require.NoError(t, err)
	assert.Equal(t, model.DeployTypeBranch, req.DeployType())
	assert.Equal(t, model.BranchSource{Name: "main"}, req.Source())
	assert.Equal(t, "docs", req.DeploymentPrefix())
	assert.Equal(t, model.DefaultBuildFolder, req.BuildFolder())
	assert.True(t, req.UseCleanInstall())
}

func TestNewDeploymentRequest_PullRequest(t *testing.T) {
	p := validParams()
	p.DeployType = model.DeployTypePullRequest
	p.Branch = ""
	p.PullRequestNumber = 42
	p.MergePullRequest = true

	req, err := model.NewDeploymentRequest(p)

	require.NoError(t, err)
	assert.Equal(t, model.PullRequestSource{Number: 42, MergeIntoBase: true}, req.Source())
	assert.Equal(t, "#42", req.Source().Label())
}

func TestNewDeploymentRequest_SelectorMismatch(t *testing.T) {
	p := validParams()
	p.DeployType = model.DeployTypeTag

	_, err := model.NewDeploymentRequest(p)

	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	assert.Contains(t, err.Error(), "commit_tag is required")
}

func TestNewDeploymentRequest_MultipleSelectors(t *testing.T) {
	p := validParams()
	p.Tag = "v1.0.0"

	_, err := model.NewDeploymentRequest(p)

	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "only one of")
}

func TestNewDeploymentRequest_MissingRequired(t *testing.T) {
	_, err := model.NewDeploymentRequest(model.RequestParams{DeployType: model.DeployTypeBranch, Branch: "main"})

	require.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, err.Error(), "environment is required")
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestNewDeploymentRequest_MergeOnlyForPR(t *testing.T) {
	p := validParams()
	p.MergePullRequest = true

	_, err := model.NewDeploymentRequest(p)

	require.ErrorIs(t, err, model.ErrConfiguration)
}

func TestParseDeployType(t *testing.T) {
	for in, want := range map[string]model.DeployType{
		"from-branch": model.DeployTypeBranch,
		"from_pr":     model.DeployTypePullRequest,
		"from-tag":    model.DeployTypeTag,
	} {
		got, err := model.ParseDeployType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := model.ParseDeployType("from-commit")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestDeploymentStatus_Transitions(t *testing.T) {
	assert.True(t, model.DeploymentStatusPending.CanTransitionTo(model.DeploymentStatusInProgress))
	assert.True(t, model.DeploymentStatusPending.CanTransitionTo(model.DeploymentStatusFailure))
	assert.True(t, model.DeploymentStatusInProgress.CanTransitionTo(model.DeploymentStatusSuccess))
	assert.False(t, model.DeploymentStatusInProgress.CanTransitionTo(model.DeploymentStatusPending))
	assert.False(t, model.DeploymentStatusInProgress.CanTransitionTo(model.DeploymentStatusInProgress))
	assert.False(t, model.DeploymentStatusSuccess.CanTransitionTo(model.DeploymentStatusFailure))
	assert.False(t, model.DeploymentStatusError.CanTransitionTo(model.DeploymentStatusSuccess))
}

func TestIsKnown(t *testing.T) {
	pubErr := &model.PublishError{Succeeded: []string{"a"}, Failed: []string{"b"}, Err: errors.New("timeout")}

	assert.True(t, model.IsKnown(pubErr))
	assert.True(t, errors.Is(pubErr, model.ErrPublish))
	assert.True(t, model.IsKnown(errors.Join(errors.New("ctx"), model.ErrBuildCommand)))
	assert.False(t, model.IsKnown(errors.New("boom")))
	assert.False(t, model.IsKnown(model.ErrCachePurge))
	assert.Contains(t, pubErr.Error(), "1 object(s) failed")
}
