package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

var (
	// ErrRefNotFound is returned by RefSource when a branch, tag or pull
	// request does not exist.
	ErrRefNotFound = errors.New("ref not found")

	// ErrMergeConflict is returned by MergePullRequest when the pull request
	// cannot be merged cleanly into its base.
	ErrMergeConflict = errors.New("merge conflict")
)

// RefSource defines the driven port for resolving source selectors to commits.
type RefSource interface {
	// BranchHead returns the tip commit sha of the branch.
	BranchHead(ctx context.Context, branch string) (string, error)

	// PullRequest returns the head and base of the pull request.
	PullRequest(ctx context.Context, number int) (model.PullRequestRef, error)

	// MergePullRequest merges the pull request head into its base and returns
	// the resulting commit sha. A conflict returns ErrMergeConflict and
	// leaves no merge state behind.
	MergePullRequest(ctx context.Context, pr model.PullRequestRef) (string, error)

	// TagCommit returns the commit sha a tag points at, peeling annotated tags.
	TagCommit(ctx context.Context, tag string) (string, error)
}
