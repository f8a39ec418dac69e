package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RefSource = (*Client)(nil)

// maxTagDepth bounds how many annotated tags are peeled (tags of tags).
const maxTagDepth = 5

// BranchHead returns the tip commit of branch.
func (c *Client) BranchHead(ctx context.Context, branch string) (string, error) {
	b, resp, err := c.gh.Repositories.GetBranch(ctx, c.owner, c.repo, branch, 1)
	if err != nil {
		if isNotFound(resp, err) {
			return "", fmt.Errorf("branch %q: %w", branch, driven.ErrRefNotFound)
		}
		return "", fmt.Errorf("fetching branch %s of %s: %w", branch, c.Repository(), err)
	}

	logRateLimit(resp, c.Repository()+"/branch", 0, 1)
	return b.GetCommit().GetSHA(), nil
}

// PullRequest returns the head commit and state of a pull request.
func (c *Client) PullRequest(ctx context.Context, number int) (model.PullRequestRef, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		if isNotFound(resp, err) {
			return model.PullRequestRef{}, fmt.Errorf("pull request #%d: %w", number, driven.ErrRefNotFound)
		}
		return model.PullRequestRef{}, fmt.Errorf("fetching pull request %s#%d: %w", c.Repository(), number, err)
	}

	logRateLimit(resp, c.Repository()+"/pull", 0, 1)
	return mapPullRequest(pr), nil
}

// MergePullRequest returns the commit of GitHub's test merge of the pull
// request into its base branch. Nothing is written to the repository: the
// test merge is the ephemeral refs/pull/N/merge commit GitHub maintains.
// A non-mergeable pull request returns driven.ErrMergeConflict.
func (c *Client) MergePullRequest(ctx context.Context, pr model.PullRequestRef) (string, error) {
	ticker := time.NewTicker(c.mergePollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		current, resp, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, pr.Number)
		if err != nil {
			return "", fmt.Errorf("fetching mergeability of %s#%d: %w", c.Repository(), pr.Number, err)
		}
		logRateLimit(resp, c.Repository()+"/pull-mergeable", attempt, 1)

		if current.GetHead().GetSHA() != pr.HeadSHA && pr.HeadSHA != "" {
			slog.Warn("pull request head moved while resolving",
				"number", pr.Number,
				"resolved", pr.HeadSHA,
				"current", current.GetHead().GetSHA(),
			)
		}

		switch {
		case current.Mergeable == nil:
			// Not computed yet.
		case !current.GetMergeable():
			return "", fmt.Errorf("%w: %s#%d into %s (state %s)",
				driven.ErrMergeConflict, c.Repository(), pr.Number, current.GetBase().GetRef(), current.GetMergeableState())
		case current.GetMergeCommitSHA() == "":
			return "", fmt.Errorf("github reported %s#%d mergeable without a merge commit", c.Repository(), pr.Number)
		default:
			return current.GetMergeCommitSHA(), nil
		}

		if attempt >= c.mergePollAttempts {
			return "", fmt.Errorf("mergeability of %s#%d not computed after %d attempts", c.Repository(), pr.Number, attempt)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// TagCommit returns the commit a tag points at, peeling annotated tags.
func (c *Client) TagCommit(ctx context.Context, tag string) (string, error) {
	ref, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "tags/"+tag)
	if err != nil {
		if isNotFound(resp, err) {
			return "", fmt.Errorf("tag %q: %w", tag, driven.ErrRefNotFound)
		}
		return "", fmt.Errorf("fetching tag %s of %s: %w", tag, c.Repository(), err)
	}
	logRateLimit(resp, c.Repository()+"/tag-ref", 0, 1)

	obj := ref.GetObject()
	for depth := 0; obj.GetType() == "tag"; depth++ {
		if depth >= maxTagDepth {
			return "", fmt.Errorf("tag %s nests more than %d annotated tags", tag, maxTagDepth)
		}
		annotated, resp, err := c.gh.Git.GetTag(ctx, c.owner, c.repo, obj.GetSHA())
		if err != nil {
			return "", fmt.Errorf("peeling annotated tag %s: %w", tag, err)
		}
		logRateLimit(resp, c.Repository()+"/tag", depth, 1)
		obj = annotated.GetObject()
	}

	if obj.GetType() != "commit" {
		return "", fmt.Errorf("tag %s points at a %s, not a commit: %w", tag, obj.GetType(), driven.ErrRefNotFound)
	}
	return obj.GetSHA(), nil
}

// mapPullRequest converts a go-github PullRequest to a PullRequestRef.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest) model.PullRequestRef {
	return model.PullRequestRef{
		Number:  pr.GetNumber(),
		HeadSHA: pr.GetHead().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		Open:    pr.GetState() == "open",
	}
}
