// Package application contains the deployment pipeline and the services it
// sequences.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// RefResolver turns a source selector into a concrete commit.
type RefResolver struct {
	source driven.RefSource
}

// NewRefResolver creates a RefResolver backed by the given ref source.
func NewRefResolver(source driven.RefSource) *RefResolver {
	return &RefResolver{source: source}
}

// Resolve resolves the request's source. Missing refs and non-open pull
// requests wrap model.ErrRefResolution; merge conflicts wrap
// model.ErrMergeConflict. Other ref source errors are returned as-is.
func (r *RefResolver) Resolve(ctx context.Context, req model.DeploymentRequest) (model.ResolvedRef, error) {
	switch src := req.Source().(type) {
	case model.BranchSource:
		return r.resolveBranch(ctx, src)
	case model.PullRequestSource:
		return r.resolvePullRequest(ctx, src)
	case model.TagSource:
		return r.resolveTag(ctx, src)
	default:
		return model.ResolvedRef{}, fmt.Errorf("%w: unsupported source %T", model.ErrConfiguration, src)
	}
}

func (r *RefResolver) resolveBranch(ctx context.Context, src model.BranchSource) (model.ResolvedRef, error) {
	sha, err := r.source.BranchHead(ctx, src.Name)
	if err != nil {
		return model.ResolvedRef{}, mapRefError(err, "branch %q", src.Name)
	}

	slog.Info("resolved branch", "branch", src.Name, "sha", sha)
	return model.ResolvedRef{CommitSHA: sha, RefLabel: src.Name}, nil
}

func (r *RefResolver) resolvePullRequest(ctx context.Context, src model.PullRequestSource) (model.ResolvedRef, error) {
	pr, err := r.source.PullRequest(ctx, src.Number)
	if err != nil {
		return model.ResolvedRef{}, mapRefError(err, "pull request #%d", src.Number)
	}
	if !pr.Open {
		return model.ResolvedRef{}, fmt.Errorf("%w: pull request #%d is not open", model.ErrRefResolution, src.Number)
	}

	ref := model.ResolvedRef{CommitSHA: pr.HeadSHA, RefLabel: src.Label()}
	if !src.MergeIntoBase {
		slog.Info("resolved pull request", "number", src.Number, "sha", pr.HeadSHA)
		return ref, nil
	}

	sha, err := r.source.MergePullRequest(ctx, pr)
	if err != nil {
		if errors.Is(err, driven.ErrMergeConflict) {
			return model.ResolvedRef{}, fmt.Errorf("%w: pull request #%d does not merge cleanly into %s: %v",
				model.ErrMergeConflict, src.Number, pr.BaseRef, err)
		}
		return model.ResolvedRef{}, mapRefError(err, "merge of pull request #%d", src.Number)
	}

	slog.Info("resolved merged pull request",
		"number", src.Number,
		"head_sha", pr.HeadSHA,
		"base", pr.BaseRef,
		"merge_sha", sha,
	)

	ref.CommitSHA = sha
	ref.Merged = true
	return ref, nil
}

func (r *RefResolver) resolveTag(ctx context.Context, src model.TagSource) (model.ResolvedRef, error) {
	sha, err := r.source.TagCommit(ctx, src.Name)
	if err != nil {
		return model.ResolvedRef{}, mapRefError(err, "tag %q", src.Name)
	}

	slog.Info("resolved tag", "tag", src.Name, "sha", sha)
	return model.ResolvedRef{CommitSHA: sha, RefLabel: src.Name}, nil
}

// mapRefError converts driven.ErrRefNotFound into a resolution error and
// wraps everything else with context.
func mapRefError(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, driven.ErrRefNotFound) {
		return fmt.Errorf("%w: %s not found", model.ErrRefResolution, what)
	}
	return fmt.Errorf("resolving %s: %w", what, err)
}
