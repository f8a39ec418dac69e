// Package git implements the ref source port against a local clone using the
// git command line.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RefSource = (*Repository)(nil)

// Options configures a Repository.
type Options struct {
	// Remote is fetched before resolving. Empty resolves local refs only.
	Remote string
	// BaseBranch is the branch pull requests merge into. Defaults to "main".
	BaseBranch string
}

// Repository resolves refs in the clone at Dir.
type Repository struct {
	dir        string
	remote     string
	baseBranch string
}

// NewRepository creates a Repository for the clone at dir.
func NewRepository(dir string, opts Options) *Repository {
	if opts.BaseBranch == "" {
		opts.BaseBranch = "main"
	}
	return &Repository{dir: dir, remote: opts.Remote, baseBranch: opts.BaseBranch}
}

// BranchHead returns the tip of branch, fetched from the remote when one is configured.
func (r *Repository) BranchHead(ctx context.Context, branch string) (string, error) {
	if r.remote != "" {
		if err := r.fetch(ctx, branch); err != nil {
			return "", err
		}
		return r.revParse(ctx, "refs/remotes/"+r.remote+"/"+branch, "branch "+branch)
	}
	return r.revParse(ctx, "refs/heads/"+branch, "branch "+branch)
}

// PullRequest fetches the pull request head from the remote (GitHub exposes
// it as pull/N/head). A local clone cannot tell whether the pull request is
// still open, so it is reported open.
func (r *Repository) PullRequest(ctx context.Context, number int) (model.PullRequestRef, error) {
	local := prRef(number)
	if r.remote == "" {
		return model.PullRequestRef{}, fmt.Errorf("resolving pull request #%d requires a remote", number)
	}
	if _, err := r.run(ctx, "fetch", "--quiet", r.remote, fmt.Sprintf("+pull/%d/head:%s", number, local)); err != nil {
		if isMissingRef(err) {
			return model.PullRequestRef{}, fmt.Errorf("pull request #%d: %w", number, driven.ErrRefNotFound)
		}
		return model.PullRequestRef{}, err
	}

	sha, err := r.revParse(ctx, local, fmt.Sprintf("pull request #%d", number))
	if err != nil {
		return model.PullRequestRef{}, err
	}
	return model.PullRequestRef{
		Number:  number,
		HeadSHA: sha,
		HeadRef: fmt.Sprintf("pull/%d/head", number),
		BaseRef: r.baseBranch,
		Open:    true,
	}, nil
}

// MergePullRequest checks out the base branch tip detached and merges the
// pull request head into it, leaving the merge result in the working tree.
// On conflict the merge is aborted and driven.ErrMergeConflict returned.
func (r *Repository) MergePullRequest(ctx context.Context, pr model.PullRequestRef) (string, error) {
	base, err := r.BranchHead(ctx, pr.BaseRef)
	if err != nil {
		return "", err
	}
	if _, err := r.run(ctx, "checkout", "--quiet", "--detach", base); err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Merge pull request #%d into %s", pr.Number, pr.BaseRef)
	if _, err := r.run(ctx, "-c", "user.name=staticdeploy", "-c", "user.email=staticdeploy@localhost",
		"merge", "--no-ff", "--no-edit", "-m", msg, pr.HeadSHA); err != nil {
		if !isMergeConflict(err) {
			return "", fmt.Errorf("merging #%d into %s: %w", pr.Number, pr.BaseRef, err)
		}
		if _, abortErr := r.run(ctx, "merge", "--abort"); abortErr != nil {
			slog.Warn("git merge --abort failed", "dir", r.dir, "error", abortErr)
		}
		return "", fmt.Errorf("%w: #%d into %s: %v", driven.ErrMergeConflict, pr.Number, pr.BaseRef, err)
	}

	return r.revParse(ctx, "HEAD", "merge result")
}

// TagCommit returns the commit tag points at, peeling annotated tags.
func (r *Repository) TagCommit(ctx context.Context, tag string) (string, error) {
	if r.remote != "" {
		if _, err := r.run(ctx, "fetch", "--quiet", "--tags", r.remote); err != nil {
			return "", err
		}
	}
	return r.revParse(ctx, "refs/tags/"+tag, "tag "+tag)
}

func (r *Repository) fetch(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "fetch", "--quiet", r.remote, "+refs/heads/"+branch+":refs/remotes/"+r.remote+"/"+branch)
	if err != nil && isMissingRef(err) {
		return fmt.Errorf("branch %q: %w", branch, driven.ErrRefNotFound)
	}
	return err
}

func (r *Repository) revParse(ctx context.Context, ref, what string) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", fmt.Errorf("%s: %w", what, driven.ErrRefNotFound)
		}
		return "", err
	}
	return out, nil
}

// run executes git in the repository and returns trimmed stdout.
func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &commandError{
			args:   args,
			stdout: strings.TrimSpace(stdout.String()),
			stderr: strings.TrimSpace(stderr.String()),
			err:    err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func prRef(number int) string {
	return "refs/staticdeploy/pr/" + strconv.Itoa(number)
}

type commandError struct {
	args   []string
	stdout string
	stderr string
	err    error
}

func (e *commandError) Error() string {
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.args, " "), e.err, e.stderr)
}

func (e *commandError) Unwrap() error { return e.err }

// isMissingRef reports whether a fetch failed because the remote ref does not exist.
func isMissingRef(err error) bool {
	var ce *commandError
	if !errors.As(err, &ce) {
		return false
	}
	s := strings.ToLower(ce.stderr)
	return strings.Contains(s, "couldn't find remote ref") || strings.Contains(s, "invalid refspec")
}

// isMergeConflict reports whether a merge stopped on conflicting changes.
// git prints the CONFLICT lines on stdout.
func isMergeConflict(err error) bool {
	var ce *commandError
	if !errors.As(err, &ce) {
		return false
	}
	return strings.Contains(ce.stdout, "CONFLICT") || strings.Contains(ce.stderr, "CONFLICT")
}
