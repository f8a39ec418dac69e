package application

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// DefaultInstallAttempts bounds dependency install retries.
const DefaultInstallAttempts = 3

// BuildRunnerOptions tunes a BuildRunner. Zero values select defaults.
type BuildRunnerOptions struct {
	InstallAttempts int
	// InitialBackoff is the first retry delay; later delays grow exponentially.
	InitialBackoff time.Duration
}

// BuildRequest is the input of a single build.
type BuildRequest struct {
	Ref          model.ResolvedRef
	Environment  string
	CleanInstall bool
	BuildFolder  string
}

// BuildRunner installs dependencies, runs the environment build and verifies
// the output folder.
type BuildRunner struct {
	tool            driven.BuildTool
	workDir         string
	installAttempts int
	initialBackoff  time.Duration
}

// NewBuildRunner creates a BuildRunner operating in workDir.
func NewBuildRunner(tool driven.BuildTool, workDir string, opts BuildRunnerOptions) *BuildRunner {
	if opts.InstallAttempts <= 0 {
		opts.InstallAttempts = DefaultInstallAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	return &BuildRunner{
		tool:            tool,
		workDir:         workDir,
		installAttempts: opts.InstallAttempts,
		initialBackoff:  opts.InitialBackoff,
	}
}

// Run builds the site. Install failures that persist after retries wrap
// model.ErrDependencyInstall; build failures wrap model.ErrBuildCommand and
// are not retried; a missing or empty build folder wraps model.ErrEmptyArtifact.
func (r *BuildRunner) Run(ctx context.Context, req BuildRequest) (model.BuildArtifact, error) {
	start := time.Now()

	if err := r.install(ctx, req.CleanInstall); err != nil {
		return model.BuildArtifact{}, err
	}

	env := map[string]string{
		"DEPLOY_ENV": req.Environment,
		"DEPLOY_SHA": req.Ref.CommitSHA,
		"DEPLOY_REF": req.Ref.RefLabel,
	}

	slog.Info("running build", "environment", req.Environment, "dir", r.workDir, "sha", req.Ref.ShortSHA())
	if err := r.tool.Build(ctx, r.workDir, req.Environment, env); err != nil {
		return model.BuildArtifact{}, fmt.Errorf("%w: %v", model.ErrBuildCommand, err)
	}

	artifact, err := inspectArtifact(filepath.Join(r.workDir, req.BuildFolder))
	if err != nil {
		return model.BuildArtifact{}, err
	}

	slog.Info("build complete",
		"root", artifact.RootPath,
		"files", artifact.FileCount,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return artifact, nil
}

func (r *BuildRunner) install(ctx context.Context, clean bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.installAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		slog.Info("installing dependencies", "clean", clean, "attempt", attempt)
		err := r.tool.Install(ctx, r.workDir, clean)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			slog.Warn("dependency install failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("installing dependencies: %w", ctx.Err())
		}
		return fmt.Errorf("%w after %d attempt(s): %v", model.ErrDependencyInstall, attempt, err)
	}
	return nil
}

// inspectArtifact verifies root is a directory holding at least one regular file.
func inspectArtifact(root string) (model.BuildArtifact, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return model.BuildArtifact{}, fmt.Errorf("resolving build folder %q: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return model.BuildArtifact{}, fmt.Errorf("%w: build folder %s: %v", model.ErrEmptyArtifact, abs, err)
	}
	if !info.IsDir() {
		return model.BuildArtifact{}, fmt.Errorf("%w: build folder %s is not a directory", model.ErrEmptyArtifact, abs)
	}

	count := 0
	err = filepath.WalkDir(abs, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil {
		return model.BuildArtifact{}, fmt.Errorf("scanning build folder %s: %w", abs, err)
	}
	if count == 0 {
		return model.BuildArtifact{}, fmt.Errorf("%w: build folder %s contains no files", model.ErrEmptyArtifact, abs)
	}

	return model.BuildArtifact{RootPath: abs, FileCount: count}, nil
}
