package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// Stage names a pipeline step for error reporting.
type Stage string

const (
	StageTrack      Stage = "track"
	StageResolve    Stage = "resolve"
	StageApproval   Stage = "approval"
	StageBuild      Stage = "build"
	StagePublish    Stage = "publish"
	StageInvalidate Stage = "invalidate"
)

// StageError is returned by Pipeline.Run and names the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Report summarizes one pipeline run. Fields after the failing stage are zero.
type Report struct {
	Deployment    model.Deployment
	Ref           model.ResolvedRef
	Approval      model.ApprovalState
	Artifact      model.BuildArtifact
	Publish       model.PublishResult
	Invalidation  model.InvalidationResult
	Warnings      []error
	Notifications []model.NotificationOutcome
	Duration      time.Duration
}

// PipelineDeps holds the services a Pipeline sequences. Notifier may be nil.
type PipelineDeps struct {
	Tracker     *DeploymentTracker
	Resolver    *RefResolver
	Gate        *ApprovalGate
	Builder     *BuildRunner
	Publisher   *ArtifactPublisher
	Invalidator *CacheInvalidator
	Notifier    *ReleaseNotifier
}

// Pipeline runs a deployment end to end.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline creates a Pipeline.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run executes open, resolve, approval, build, publish, invalidate and,
// after a successful terminal write, notify. The first fatal failure
// finishes the record with its classified status and is returned as a
// *StageError.
func (p *Pipeline) Run(ctx context.Context, req model.DeploymentRequest) (Report, error) {
	start := time.Now()
	var report Report

	d, err := p.deps.Tracker.Open(ctx, req)
	if err != nil {
		return report, &StageError{Stage: StageTrack, Err: err}
	}
	report.Deployment = d
	log := slog.With("deployment", d.ID, "environment", req.Environment())

	buildStarted := false
	fail := func(stage Stage, err error) (Report, error) {
		status := Classify(err, buildStarted)
		if status != "" {
			// The run context may be done; the terminal write must still land.
			if _, ferr := p.deps.Tracker.Finish(context.WithoutCancel(ctx), status, fmt.Sprintf("%s failed: %v", stage, err)); ferr != nil {
				log.Error("failed to record terminal status", "status", status, "error", ferr)
			}
		}
		report.Deployment = p.deps.Tracker.Current()
		report.Duration = time.Since(start)
		log.Error("deployment failed", "stage", stage, "status", status, "error", err)
		return report, &StageError{Stage: stage, Err: err}
	}

	// Resolve.
	ref, err := p.deps.Resolver.Resolve(ctx, req)
	if err != nil {
		return fail(StageResolve, err)
	}
	report.Ref = ref
	if err := p.deps.Tracker.AttachRef(ctx, ref); err != nil {
		return fail(StageTrack, err)
	}

	// Approval.
	if err := checkpoint(ctx); err != nil {
		return fail(StageApproval, err)
	}
	err = p.deps.Gate.Wait(ctx, model.ApprovalRequest{
		Environment: req.Environment(),
		Ref:         ref,
		TargetURL:   req.TargetURL(),
	})
	report.Approval = p.deps.Gate.State()
	if err != nil {
		return fail(StageApproval, err)
	}

	// Build.
	if err := checkpoint(ctx); err != nil {
		return fail(StageBuild, err)
	}
	if err := p.deps.Tracker.MarkInProgress(ctx); err != nil {
		return fail(StageTrack, err)
	}
	buildStarted = true
	artifact, err := p.deps.Builder.Run(ctx, BuildRequest{
		Ref:          ref,
		Environment:  req.Environment(),
		CleanInstall: req.UseCleanInstall(),
		BuildFolder:  req.BuildFolder(),
	})
	if err != nil {
		return fail(StageBuild, err)
	}
	report.Artifact = artifact

	// Publish.
	if err := checkpoint(ctx); err != nil {
		return fail(StagePublish, err)
	}
	published, err := p.deps.Publisher.Publish(ctx, artifact, req.Bucket(), req.DeploymentPrefix())
	report.Publish = published
	if err != nil {
		return fail(StagePublish, err)
	}

	// Invalidate.
	if err := checkpoint(ctx); err != nil {
		return fail(StageInvalidate, err)
	}
	invalidation, warnings, err := p.deps.Invalidator.Invalidate(ctx, req.Bucket(), callerReference(d.ID))
	report.Invalidation = invalidation
	report.Warnings = append(report.Warnings, warnings...)
	if err != nil {
		return fail(StageInvalidate, err)
	}

	if _, err := p.deps.Tracker.Finish(ctx, model.DeploymentStatusSuccess, "deployed "+ref.RefLabel); err != nil {
		return fail(StageTrack, err)
	}
	report.Deployment = p.deps.Tracker.Current()

	if p.deps.Notifier != nil {
		report.Notifications = p.deps.Notifier.Notify(ctx, model.ReleaseInfo{
			DeploymentID: d.ID,
			Environment:  req.Environment(),
			DeployType:   req.DeployType(),
			Ref:          ref,
			TargetURL:    req.TargetURL(),
			Status:       report.Deployment.Status,
		})
		for _, o := range report.Notifications {
			if o.Err != nil {
				report.Warnings = append(report.Warnings, o.Err)
			}
		}
	}

	report.Duration = time.Since(start)
	log.Info("deployment succeeded",
		"ref", ref.RefLabel,
		"sha", ref.ShortSHA(),
		"uploaded", published.Uploaded,
		"deleted", published.Deleted,
		"unchanged", published.Unchanged,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

// checkpoint returns the cancellation cause once ctx is done.
func checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, ctx.Err()) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %w", ctx.Err(), cause)
}

// callerReference is stable per deployment so a resubmitted invalidation is
// deduplicated by the CDN.
func callerReference(deploymentID string) string {
	return "staticdeploy-" + deploymentID
}
