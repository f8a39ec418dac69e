package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	awsadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/aws"
	cloudflareadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/cloudflare"
	gitadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/git"
	githubadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/github"
	"github.com/ericfisherdev/staticdeploy/internal/adapter/driven/localfs"
	"github.com/ericfisherdev/staticdeploy/internal/adapter/driven/npm"
	"github.com/ericfisherdev/staticdeploy/internal/adapter/driven/sentry"
	slackadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/slack"
	sqliteadapter "github.com/ericfisherdev/staticdeploy/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/staticdeploy/internal/adapter/driving/http"
	"github.com/ericfisherdev/staticdeploy/internal/application"
	"github.com/ericfisherdev/staticdeploy/internal/config"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// approvalLabel tags the issues opened to collect approval decisions.
const approvalLabel = "deployment-approval"

func newDeployCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Resolve, build, publish and invalidate one deployment",
		Long: `deploy runs the full pipeline for one deployment request.

The exit status is 0 when the deployment succeeded, 2 when the
configuration is invalid and 1 for any other failure. The deployment
ledger records every run; see "staticdeploy history".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return runDeploy(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func runDeploy(parent context.Context, cfg *config.Config, out io.Writer) error {
	req, err := cfg.DeploymentRequest()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	if cfg.ApprovalListenAddr != "" {
		srv := httphandler.NewServer(cfg.ApprovalListenAddr,
			httphandler.NewHandler(svc.gate, svc.store, slog.Default()), slog.Default(), cfg.ApprovalToken)
		go func() {
			slog.Info("approval server listening", "addr", cfg.ApprovalListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("approval server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("approval server shutdown error", "error", err)
			}
		}()
	}

	report, err := svc.pipeline.Run(ctx, req)
	printReport(out, report)
	return err
}

// services holds the wired pipeline and the resources to release after the run.
type services struct {
	pipeline *application.Pipeline
	gate     *application.ApprovalGate
	store    *sqliteadapter.DeploymentRepo
	db       *sqliteadapter.DB
}

func (s *services) close() {
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close deployment ledger", "error", err)
	}
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	db, err := sqliteadapter.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open deployment ledger: %w", err)
	}
	svc := &services{db: db, store: sqliteadapter.NewDeploymentRepo(db)}

	ok := false
	defer func() {
		if !ok {
			svc.close()
		}
	}()

	var gh *githubadapter.Client
	if cfg.GitHubToken != "" && cfg.GitHubRepository != "" {
		gh, err = githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubRepository, cfg.GitHubAPIURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
		}
	}

	var refs driven.RefSource
	if cfg.RefSource == config.RefSourceGitHub {
		refs = gh
	} else {
		refs = gitadapter.NewRepository(cfg.WorkingDirectory, gitadapter.Options{
			Remote:     cfg.GitRemote,
			BaseBranch: cfg.GitBaseBranch,
		})
	}

	var mirrors []driven.DeploymentService
	gateOpts := application.ApprovalGateOptions{
		PollInterval: cfg.ApprovalPollInterval,
		Timeout:      cfg.ApprovalTimeout,
	}
	if gh != nil {
		mirrors = append(mirrors, gh)
		gateOpts.Channel = githubadapter.NewApprovalChannel(gh, approvalLabel)
	}

	svc.gate, err = application.NewApprovalGate(cfg.ApprovalRequired(), cfg.Approvers, gateOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}

	objects, cdn, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var edge driven.EdgeCache
	if cfg.CloudflareZoneID != "" {
		edge = cloudflareadapter.NewEdgeCache()
	}

	svc.pipeline = application.NewPipeline(application.PipelineDeps{
		Tracker:  application.NewDeploymentTracker(svc.store, mirrors...),
		Resolver: application.NewRefResolver(refs),
		Gate:     svc.gate,
		Builder: application.NewBuildRunner(
			npm.NewTool(npm.Options{BuildCommand: cfg.BuildCommand}),
			cfg.WorkingDirectory,
			application.BuildRunnerOptions{InstallAttempts: cfg.InstallAttempts},
		),
		Publisher: application.NewArtifactPublisher(objects, application.PublisherOptions{
			Concurrency: cfg.PublishConcurrency,
			Attempts:    cfg.PublishAttempts,
		}),
		Invalidator: application.NewCacheInvalidator(cdn, edge, application.EdgeCacheZone{
			ZoneID: cfg.CloudflareZoneID,
			Token:  cfg.CloudflareToken,
		}),
		Notifier: buildNotifier(cfg, gh),
	})

	ok = true
	return svc, nil
}

// buildStorage returns the object store and, for S3, the CloudFront CDN. The
// local backend has no CDN in front of it.
func buildStorage(ctx context.Context, cfg *config.Config) (driven.ObjectStore, driven.CDN, error) {
	if cfg.Storage == config.StorageLocal {
		store, err := localfs.NewStore(cfg.LocalStorageRoot)
		if err != nil {
			return nil, nil, fmt.Errorf("open local storage: %w", err)
		}
		return store, nil, nil
	}

	awsCfg, err := awsadapter.LoadConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	store := awsadapter.NewStore(awsadapter.NewS3Client(awsCfg, cfg.S3Endpoint), cfg.CacheControl)
	cdn := awsadapter.NewCDN(awsadapter.NewCloudFrontClient(awsCfg))
	return store, cdn, nil
}

func buildNotifier(cfg *config.Config, gh *githubadapter.Client) *application.ReleaseNotifier {
	var tracker driven.ErrorTracker
	if cfg.SentryConfigured() {
		tracker = sentry.NewClient(cfg.SentryURL, cfg.SentryToken, nil)
	}

	var releases driven.ReleasePublisher
	if gh != nil {
		releases = gh
	}

	var chat driven.ChatNotifier
	if cfg.SlackWebhook != "" {
		chat = slackadapter.NewNotifier(cfg.SlackWebhook, nil)
	}

	return application.NewReleaseNotifier(tracker, application.ErrorTrackingProject{
		Org:     cfg.SentryOrg,
		Project: cfg.SentryProject,
	}, releases, chat)
}

func printReport(w io.Writer, r application.Report) {
	d := r.Deployment
	if d.ID == "" {
		return
	}
	fmt.Fprintf(w, "deployment %s: %s\n", d.ID, d.Status)
	if d.Description != "" {
		fmt.Fprintf(w, "  %s\n", d.Description)
	}
	if r.Ref.CommitSHA != "" {
		fmt.Fprintf(w, "  ref:          %s (%s)\n", r.Ref.RefLabel, r.Ref.ShortSHA())
	}
	if r.Artifact.FileCount > 0 {
		fmt.Fprintf(w, "  published:    %d uploaded, %d deleted, %d unchanged\n",
			r.Publish.Uploaded, r.Publish.Deleted, r.Publish.Unchanged)
	}
	switch {
	case r.Invalidation.InvalidationID != "":
		fmt.Fprintf(w, "  invalidation: %s on %s\n", r.Invalidation.InvalidationID, r.Invalidation.DistributionID)
	case r.Invalidation.Skipped:
		fmt.Fprintln(w, "  invalidation: skipped, no distribution")
	}
	for _, n := range r.Notifications {
		switch {
		case n.Skipped, n.Err != nil:
			// Failures are listed with the warnings.
			continue
		case n.Detail != "":
			fmt.Fprintf(w, "  %s: %s\n", n.Channel, n.Detail)
		default:
			fmt.Fprintf(w, "  %s: ok\n", n.Channel)
		}
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %v\n", warning)
	}
	fmt.Fprintf(w, "  took %s\n", r.Duration.Round(time.Millisecond))
}
