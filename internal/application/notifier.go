package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// ErrorTrackingProject identifies the error-tracking project that receives releases.
type ErrorTrackingProject struct {
	Org     string
	Project string
}

// ReleaseNotifier fans out post-success notifications. Each sub-action is
// independent and is skipped when its collaborator is not configured.
type ReleaseNotifier struct {
	tracker  driven.ErrorTracker // nil skips the error-tracking release.
	project  ErrorTrackingProject
	releases driven.ReleasePublisher // nil skips the source release.
	chat     driven.ChatNotifier     // nil skips the chat message.
}

// NewReleaseNotifier creates a ReleaseNotifier. Any collaborator may be nil.
func NewReleaseNotifier(
	tracker driven.ErrorTracker,
	project ErrorTrackingProject,
	releases driven.ReleasePublisher,
	chat driven.ChatNotifier,
) *ReleaseNotifier {
	return &ReleaseNotifier{tracker: tracker, project: project, releases: releases, chat: chat}
}

// Notify runs the three sub-actions concurrently and returns one outcome per
// channel, in the order error_tracking, source_release, chat. Failures wrap
// model.ErrNotification and are logged; they never change the deployment.
func (n *ReleaseNotifier) Notify(ctx context.Context, info model.ReleaseInfo) []model.NotificationOutcome {
	if info.Status != model.DeploymentStatusSuccess {
		slog.Debug("skipping notifications for unsuccessful deployment", "id", info.DeploymentID, "status", info.Status)
		return nil
	}

	actions := []struct {
		channel model.NotificationChannel
		run     func(context.Context, model.ReleaseInfo) model.NotificationOutcome
	}{
		{model.ChannelErrorTracking, n.errorTracking},
		{model.ChannelSourceRelease, n.sourceRelease},
		{model.ChannelChat, n.chatMessage},
	}

	outcomes := make([]model.NotificationOutcome, len(actions))
	var wg sync.WaitGroup
	for i, a := range actions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := a.run(ctx, info)
			o.Channel = a.channel
			if o.Err != nil {
				o.Err = fmt.Errorf("%w: %s: %w", model.ErrNotification, a.channel, o.Err)
				slog.Warn("notification failed", "channel", a.channel, "error", o.Err)
			} else if !o.Skipped {
				slog.Info("notification sent", "channel", a.channel, "detail", o.Detail)
			}
			outcomes[i] = o
		}()
	}
	wg.Wait()

	return outcomes
}

func (n *ReleaseNotifier) errorTracking(ctx context.Context, info model.ReleaseInfo) model.NotificationOutcome {
	if n.tracker == nil || n.project.Org == "" || n.project.Project == "" {
		return model.NotificationOutcome{Skipped: true}
	}
	if err := n.tracker.CreateRelease(ctx, n.project.Org, n.project.Project, info); err != nil {
		return model.NotificationOutcome{Err: err}
	}
	return model.NotificationOutcome{Detail: info.Ref.CommitSHA}
}

func (n *ReleaseNotifier) sourceRelease(ctx context.Context, info model.ReleaseInfo) model.NotificationOutcome {
	if n.releases == nil || info.DeployType != model.DeployTypeTag {
		return model.NotificationOutcome{Skipped: true}
	}

	notes := fmt.Sprintf("Deployed to %s at %s (%s).", info.Environment, info.TargetURL, info.Ref.ShortSHA())
	url, err := n.releases.CreateRelease(ctx, info.Ref.RefLabel, notes)
	if err != nil {
		return model.NotificationOutcome{Err: err}
	}
	return model.NotificationOutcome{Detail: url}
}

func (n *ReleaseNotifier) chatMessage(ctx context.Context, info model.ReleaseInfo) model.NotificationOutcome {
	if n.chat == nil {
		return model.NotificationOutcome{Skipped: true}
	}

	msg := driven.ChatMessage{
		Text:  fmt.Sprintf("Deployed %s to %s", info.Ref.RefLabel, info.Environment),
		Color: chatColor(info.Status),
		Link:  info.TargetURL,
		Fields: []driven.ChatField{
			{Title: "Environment", Value: info.Environment, Short: true},
			{Title: "Ref", Value: info.Ref.RefLabel, Short: true},
			{Title: "Commit", Value: info.Ref.ShortSHA(), Short: true},
			{Title: "Status", Value: string(info.Status), Short: true},
			{Title: "URL", Value: info.TargetURL},
		},
	}
	if err := n.chat.Post(ctx, msg); err != nil {
		return model.NotificationOutcome{Err: err}
	}
	return model.NotificationOutcome{Detail: info.Environment}
}

func chatColor(s model.DeploymentStatus) string {
	switch s {
	case model.DeploymentStatusSuccess:
		return "good"
	case model.DeploymentStatusFailure:
		return "warning"
	default:
		return "danger"
	}
}
