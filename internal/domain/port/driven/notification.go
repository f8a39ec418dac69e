package driven

import (
	"context"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// ErrorTracker defines the driven port for the error-tracking service.
type ErrorTracker interface {
	// CreateRelease creates a release named after the commit sha and records
	// a deploy of it to the environment.
	CreateRelease(ctx context.Context, org, project string, info model.ReleaseInfo) error
}

// ReleasePublisher defines the driven port for the source-hosting release API.
type ReleasePublisher interface {
	// CreateRelease creates a release for tag with autogenerated notes and
	// returns its URL.
	CreateRelease(ctx context.Context, tag string, notes string) (string, error)
}

// ChatNotifier defines the driven port for the chat webhook.
type ChatNotifier interface {
	Post(ctx context.Context, message ChatMessage) error
}

// ChatMessage is a deployment summary for the chat channel.
type ChatMessage struct {
	Text   string
	Color  string // "good", "warning" or "danger".
	Fields []ChatField
	Link   string
}

// ChatField is a labelled value rendered in the chat message.
type ChatField struct {
	Title string
	Value string
	Short bool
}
