package model

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal error kinds. Each aborts the pipeline and marks the deployment failure.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrRefResolution     = errors.New("ref resolution error")
	ErrMergeConflict     = errors.New("merge conflict")
	ErrApprovalRejected  = errors.New("approval rejected")
	ErrApprovalCancelled = errors.New("approval cancelled")
	ErrDependencyInstall = errors.New("dependency install error")
	ErrBuildCommand      = errors.New("build command error")
	ErrEmptyArtifact     = errors.New("empty artifact")
	ErrPublish           = errors.New("publish error")
	ErrCacheInvalidation = errors.New("cache invalidation error")
)

// Non-fatal kinds. Logged and reported, never change the deployment status.
var (
	ErrCachePurge   = errors.New("cache purge warning")
	ErrNotification = errors.New("notification error")
)

var knownKinds = []error{
	ErrConfiguration,
	ErrRefResolution,
	ErrMergeConflict,
	ErrApprovalRejected,
	ErrApprovalCancelled,
	ErrDependencyInstall,
	ErrBuildCommand,
	ErrEmptyArtifact,
	ErrPublish,
	ErrCacheInvalidation,
}

// IsKnown reports whether err belongs to the fatal taxonomy. Known kinds map
// to DeploymentStatusFailure, anything else to DeploymentStatusError.
func IsKnown(err error) bool {
	for _, kind := range knownKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// PublishError reports a partially applied sync. Objects in Succeeded are
// already in the bucket; nothing is rolled back.
type PublishError struct {
	Succeeded []string
	Failed    []string
	Err       error
}

func (e *PublishError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "publish error: %d object(s) failed, %d succeeded", len(e.Failed), len(e.Succeeded))
	if len(e.Failed) > 0 {
		shown := e.Failed
		if len(shown) > 5 {
			shown = shown[:5]
		}
		fmt.Fprintf(&b, " (%s", strings.Join(shown, ", "))
		if len(e.Failed) > len(shown) {
			fmt.Fprintf(&b, ", ... %d more", len(e.Failed)-len(shown))
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPublish) hold for every PublishError.
func (e *PublishError) Is(target error) bool { return target == ErrPublish }
