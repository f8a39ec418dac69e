package model

// ReleaseInfo is the context shared by every post-success notification.
type ReleaseInfo struct {
	DeploymentID string
	Environment  string
	DeployType   DeployType
	Ref          ResolvedRef
	TargetURL    string
	Status       DeploymentStatus
}

// NotificationOutcome is the result of one notification sub-action.
// Outcomes never affect the deployment status.
type NotificationOutcome struct {
	Channel NotificationChannel
	Skipped bool
	Detail  string // e.g. the release URL.
	Err     error
}

// OK reports whether the sub-action ran and succeeded.
func (o NotificationOutcome) OK() bool {
	return !o.Skipped && o.Err == nil
}
