package model

import "fmt"

// DeployType is the source-selection mode of a deployment.
type DeployType string

const (
	DeployTypeBranch      DeployType = "from-branch"
	DeployTypePullRequest DeployType = "from-pr"
	DeployTypeTag         DeployType = "from-tag"
)

// ParseDeployType accepts both the hyphenated and underscored spellings
// ("from-branch", "from_branch").
func ParseDeployType(s string) (DeployType, error) {
	switch s {
	case "from-branch", "from_branch":
		return DeployTypeBranch, nil
	case "from-pr", "from_pr":
		return DeployTypePullRequest, nil
	case "from-tag", "from_tag":
		return DeployTypeTag, nil
	default:
		return "", fmt.Errorf("%w: unknown deploy type %q (want from-branch, from-pr or from-tag)", ErrConfiguration, s)
	}
}

// DeploymentStatus is the lifecycle status of a tracked deployment.
// The values match the GitHub Deployments API states.
type DeploymentStatus string

const (
	DeploymentStatusPending    DeploymentStatus = "pending"
	DeploymentStatusInProgress DeploymentStatus = "in_progress"
	DeploymentStatusSuccess    DeploymentStatus = "success"
	DeploymentStatusFailure    DeploymentStatus = "failure"
	DeploymentStatusError      DeploymentStatus = "error"
)

// IsTerminal reports whether no further transitions are allowed.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case DeploymentStatusSuccess, DeploymentStatusFailure, DeploymentStatusError:
		return true
	default:
		return false
	}
}

// rank orders statuses so that regressions can be detected.
func (s DeploymentStatus) rank() int {
	switch s {
	case DeploymentStatusPending:
		return 0
	case DeploymentStatusInProgress:
		return 1
	case DeploymentStatusSuccess, DeploymentStatusFailure, DeploymentStatusError:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// Terminal statuses accept nothing; same-status writes are not transitions.
func (s DeploymentStatus) CanTransitionTo(next DeploymentStatus) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// ApprovalState is the state of an approval gate.
type ApprovalState string

const (
	ApprovalNotRequired ApprovalState = "not_required"
	ApprovalPending     ApprovalState = "pending"
	ApprovalApproved    ApprovalState = "approved"
	ApprovalRejected    ApprovalState = "rejected"
	ApprovalCancelled   ApprovalState = "cancelled"
)

// IsTerminal reports whether the gate can no longer change state.
func (s ApprovalState) IsTerminal() bool {
	return s != ApprovalPending
}

// ApprovalDecision is the decision carried by a single approver action.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// NotificationChannel identifies one post-success notification sub-action.
type NotificationChannel string

const (
	ChannelErrorTracking NotificationChannel = "error_tracking"
	ChannelSourceRelease NotificationChannel = "source_release"
	ChannelChat          NotificationChannel = "chat"
)
