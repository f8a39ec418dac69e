package model

import "time"

// ApprovalRequest describes what an approver is asked to authorize.
type ApprovalRequest struct {
	Environment string
	Ref         ResolvedRef
	TargetURL   string
	Approvers   []string
}

// ApprovalHandle identifies a pending request on an approval channel
// (for the GitHub channel, the approval issue number).
type ApprovalHandle struct {
	ID  string
	URL string
}

// ApprovalAction is one decision reported by an approval channel.
type ApprovalAction struct {
	Identity string
	Decision ApprovalDecision
	At       time.Time
}
