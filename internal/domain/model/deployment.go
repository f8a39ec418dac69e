package model

import "time"

// ResolvedRef is a concrete, immutable source reference.
type ResolvedRef struct {
	CommitSHA string
	RefLabel  string
	Merged    bool // True only for from-pr when the merge step ran.
}

// ShortSHA returns the first 7 characters of the commit sha.
func (r ResolvedRef) ShortSHA() string {
	if len(r.CommitSHA) <= 7 {
		return r.CommitSHA
	}
	return r.CommitSHA[:7]
}

// PullRequestRef is what a ref source reports about a pull request.
type PullRequestRef struct {
	Number  int
	HeadSHA string
	HeadRef string
	BaseRef string
	Open    bool
}

// Deployment is the tracked record of one pipeline run.
type Deployment struct {
	ID          string
	Environment string
	DeployType  DeployType
	Ref         ResolvedRef
	TargetURL   string
	Status      DeploymentStatus
	Description string
	RemoteID    string // Mirror id (e.g. GitHub deployment id); empty when not mirrored.
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StatusEvent is one accepted status transition of a deployment.
type StatusEvent struct {
	DeploymentID string
	Status       DeploymentStatus
	Description  string
	At           time.Time
}
