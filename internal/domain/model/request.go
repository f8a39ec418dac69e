package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Source selects what to deploy. It is a closed variant: BranchSource,
// PullRequestSource or TagSource.
type Source interface {
	DeployType() DeployType
	// Label is a human-readable name for the selector ("main", "#42", "v1.2.0").
	Label() string
	isSource()
}

// BranchSource deploys the tip of a branch.
type BranchSource struct {
	Name string
}

func (BranchSource) DeployType() DeployType { return DeployTypeBranch }
func (s BranchSource) Label() string        { return s.Name }
func (BranchSource) isSource()              {}

// PullRequestSource deploys the head of an open pull request, optionally
// merged into its base branch first.
type PullRequestSource struct {
	Number        int
	MergeIntoBase bool
}

func (PullRequestSource) DeployType() DeployType { return DeployTypePullRequest }
func (s PullRequestSource) Label() string        { return "#" + strconv.Itoa(s.Number) }
func (PullRequestSource) isSource()              {}

// TagSource deploys the commit a tag points at.
type TagSource struct {
	Name string
}

func (TagSource) DeployType() DeployType { return DeployTypeTag }
func (s TagSource) Label() string        { return s.Name }
func (TagSource) isSource()              {}

// DefaultBuildFolder is used when no custom build folder is configured.
const DefaultBuildFolder = "out"

// RequestParams carries the raw inputs of NewDeploymentRequest.
// Exactly one of Branch, PullRequestNumber and Tag must be set, matching DeployType.
type RequestParams struct {
	DeployType        DeployType
	Branch            string
	PullRequestNumber int
	MergePullRequest  bool
	Tag               string
	Environment       string
	TargetURL         string
	Bucket            string
	DeploymentPrefix  string
	BuildFolder       string
	UseCleanInstall   bool
}

// DeploymentRequest is a validated, immutable deployment request.
type DeploymentRequest struct {
	source          Source
	environment     string
	targetURL       string
	bucket          string
	prefix          string
	buildFolder     string
	useCleanInstall bool
}

// NewDeploymentRequest validates p and builds a DeploymentRequest.
// All validation failures wrap ErrConfiguration.
func NewDeploymentRequest(p RequestParams) (DeploymentRequest, error) {
	var problems []string

	set := 0
	if p.Branch != "" {
		set++
	}
	if p.PullRequestNumber != 0 {
		set++
	}
	if p.Tag != "" {
		set++
	}
	if set > 1 {
		problems = append(problems, "only one of branch, pull_request_nb and commit_tag may be set")
	}

	var source Source
	switch p.DeployType {
	case DeployTypeBranch:
		if strings.TrimSpace(p.Branch) == "" {
			problems = append(problems, "branch is required for from-branch")
		}
		source = BranchSource{Name: strings.TrimSpace(p.Branch)}
	case DeployTypePullRequest:
		if p.PullRequestNumber <= 0 {
			problems = append(problems, "pull_request_nb must be a positive number for from-pr")
		}
		source = PullRequestSource{Number: p.PullRequestNumber, MergeIntoBase: p.MergePullRequest}
	case DeployTypeTag:
		if strings.TrimSpace(p.Tag) == "" {
			problems = append(problems, "commit_tag is required for from-tag")
		}
		source = TagSource{Name: strings.TrimSpace(p.Tag)}
	default:
		problems = append(problems, fmt.Sprintf("unknown deploy type %q", p.DeployType))
	}

	if p.MergePullRequest && p.DeployType != DeployTypePullRequest {
		problems = append(problems, "merge_pull_request only applies to from-pr")
	}
	if strings.TrimSpace(p.Environment) == "" {
		problems = append(problems, "environment is required")
	}
	if strings.TrimSpace(p.Bucket) == "" {
		problems = append(problems, "bucket is required")
	}

	prefix := NormalizePrefix(p.DeploymentPrefix)
	if strings.Contains(prefix, "..") {
		problems = append(problems, fmt.Sprintf("deployment_prefix %q must not contain '..'", p.DeploymentPrefix))
	}

	buildFolder := strings.TrimSpace(p.BuildFolder)
	if buildFolder == "" {
		buildFolder = DefaultBuildFolder
	}

	if len(problems) > 0 {
		return DeploymentRequest{}, fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}

	return DeploymentRequest{
		source:          source,
		environment:     strings.TrimSpace(p.Environment),
		targetURL:       strings.TrimSpace(p.TargetURL),
		bucket:          strings.TrimSpace(p.Bucket),
		prefix:          prefix,
		buildFolder:     buildFolder,
		useCleanInstall: p.UseCleanInstall,
	}, nil
}

func (r DeploymentRequest) Source() Source           { return r.source }
func (r DeploymentRequest) DeployType() DeployType   { return r.source.DeployType() }
func (r DeploymentRequest) Environment() string      { return r.environment }
func (r DeploymentRequest) TargetURL() string        { return r.targetURL }
func (r DeploymentRequest) Bucket() string           { return r.bucket }
func (r DeploymentRequest) DeploymentPrefix() string { return r.prefix }
func (r DeploymentRequest) BuildFolder() string      { return r.buildFolder }
func (r DeploymentRequest) UseCleanInstall() bool    { return r.useCleanInstall }

// NormalizePrefix strips surrounding whitespace and slashes so that prefixes
// join with relative paths using a single "/".
func NormalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}
