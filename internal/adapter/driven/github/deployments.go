package github

import (
	"context"
	"fmt"
	"strconv"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.DeploymentService = (*Client)(nil)
	_ driven.ReleasePublisher  = (*Client)(nil)
)

// GitHub limits deployment status descriptions to 140 characters.
const maxDescription = 140

// Create opens a GitHub deployment of the resolved commit. Required status
// contexts are disabled because the commit has already been built.
func (c *Client) Create(ctx context.Context, environment string, ref model.ResolvedRef, description string) (string, error) {
	d, resp, err := c.gh.Repositories.CreateDeployment(ctx, c.owner, c.repo, &gh.DeploymentRequest{
		Ref:              gh.Ptr(ref.CommitSHA),
		Task:             gh.Ptr("deploy"),
		Environment:      gh.Ptr(environment),
		Description:      gh.Ptr(truncate(description, maxDescription)),
		AutoMerge:        gh.Ptr(false),
		RequiredContexts: &[]string{},
	})
	if err != nil {
		return "", fmt.Errorf("creating deployment of %s to %s: %w", ref.ShortSHA(), environment, err)
	}

	logRateLimit(resp, c.Repository()+"/deployments", 0, 1)
	return strconv.FormatInt(d.GetID(), 10), nil
}

// UpdateStatus records a deployment status on GitHub.
func (c *Client) UpdateStatus(ctx context.Context, id string, update driven.DeploymentStatusUpdate) error {
	deploymentID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid deployment id %q: %w", id, err)
	}

	req := &gh.DeploymentStatusRequest{
		State:       gh.Ptr(string(update.Status)),
		Description: gh.Ptr(truncate(update.Description, maxDescription)),
	}
	if update.EnvironmentURL != "" {
		req.EnvironmentURL = gh.Ptr(update.EnvironmentURL)
	}
	if update.LogURL != "" {
		req.LogURL = gh.Ptr(update.LogURL)
	}

	_, resp, err := c.gh.Repositories.CreateDeploymentStatus(ctx, c.owner, c.repo, deploymentID, req)
	if err != nil {
		return fmt.Errorf("setting deployment %d to %s: %w", deploymentID, update.Status, err)
	}

	logRateLimit(resp, c.Repository()+"/deployment-statuses", 0, 1)
	return nil
}

// CreateRelease publishes a release for tag with GitHub-generated notes
// prefixed by notes, and returns its HTML URL.
func (c *Client) CreateRelease(ctx context.Context, tag string, notes string) (string, error) {
	release, resp, err := c.gh.Repositories.CreateRelease(ctx, c.owner, c.repo, &gh.RepositoryRelease{
		TagName:              gh.Ptr(tag),
		Name:                 gh.Ptr(tag),
		Body:                 gh.Ptr(notes),
		GenerateReleaseNotes: gh.Ptr(true),
	})
	if err != nil {
		return "", fmt.Errorf("creating release %s: %w", tag, err)
	}

	logRateLimit(resp, c.Repository()+"/releases", 0, 1)
	return release.GetHTMLURL(), nil
}
