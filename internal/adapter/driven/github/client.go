// Package github implements the ref source, deployment mirror, release and
// approval-channel ports using the go-github library.
package github

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
)

// Client talks to a single repository through the GitHub REST API.
type Client struct {
	gh    *gh.Client
	owner string
	repo  string

	// GitHub computes the test merge of a pull request asynchronously.
	mergePollInterval time.Duration
	mergePollAttempts int
}

// NewClient creates a new GitHub API client for repository ("owner/repo")
// with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// A non-empty apiURL targets a GitHub Enterprise Server instance.
func NewClient(token, repository, apiURL string) (*Client, error) {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return nil, err
	}

	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	if apiURL != "" {
		client, err = client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub API URL %q: %w", apiURL, err)
		}
	}

	return newClient(client, owner, repo), nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, repository string) (*Client, error) {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return nil, err
	}

	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return newClient(client, owner, repo), nil
}

func newClient(client *gh.Client, owner, repo string) *Client {
	return &Client{
		gh:                client,
		owner:             owner,
		repo:              repo,
		mergePollInterval: 2 * time.Second,
		mergePollAttempts: 15,
	}
}

// WithMergePolling overrides how long MergePullRequest waits for GitHub to
// compute mergeability.
func (c *Client) WithMergePolling(interval time.Duration, attempts int) *Client {
	if interval > 0 {
		c.mergePollInterval = interval
	}
	if attempts > 0 {
		c.mergePollAttempts = attempts
	}
	return c
}

// Repository returns the "owner/repo" name the client operates on.
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// isNotFound reports whether err is a GitHub 404.
func isNotFound(resp *gh.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

// truncate shortens s to at most n runes; GitHub rejects long descriptions.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
