// Package sentry implements the error tracker port on the Sentry web API:
// a release named after the deployed commit and a deploy of that release to
// the environment.
package sentry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// DefaultURL is the hosted Sentry instance.
const DefaultURL = "https://sentry.io"

// Compile-time interface satisfaction check.
var _ driven.ErrorTracker = (*Client)(nil)

// Client talks to one Sentry instance with one auth token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client. An empty baseURL selects DefaultURL.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

type releaseRequest struct {
	Version  string   `json:"version"`
	Ref      string   `json:"ref,omitempty"`
	URL      string   `json:"url,omitempty"`
	Projects []string `json:"projects"`
}

type deployRequest struct {
	Environment string `json:"environment"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
}

// CreateRelease creates (or reuses) the release for info.Ref.CommitSHA and
// records a deploy of it to info.Environment.
func (c *Client) CreateRelease(ctx context.Context, org, project string, info model.ReleaseInfo) error {
	version := info.Ref.CommitSHA
	release := releaseRequest{
		Version:  version,
		Ref:      info.Ref.RefLabel,
		URL:      info.TargetURL,
		Projects: []string{project},
	}
	path := fmt.Sprintf("/api/0/organizations/%s/releases/", url.PathEscape(org))
	if err := c.post(ctx, path, release); err != nil {
		return fmt.Errorf("creating release %s: %w", version, err)
	}

	deploy := deployRequest{
		Environment: info.Environment,
		Name:        info.DeploymentID,
		URL:         info.TargetURL,
	}
	path = fmt.Sprintf("/api/0/organizations/%s/releases/%s/deploys/", url.PathEscape(org), url.PathEscape(version))
	if err := c.post(ctx, path, deploy); err != nil {
		return fmt.Errorf("recording deploy of %s to %s: %w", version, info.Environment, err)
	}

	slog.Info("error tracking release recorded", "org", org, "project", project, "release", version, "environment", info.Environment)
	return nil
}

// post sends payload as JSON. It makes a single attempt; any non-2xx
// response is an error.
func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("sentry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
