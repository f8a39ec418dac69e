// Package cloudflare implements the edge cache port with cloudflare-go.
package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	cf "github.com/cloudflare/cloudflare-go"

	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EdgeCache = (*EdgeCache)(nil)

// EdgeCache purges Cloudflare zones.
type EdgeCache struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures an EdgeCache.
type Option func(*EdgeCache)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *EdgeCache) { e.httpClient = c }
}

// WithBaseURL points the client at a different API root, mainly for tests.
func WithBaseURL(u string) Option {
	return func(e *EdgeCache) { e.baseURL = u }
}

// NewEdgeCache creates an EdgeCache.
func NewEdgeCache(opts ...Option) *EdgeCache {
	e := &EdgeCache{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Purge drops the whole cache of zoneID using token for that call only.
func (e *EdgeCache) Purge(ctx context.Context, zoneID, token string) error {
	cfOpts := []cf.Option{}
	if e.httpClient != nil {
		cfOpts = append(cfOpts, cf.HTTPClient(e.httpClient))
	}
	if e.baseURL != "" {
		cfOpts = append(cfOpts, cf.BaseURL(e.baseURL))
	}

	api, err := cf.NewWithAPIToken(token, cfOpts...)
	if err != nil {
		return fmt.Errorf("creating cloudflare client: %w", err)
	}

	resp, err := api.PurgeEverything(ctx, zoneID)
	if err != nil {
		return fmt.Errorf("purging zone %s: %w", zoneID, err)
	}
	if !resp.Success {
		return fmt.Errorf("purging zone %s: %v", zoneID, resp.Errors)
	}

	slog.Info("edge cache purged", "zone", zoneID, "purge_id", resp.Result.ID)
	return nil
}
