package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// WildcardPaths invalidates everything served by the distribution.
var WildcardPaths = []string{"/*"}

// EdgeCacheZone holds the secondary edge-cache credentials. The purge is
// attempted only when both fields are non-empty.
type EdgeCacheZone struct {
	ZoneID string
	Token  string
}

func (z EdgeCacheZone) configured() bool {
	return z.ZoneID != "" && z.Token != ""
}

// CacheInvalidator invalidates the primary CDN and, optionally, purges a
// secondary edge cache.
type CacheInvalidator struct {
	cdn            driven.CDN       // nil disables the primary invalidation.
	edge           driven.EdgeCache // nil disables the secondary purge.
	zone           EdgeCacheZone
	lookupAttempts int
	initialBackoff time.Duration
}

// NewCacheInvalidator creates a CacheInvalidator. Either collaborator may be nil.
func NewCacheInvalidator(cdn driven.CDN, edge driven.EdgeCache, zone EdgeCacheZone) *CacheInvalidator {
	return &CacheInvalidator{
		cdn:            cdn,
		edge:           edge,
		zone:           zone,
		lookupAttempts: 3,
		initialBackoff: time.Second,
	}
}

// WithLookupRetry overrides the distribution lookup retry policy.
func (c *CacheInvalidator) WithLookupRetry(attempts int, initial time.Duration) *CacheInvalidator {
	if attempts > 0 {
		c.lookupAttempts = attempts
	}
	if initial > 0 {
		c.initialBackoff = initial
	}
	return c
}

// Invalidate runs the primary invalidation and the secondary purge
// concurrently. The returned error concerns the primary only and wraps
// model.ErrCacheInvalidation; a failed secondary purge is returned as a
// warning wrapping model.ErrCachePurge.
func (c *CacheInvalidator) Invalidate(ctx context.Context, bucket, callerReference string) (model.InvalidationResult, []error, error) {
	var (
		wg      sync.WaitGroup
		warning error
	)

	if c.edge != nil && c.zone.configured() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.edge.Purge(ctx, c.zone.ZoneID, c.zone.Token); err != nil {
				warning = fmt.Errorf("%w: zone %s: %v", model.ErrCachePurge, c.zone.ZoneID, err)
				slog.Warn("edge cache purge failed", "zone", c.zone.ZoneID, "error", err)
				return
			}
			slog.Info("edge cache purged", "zone", c.zone.ZoneID)
		}()
	} else {
		slog.Debug("edge cache purge skipped: zone id or token not configured")
	}

	result, err := c.invalidatePrimary(ctx, bucket, callerReference)
	wg.Wait()

	var warnings []error
	if warning != nil {
		warnings = append(warnings, warning)
	}
	return result, warnings, err
}

func (c *CacheInvalidator) invalidatePrimary(ctx context.Context, bucket, callerReference string) (model.InvalidationResult, error) {
	if c.cdn == nil {
		return model.InvalidationResult{Skipped: true}, nil
	}

	distributionID, err := c.findDistribution(ctx, bucket)
	if err != nil {
		return model.InvalidationResult{}, fmt.Errorf("%w: looking up distribution for %s: %v", model.ErrCacheInvalidation, bucket, err)
	}
	if distributionID == "" {
		slog.Info("no CDN distribution bound to bucket, skipping invalidation", "bucket", bucket)
		return model.InvalidationResult{Skipped: true}, nil
	}

	invalidationID, err := c.cdn.Invalidate(ctx, distributionID, WildcardPaths, callerReference)
	if err != nil {
		return model.InvalidationResult{DistributionID: distributionID},
			fmt.Errorf("%w: distribution %s: %v", model.ErrCacheInvalidation, distributionID, err)
	}

	slog.Info("cdn invalidation submitted", "distribution", distributionID, "invalidation", invalidationID)
	return model.InvalidationResult{DistributionID: distributionID, InvalidationID: invalidationID}, nil
}

// findDistribution retries transient lookup failures. An empty id with a nil
// error means no distribution is bound and is not retried.
func (c *CacheInvalidator) findDistribution(ctx context.Context, bucket string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.lookupAttempts-1)), ctx)

	var id string
	err := backoff.Retry(func() error {
		var err error
		id, err = c.cdn.FindDistribution(ctx, bucket)
		if err != nil {
			slog.Warn("distribution lookup failed", "bucket", bucket, "error", err)
		}
		return err
	}, policy)
	return id, err
}
