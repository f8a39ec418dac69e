package driven

import "context"

// CDN defines the driven port for the primary CDN in front of the bucket.
type CDN interface {
	// FindDistribution returns the id of the distribution serving bucket, or
	// "" with a nil error when none is bound.
	FindDistribution(ctx context.Context, bucket string) (string, error)

	// Invalidate submits an invalidation for paths. Resubmitting the same
	// callerReference must not create a second invalidation.
	Invalidate(ctx context.Context, distributionID string, paths []string, callerReference string) (string, error)
}

// EdgeCache defines the driven port for the optional secondary edge cache.
type EdgeCache interface {
	// Purge drops everything cached for the zone.
	Purge(ctx context.Context, zoneID, token string) error
}
