package aws

import (
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"

	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CDN = (*CDN)(nil)

// CloudFrontAPI is the subset of the CloudFront client the CDN uses.
type CloudFrontAPI interface {
	ListDistributions(ctx context.Context, in *cloudfront.ListDistributionsInput, optFns ...func(*cloudfront.Options)) (*cloudfront.ListDistributionsOutput, error)
	CreateInvalidation(ctx context.Context, in *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CDN finds and invalidates the CloudFront distribution serving a bucket.
type CDN struct {
	client CloudFrontAPI
}

// NewCDN creates a CDN over client.
func NewCDN(client CloudFrontAPI) *CDN {
	return &CDN{client: client}
}

// NewCloudFrontClient creates a CloudFront client from cfg.
func NewCloudFrontClient(cfg sdkaws.Config) *cloudfront.Client {
	return cloudfront.NewFromConfig(cfg)
}

// FindDistribution returns the first distribution with an origin in bucket,
// or "" when none exists.
func (c *CDN) FindDistribution(ctx context.Context, bucket string) (string, error) {
	in := &cloudfront.ListDistributionsInput{}
	for page := 1; ; page++ {
		out, err := c.client.ListDistributions(ctx, in)
		if err != nil {
			return "", fmt.Errorf("listing cloudfront distributions (page %d): %w", page, err)
		}
		list := out.DistributionList
		if list == nil {
			return "", nil
		}

		for _, d := range list.Items {
			if servesBucket(d, bucket) {
				return sdkaws.ToString(d.Id), nil
			}
		}

		if !sdkaws.ToBool(list.IsTruncated) || list.NextMarker == nil {
			return "", nil
		}
		in.Marker = list.NextMarker
	}
}

// Invalidate submits an invalidation. CloudFront deduplicates on callerReference.
func (c *CDN) Invalidate(ctx context.Context, distributionID string, paths []string, callerReference string) (string, error) {
	out, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: sdkaws.String(distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: sdkaws.String(callerReference),
			Paths: &types.Paths{
				Quantity: sdkaws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("invalidating distribution %s: %w", distributionID, err)
	}
	if out.Invalidation == nil {
		return "", nil
	}
	return sdkaws.ToString(out.Invalidation.Id), nil
}

// servesBucket matches REST (bucket.s3.region.amazonaws.com) and website
// (bucket.s3-website-region.amazonaws.com) origin domains.
func servesBucket(d types.DistributionSummary, bucket string) bool {
	if d.Origins == nil {
		return false
	}
	for _, o := range d.Origins.Items {
		domain := strings.ToLower(sdkaws.ToString(o.DomainName))
		if strings.HasPrefix(domain, strings.ToLower(bucket)+".s3.") ||
			strings.HasPrefix(domain, strings.ToLower(bucket)+".s3-website") {
			return true
		}
	}
	return false
}
