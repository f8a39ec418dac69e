// Package aws implements the object store and CDN ports on Amazon S3 and
// CloudFront using aws-sdk-go-v2.
package aws

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ObjectStore = (*Store)(nil)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store is an S3-backed object store.
type Store struct {
	client       S3API
	cacheControl string
}

// NewStore creates a Store over client. cacheControl, when set, is sent
// with every upload.
func NewStore(client S3API, cacheControl string) *Store {
	return &Store{client: client, cacheControl: cacheControl}
}

// LoadConfig loads the default AWS configuration (environment, shared
// config, instance role) for region. An empty region uses the SDK default.
func LoadConfig(ctx context.Context, region string) (sdkaws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return sdkaws.Config{}, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return cfg, nil
}

// NewS3Client creates an S3 client. A non-empty endpoint targets an
// S3-compatible service with path-style addressing.
func NewS3Client(cfg sdkaws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = sdkaws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// List returns the objects under prefix with their ETags as hashes.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]model.RemoteObject, error) {
	in := &s3.ListObjectsV2Input{Bucket: sdkaws.String(bucket)}
	if prefix != "" {
		in.Prefix = sdkaws.String(prefix + "/")
	}

	var objects []model.RemoteObject
	pages := s3.NewListObjectsV2Paginator(s.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, model.RemoteObject{
				Key:  sdkaws.ToString(obj.Key),
				Hash: strings.Trim(sdkaws.ToString(obj.ETag), `"`),
			})
		}
	}
	return objects, nil
}

// Put uploads one object. The MD5 is sent as Content-MD5 so S3 rejects a
// corrupted transfer.
func (s *Store) Put(ctx context.Context, bucket string, in driven.PutObjectInput) error {
	req := &s3.PutObjectInput{
		Bucket:        sdkaws.String(bucket),
		Key:           sdkaws.String(in.Key),
		Body:          in.Body,
		ContentLength: sdkaws.Int64(in.Size),
		ContentType:   sdkaws.String(in.ContentType),
	}
	if in.MD5 != "" {
		sum, err := hex.DecodeString(in.MD5)
		if err != nil {
			return fmt.Errorf("invalid md5 for %s: %w", in.Key, err)
		}
		req.ContentMD5 = sdkaws.String(base64.StdEncoding.EncodeToString(sum))
	}
	if s.cacheControl != "" {
		req.CacheControl = sdkaws.String(s.cacheControl)
	}

	if _, err := s.client.PutObject(ctx, req); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", bucket, in.Key, err)
	}
	return nil
}

// Delete removes one object.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: sdkaws.String(bucket),
		Key:    sdkaws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}
