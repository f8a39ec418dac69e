package driven

import (
	"context"
	"io"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// PutObjectInput describes a single upload.
type PutObjectInput struct {
	Key         string
	Body        io.ReadSeeker
	Size        int64
	ContentType string
	MD5         string // Hex MD5 of Body, used for integrity checks where supported.
}

// ObjectStore defines the driven port for the bucket the site is published to.
type ObjectStore interface {
	// List returns every object whose key starts with prefix + "/" (or every
	// object when prefix is empty).
	List(ctx context.Context, bucket, prefix string) ([]model.RemoteObject, error)

	// Put uploads or replaces one object.
	Put(ctx context.Context, bucket string, in PutObjectInput) error

	// Delete removes one object. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error
}
