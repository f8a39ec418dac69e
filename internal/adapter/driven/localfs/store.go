// Package localfs implements the object store port on a local directory. Each
// bucket is a subdirectory of the root and keys map to slash-separated paths.
package localfs

import (
	"context"
	"crypto/md5" //nolint:gosec // Mirrors S3 ETags; not used for security.
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ObjectStore = (*Store)(nil)

// Store is a filesystem-backed object store.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// List walks bucket and returns every object under prefix.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]model.RemoteObject, error) {
	base, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}

	var objects []model.RemoteObject
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p == base {
				return fs.SkipAll
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix+"/") {
			return nil
		}

		hash, err := fileMD5(p)
		if err != nil {
			return err
		}
		objects = append(objects, model.RemoteObject{Key: key, Hash: hash})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
	}
	return objects, nil
}

// Put writes the object through a temporary file so readers never observe a
// partial object.
func (s *Store) Put(ctx context.Context, bucket string, in driven.PutObjectInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := s.objectPath(bucket, in.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", in.Key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", in.Key, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // Already renamed on success.

	if _, err := io.Copy(tmp, in.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", in.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", in.Key, err)
	}

	if in.MD5 != "" {
		got, err := fileMD5(tmp.Name())
		if err != nil {
			return err
		}
		if got != in.MD5 {
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", in.Key, got, in.MD5)
		}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("renaming %s: %w", in.Key, err)
	}
	return nil
}

// Delete removes the object and any directories it leaves empty.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	base, _ := s.bucketDir(bucket)
	for dir := filepath.Dir(p); dir != base && strings.HasPrefix(dir, base); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (s *Store) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket name %q", bucket)
	}
	return filepath.Join(s.root, bucket), nil
}

// objectPath rejects keys that would escape the bucket directory.
func (s *Store) objectPath(bucket, key string) (string, error) {
	base, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean[1:] != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(base, filepath.FromSlash(key)), nil
}

func fileMD5(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // See import.
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
