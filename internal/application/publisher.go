package application

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 matches S3 ETags; it is not used for security.
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Publisher defaults.
const (
	DefaultPublishConcurrency = 8
	MaxPublishConcurrency     = 16
	DefaultPublishAttempts    = 3
)

// PublisherOptions tunes an ArtifactPublisher. Zero values select defaults.
type PublisherOptions struct {
	Concurrency    int
	Attempts       int
	InitialBackoff time.Duration
}

// ArtifactPublisher syncs a build artifact to a bucket prefix, transferring
// only new or changed objects and removing stale ones.
type ArtifactPublisher struct {
	store          driven.ObjectStore
	concurrency    int
	attempts       int
	initialBackoff time.Duration
}

// NewArtifactPublisher creates an ArtifactPublisher. Concurrency is clamped
// to [1, MaxPublishConcurrency].
func NewArtifactPublisher(store driven.ObjectStore, opts PublisherOptions) *ArtifactPublisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultPublishConcurrency
	}
	if opts.Concurrency > MaxPublishConcurrency {
		opts.Concurrency = MaxPublishConcurrency
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultPublishAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	return &ArtifactPublisher{
		store:          store,
		concurrency:    opts.Concurrency,
		attempts:       opts.Attempts,
		initialBackoff: opts.InitialBackoff,
	}
}

// Publish applies the diff between artifact and bucket/prefix. Every upload
// completes before any deletion is issued. If an object still fails after
// the retry bound, Publish returns a *model.PublishError and issues no
// deletions; objects already uploaded stay in place.
func (p *ArtifactPublisher) Publish(ctx context.Context, artifact model.BuildArtifact, bucket, prefix string) (model.PublishResult, error) {
	start := time.Now()
	prefix = model.NormalizePrefix(prefix)

	local, err := ScanArtifact(artifact.RootPath, prefix)
	if err != nil {
		return model.PublishResult{}, err
	}

	remote, err := p.store.List(ctx, bucket, prefix)
	if err != nil {
		return model.PublishResult{}, &model.PublishError{Err: fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)}
	}

	plan := PlanSync(local, remote)
	slog.Info("sync planned",
		"bucket", bucket,
		"prefix", prefix,
		"upload", len(plan.Upload),
		"delete", len(plan.Delete),
		"unchanged", len(plan.Unchanged),
	)

	uploaded := p.run(ctx, lo.Map(plan.Upload, func(o model.LocalObject, _ int) transfer {
		return transfer{key: o.Key, do: func(ctx context.Context) error { return p.upload(ctx, bucket, o) }}
	}))
	if len(uploaded.failed) > 0 {
		return model.PublishResult{UploadedKeys: uploaded.succeeded, Uploaded: len(uploaded.succeeded)},
			&model.PublishError{Succeeded: uploaded.succeeded, Failed: uploaded.failed, Err: uploaded.firstErr}
	}

	deleted := p.run(ctx, lo.Map(plan.Delete, func(key string, _ int) transfer {
		return transfer{key: key, do: func(ctx context.Context) error { return p.store.Delete(ctx, bucket, key) }}
	}))

	result := model.PublishResult{
		Uploaded:      len(uploaded.succeeded),
		Deleted:       len(deleted.succeeded),
		Unchanged:     len(plan.Unchanged),
		UploadedKeys:  uploaded.succeeded,
		DeletedKeys:   deleted.succeeded,
		UnchangedKeys: plan.Unchanged,
	}
	if len(deleted.failed) > 0 {
		return result, &model.PublishError{
			Succeeded: append(append([]string{}, uploaded.succeeded...), deleted.succeeded...),
			Failed:    deleted.failed,
			Err:       deleted.firstErr,
		}
	}

	slog.Info("sync complete",
		"bucket", bucket,
		"prefix", prefix,
		"uploaded", result.Uploaded,
		"deleted", result.Deleted,
		"unchanged", result.Unchanged,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

type transfer struct {
	key string
	do  func(ctx context.Context) error
}

// accumulator collects transfer outcomes from concurrent workers.
type accumulator struct {
	mu        sync.Mutex
	succeeded []string
	failed    []string
	firstErr  error
}

func (a *accumulator) record(key string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.failed = append(a.failed, key)
		if a.firstErr == nil {
			a.firstErr = err
		}
		return
	}
	a.succeeded = append(a.succeeded, key)
}

// run executes transfers on a bounded pool. Each transfer is retried with
// exponential backoff; one failing transfer does not stop the others. Once
// ctx is done, transfers that have not started are recorded as failed.
func (p *ArtifactPublisher) run(ctx context.Context, transfers []transfer) *accumulator {
	acc := &accumulator{}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, t := range transfers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				acc.record(t.key, fmt.Errorf("%s not transferred: %w", t.key, err))
				return nil
			}
			err := p.retry(ctx, t)
			if err != nil {
				slog.Error("object transfer failed", "key", t.key, "error", err)
			}
			acc.record(t.key, err)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(acc.succeeded)
	sort.Strings(acc.failed)
	return acc
}

func (p *ArtifactPublisher) retry(ctx context.Context, t transfer) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := t.do(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			slog.Debug("object transfer attempt failed", "key", t.key, "attempt", attempt, "error", err)
		}
		return err
	}, policy)
}

func (p *ArtifactPublisher) upload(ctx context.Context, bucket string, o model.LocalObject) error {
	f, err := os.Open(o.Path)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("opening %s: %w", o.Path, err))
	}
	defer f.Close()

	return p.store.Put(ctx, bucket, driven.PutObjectInput{
		Key:         o.Key,
		Body:        f,
		Size:        o.Size,
		ContentType: contentType(o.Key),
		MD5:         o.Hash,
	})
}

// ScanArtifact hashes every regular file under root and keys it under prefix.
func ScanArtifact(root, prefix string) ([]model.LocalObject, error) {
	prefix = model.NormalizePrefix(prefix)
	var objects []model.LocalObject

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hash, size, err := hashFile(p)
		if err != nil {
			return err
		}

		objects = append(objects, model.LocalObject{
			Key:  ObjectKey(prefix, filepath.ToSlash(rel)),
			Path: p,
			Hash: hash,
			Size: size,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning artifact %s: %w", root, err)
	}

	return objects, nil
}

// ObjectKey joins a normalized prefix and a slash-separated relative path.
func ObjectKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}

// PlanSync diffs local against remote. Keys are compared exactly and hashes
// case-insensitively; the result lists are sorted by key.
func PlanSync(local []model.LocalObject, remote []model.RemoteObject) model.SyncPlan {
	remoteByKey := lo.SliceToMap(remote, func(o model.RemoteObject) (string, string) {
		return o.Key, strings.ToLower(o.Hash)
	})

	var plan model.SyncPlan
	localKeys := make(map[string]struct{}, len(local))
	for _, o := range local {
		localKeys[o.Key] = struct{}{}
		if h, ok := remoteByKey[o.Key]; ok && h == strings.ToLower(o.Hash) {
			plan.Unchanged = append(plan.Unchanged, o.Key)
			continue
		}
		plan.Upload = append(plan.Upload, o)
	}

	for key := range remoteByKey {
		if _, ok := localKeys[key]; !ok {
			plan.Delete = append(plan.Delete, key)
		}
	}

	sort.Slice(plan.Upload, func(i, j int) bool { return plan.Upload[i].Key < plan.Upload[j].Key })
	sort.Strings(plan.Delete)
	sort.Strings(plan.Unchanged)
	return plan
}

func hashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // See import comment.
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsPublishError reports whether err carries per-object publish detail.
func IsPublishError(err error) (*model.PublishError, bool) {
	var pe *model.PublishError
	ok := errors.As(err, &pe)
	return pe, ok
}
