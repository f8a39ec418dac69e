package localfs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/adapter/driven/localfs"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

const helloMD5 = "5d41402abc4b2a76b9719d911017c592"

func put(t *testing.T, s *localfs.Store, key, body string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), "site", driven.PutObjectInput{
		Key:  key,
		Body: strings.NewReader(body),
		Size: int64(len(body)),
	}))
}

func TestStore_PutListDelete(t *testing.T) {
	root := t.TempDir()
	s, err := localfs.NewStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	put(t, s, "staging/index.html", "hello")
	put(t, s, "staging/assets/app.js", "js")
	put(t, s, "staging2/index.html", "other")

	objects, err := s.List(ctx, "site", "staging")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	byKey := map[string]string{}
	for _, o := range objects {
		byKey[o.Key] = o.Hash
	}
	assert.Equal(t, helloMD5, byKey["staging/index.html"])
	assert.Contains(t, byKey, "staging/assets/app.js")

	all, err := s.List(ctx, "site", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "site", "staging/assets/app.js"))
	_, err = os.Stat(filepath.Join(root, "site", "staging", "assets"))
	assert.True(t, os.IsNotExist(err), "empty directory removed")

	require.NoError(t, s.Delete(ctx, "site", "staging/missing.html"))
}

func TestStore_ListMissingBucket(t *testing.T) {
	s, err := localfs.NewStore(t.TempDir())
	require.NoError(t, err)

	objects, err := s.List(context.Background(), "nothing", "")

	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestStore_PutChecksumMismatch(t *testing.T) {
	root := t.TempDir()
	s, err := localfs.NewStore(root)
	require.NoError(t, err)

	err = s.Put(context.Background(), "site", driven.PutObjectInput{
		Key:  "index.html",
		Body: strings.NewReader("tampered"),
		MD5:  helloMD5,
	})

	assert.ErrorContains(t, err, "checksum mismatch")
	_, statErr := os.Stat(filepath.Join(root, "site", "index.html"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	s, err := localfs.NewStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../evil", "a/../../evil", "/abs", ""} {
		err := s.Put(context.Background(), "site", driven.PutObjectInput{Key: key, Body: strings.NewReader("x")})
		assert.Error(t, err, key)
	}
	_, err = s.List(context.Background(), "../up", "")
	assert.Error(t, err)
}
