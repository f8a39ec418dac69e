package application_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/application"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

var fastBuild = application.BuildRunnerOptions{InitialBackoff: time.Millisecond}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

func TestBuildRunner_Success(t *testing.T) {
	dir := t.TempDir()
	tool := &mockBuildTool{
		build: func(_ context.Context, d, _ string, _ map[string]string) error {
			writeFiles(t, d, map[string]string{"out/index.html": "<h1>hi</h1>", "out/assets/app.js": "x"})
			return nil
		},
	}

	ref := model.ResolvedRef{CommitSHA: "abcdef1234", RefLabel: "main"}
	artifact, err := application.NewBuildRunner(tool, dir, fastBuild).Run(context.Background(), application.BuildRequest{
		Ref:          ref,
		Environment:  "staging",
		CleanInstall: true,
		BuildFolder:  "out",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, artifact.FileCount)
	assert.True(t, filepath.IsAbs(artifact.RootPath))
	require.Len(t, tool.installs, 1)
	assert.True(t, tool.installs[0].Clean)
	require.Len(t, tool.builds, 1)
	assert.Equal(t, "staging", tool.builds[0].Environment)
	assert.Equal(t, "abcdef1234", tool.builds[0].Env["DEPLOY_SHA"])
	assert.Equal(t, "staging", tool.builds[0].Env["DEPLOY_ENV"])
}

func TestBuildRunner_InstallRetriedThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"out/index.html": "ok"})

	calls := 0
	tool := &mockBuildTool{
		install: func(_ context.Context, _ string, _ bool) error {
			calls++
			if calls < 3 {
				return errors.New("ETIMEDOUT")
			}
			return nil
		},
	}

	_, err := application.NewBuildRunner(tool, dir, fastBuild).Run(context.Background(), application.BuildRequest{BuildFolder: "out"})

	require.NoError(t, err)
	assert.Len(t, tool.installs, 3)
}

func TestBuildRunner_InstallExhausted(t *testing.T) {
	tool := &mockBuildTool{
		install: func(_ context.Context, _ string, _ bool) error { return errors.New("registry unavailable") },
	}

	_, err := application.NewBuildRunner(tool, t.TempDir(), fastBuild).Run(context.Background(), application.BuildRequest{BuildFolder: "out"})

	assert.ErrorIs(t, err, model.ErrDependencyInstall)
	assert.Len(t, tool.installs, application.DefaultInstallAttempts)
	assert.Empty(t, tool.builds)
}

func TestBuildRunner_BuildFailureNotRetried(t *testing.T) {
	tool := &mockBuildTool{
		build: func(_ context.Context, _, _ string, _ map[string]string) error { return errors.New("exit status 1") },
	}

	_, err := application.NewBuildRunner(tool, t.TempDir(), fastBuild).Run(context.Background(), application.BuildRequest{BuildFolder: "out"})

	assert.ErrorIs(t, err, model.ErrBuildCommand)
	assert.Len(t, tool.builds, 1)
}

func TestBuildRunner_EmptyArtifact(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{name: "missing folder", setup: func(*testing.T, string) {}},
		{
			name: "empty folder",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.MkdirAll(filepath.Join(dir, "out", "nested"), 0o755))
			},
		},
		{
			name: "file instead of folder",
			setup: func(t *testing.T, dir string) {
				writeFiles(t, dir, map[string]string{"out": "not a dir"})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			_, err := application.NewBuildRunner(&mockBuildTool{}, dir, fastBuild).Run(context.Background(), application.BuildRequest{BuildFolder: "out"})
			assert.ErrorIs(t, err, model.ErrEmptyArtifact)
		})
	}
}
