package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

func makeDeployment(env string) model.Deployment {
	return model.Deployment{
		Environment: env,
		DeployType:  model.DeployTypeTag,
		Ref:         model.ResolvedRef{RefLabel: "v1.2.0"},
		TargetURL:   "https://acme.example",
		Status:      model.DeploymentStatusPending,
		Description: "deployment requested",
	}
}

// clockRepo returns a repo whose clock advances one second per call, so
// ordering by created_at is deterministic.
func clockRepo(db *DB) *DeploymentRepo {
	repo := NewDeploymentRepo(db)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return repo
}

func TestDeploymentRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := clockRepo(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, makeDeployment("production"))
	require.NoError(t, err)
	assert.Len(t, created.ID, 36, "uuid assigned")
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "production", got.Environment)
	assert.Equal(t, model.DeployTypeTag, got.DeployType)
	assert.Equal(t, "v1.2.0", got.Ref.RefLabel)
	assert.Equal(t, model.DeploymentStatusPending, got.Status)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))

	events, err := repo.Events(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.DeploymentStatusPending, events[0].Status)
}

func TestDeploymentRepo_GetMissing(t *testing.T) {
	repo := NewDeploymentRepo(setupTestDB(t))

	got, err := repo.Get(context.Background(), "nope")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeploymentRepo_SetRef(t *testing.T) {
	repo := clockRepo(setupTestDB(t))
	ctx := context.Background()
	created, err := repo.Create(ctx, makeDeployment("staging"))
	require.NoError(t, err)

	ref := model.ResolvedRef{CommitSHA: "abc123", RefLabel: "pr-7", Merged: true}
	require.NoError(t, repo.SetRef(ctx, created.ID, ref, "remote-42"))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, got.Ref)
	assert.Equal(t, "remote-42", got.RemoteID)

	err = repo.SetRef(ctx, "missing", ref, "")
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestDeploymentRepo_UpdateStatusForwardOnly(t *testing.T) {
	repo := clockRepo(setupTestDB(t))
	ctx := context.Background()
	created, err := repo.Create(ctx, makeDeployment("production"))
	require.NoError(t, err)

	ok, err := repo.UpdateStatus(ctx, created.ID, model.DeploymentStatusInProgress, "building")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, created.ID, model.DeploymentStatusPending, "regress")
	require.NoError(t, err)
	assert.False(t, ok, "regression rejected")

	ok, err = repo.UpdateStatus(ctx, created.ID, model.DeploymentStatusFailure, "build failed")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, created.ID, model.DeploymentStatusSuccess, "late success")
	require.NoError(t, err)
	assert.False(t, ok, "terminal status is final")

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStatusFailure, got.Status)
	assert.Equal(t, "build failed", got.Description)

	events, err := repo.Events(ctx, created.ID)
	require.NoError(t, err)
	statuses := make([]model.DeploymentStatus, 0, len(events))
	for _, e := range events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []model.DeploymentStatus{
		model.DeploymentStatusPending,
		model.DeploymentStatusInProgress,
		model.DeploymentStatusFailure,
	}, statuses)
}

func TestDeploymentRepo_UpdateStatusMissing(t *testing.T) {
	repo := NewDeploymentRepo(setupTestDB(t))

	_, err := repo.UpdateStatus(context.Background(), "missing", model.DeploymentStatusInProgress, "")

	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestDeploymentRepo_List(t *testing.T) {
	repo := clockRepo(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.Create(ctx, makeDeployment("staging"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, makeDeployment("production"))
	require.NoError(t, err)
	third, err := repo.Create(ctx, makeDeployment("staging"))
	require.NoError(t, err)

	staging, err := repo.List(ctx, "staging", 10)
	require.NoError(t, err)
	require.Len(t, staging, 2)
	assert.Equal(t, third.ID, staging[0].ID, "newest first")
	assert.Equal(t, first.ID, staging[1].ID)

	all, err := repo.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOpen_CreatesFileAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, path, db.Path())
	_, err = NewDeploymentRepo(db).Create(context.Background(), makeDeployment("staging"))
	require.NoError(t, err)

	// Reopening an up-to-date ledger is a no-op migration.
	require.NoError(t, RunMigrations(db.Writer))
}
