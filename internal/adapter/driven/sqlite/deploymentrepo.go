package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
	"github.com/ericfisherdev/staticdeploy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DeploymentStore = (*DeploymentRepo)(nil)

// ErrDeploymentNotFound is returned by writes addressing an unknown id.
var ErrDeploymentNotFound = errors.New("deployment not found")

// DefaultListLimit bounds List when the caller passes a non-positive limit.
const DefaultListLimit = 20

// DeploymentRepo is the SQLite implementation of the DeploymentStore port.
type DeploymentRepo struct {
	db  *DB
	now func() time.Time
}

// NewDeploymentRepo creates a DeploymentRepo backed by db.
func NewDeploymentRepo(db *DB) *DeploymentRepo {
	return &DeploymentRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const deploymentColumns = `id, environment, deploy_type, commit_sha, ref_label, merged, target_url,
	status, description, remote_id, created_at, updated_at`

// Create inserts d with a fresh UUID and records its initial status event.
func (r *DeploymentRepo) Create(ctx context.Context, d model.Deployment) (model.Deployment, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = model.DeploymentStatusPending
	}
	now := r.now()
	d.CreatedAt, d.UpdatedAt = now, now

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const insert = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, insert,
		d.ID, d.Environment, string(d.DeployType), d.Ref.CommitSHA, d.Ref.RefLabel, d.Ref.Merged,
		d.TargetURL, string(d.Status), d.Description, d.RemoteID, formatTime(now), formatTime(now),
	)
	if err != nil {
		return model.Deployment{}, fmt.Errorf("insert deployment: %w", err)
	}

	if err := insertEvent(ctx, tx, d.ID, d.Status, d.Description, now); err != nil {
		return model.Deployment{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Deployment{}, fmt.Errorf("commit transaction: %w", err)
	}
	return d, nil
}

// SetRef records the resolved ref and the mirror id.
func (r *DeploymentRepo) SetRef(ctx context.Context, id string, ref model.ResolvedRef, remoteID string) error {
	const query = `UPDATE deployments
		SET commit_sha = ?, ref_label = ?, merged = ?, remote_id = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		ref.CommitSHA, ref.RefLabel, ref.Merged, remoteID, formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("set ref of deployment %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("set ref of deployment %s: %w", id, ErrDeploymentNotFound)
	}
	return nil
}

// UpdateStatus applies a forward transition. The read and the guarded write
// run in one transaction on the single writer connection, so a terminal
// status can never be overwritten.
func (r *DeploymentRepo) UpdateStatus(ctx context.Context, id string, status model.DeploymentStatus, description string) (bool, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM deployments WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("update status of deployment %s: %w", id, ErrDeploymentNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("read status of deployment %s: %w", id, err)
	}

	if !model.DeploymentStatus(current).CanTransitionTo(status) {
		return false, nil
	}

	now := r.now()
	const update = `UPDATE deployments SET status = ?, description = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('success', 'failure', 'error')`
	result, err := tx.ExecContext(ctx, update, string(status), description, formatTime(now), id)
	if err != nil {
		return false, fmt.Errorf("update status of deployment %s: %w", id, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return false, nil
	}

	if err := insertEvent(ctx, tx, id, status, description, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// Get returns the deployment, or nil, nil when it does not exist.
func (r *DeploymentRepo) Get(ctx context.Context, id string) (*model.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = ?`

	d, err := scanDeployment(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	return d, nil
}

// List returns the newest deployments first, optionally for one environment.
func (r *DeploymentRepo) List(ctx context.Context, environment string, limit int) ([]model.Deployment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	args := []any{}
	if environment != "" {
		query += ` WHERE environment = ?`
		args = append(args, environment)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return deployments, nil
}

// Events returns the accepted status transitions of a deployment, oldest first.
func (r *DeploymentRepo) Events(ctx context.Context, id string) ([]model.StatusEvent, error) {
	const query = `SELECT deployment_id, status, description, created_at
		FROM deployment_status_events WHERE deployment_id = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list events of deployment %s: %w", id, err)
	}
	defer rows.Close()

	var events []model.StatusEvent
	for rows.Next() {
		var e model.StatusEvent
		var status, at string
		if err := rows.Scan(&e.DeploymentID, &status, &e.Description, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Status = model.DeploymentStatus(status)
		if e.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, id string, status model.DeploymentStatus, description string, at time.Time) error {
	const query = `INSERT INTO deployment_status_events (deployment_id, status, description, created_at)
		VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, id, string(status), description, formatTime(at)); err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(s scanner) (*model.Deployment, error) {
	var d model.Deployment
	var deployType, status, createdAt, updatedAt string

	err := s.Scan(&d.ID, &d.Environment, &deployType, &d.Ref.CommitSHA, &d.Ref.RefLabel, &d.Ref.Merged,
		&d.TargetURL, &status, &d.Description, &d.RemoteID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.DeployType = model.DeployType(deployType)
	d.Status = model.DeploymentStatus(status)

	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &d, nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime uses a fixed-width layout so lexical order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime tries the ledger layout first, then common SQLite formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
