package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
)

const jobColumns = `id, tenant_id, operation, payload, state, result, error, error_kind,
	progress_done, progress_total, cancel_requested, created_at, started_at, completed_at`

// JobStore implements jobs.Store on the shared database.
type JobStore struct {
	*DB
}

// Jobs returns the job store view of d.
func (d *DB) Jobs() *JobStore {
	return &JobStore{DB: d}
}

// Create implements jobs.Store. The count and insert share one immediate
// transaction so concurrent submitters cannot exceed the cap.
func (s *JobStore) Create(ctx context.Context, job *jobs.QueueJob, maxPending int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateJob: begin: %w", err)
	}
	defer tx.Rollback()

	if maxPending > 0 {
		var pending int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs WHERE tenant_id = ? AND state IN ('queued', 'processing')`,
			job.TenantID).Scan(&pending); err != nil {
			return fmt.Errorf("CreateJob: counting pending: %w", err)
		}
		if pending >= maxPending {
			return jobs.ErrTooManyPending
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, operation, payload, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, string(job.Operation), []byte(job.Payload), string(jobs.StateQueued), toNanos(job.CreatedAt),
	); err != nil {
		return fmt.Errorf("CreateJob: insert: %w", err)
	}
	return tx.Commit()
}

// Get implements jobs.Store.
func (s *JobStore) Get(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ? AND tenant_id = ?`, id, tenantID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("GetJob: %w", err)
	}
	return job, nil
}

// List implements jobs.Store.
func (s *JobStore) List(ctx context.Context, filter jobs.Filter) ([]*jobs.QueueJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE tenant_id = ?`
	args := []any{filter.TenantID}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListJobs: query: %w", err)
	}
	defer rows.Close()

	var out []*jobs.QueueJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ListJobs: scan: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ClaimNext implements jobs.Store with a single UPDATE ... RETURNING, which
// SQLite runs under its write lock.
func (s *JobStore) ClaimNext(ctx context.Context, now time.Time) (*jobs.QueueJob, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = 'processing', started_at = ?
		WHERE id = (SELECT id FROM jobs WHERE state = 'queued' ORDER BY created_at, id LIMIT 1)
		  AND state = 'queued'
		RETURNING `+jobColumns, toNanos(now))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ClaimNext: %w", err)
	}
	return job, nil
}

// Complete implements jobs.Store.
func (s *JobStore) Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'completed', result = ?, completed_at = ?,
			progress_done = CASE WHEN progress_total > 0 THEN progress_total ELSE progress_done END
		WHERE id = ? AND state = 'processing'`,
		[]byte(result), toNanos(now), id)
	if err != nil {
		return fmt.Errorf("CompleteJob: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// Fail implements jobs.Store.
func (s *JobStore) Fail(ctx context.Context, id, message string, kind domain.ErrorKind, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', error = ?, error_kind = ?, completed_at = ?
		WHERE id = ? AND state IN ('queued', 'processing')`,
		message, string(kind), toNanos(now), id)
	if err != nil {
		return fmt.Errorf("FailJob: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// UpdateProgress implements jobs.Store.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, p jobs.Progress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress_done = ?, progress_total = ? WHERE id = ? AND state = 'processing'`,
		p.Done, p.Total, id)
	if err != nil {
		return fmt.Errorf("UpdateJobProgress: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// RequestCancel implements jobs.Store.
func (s *JobStore) RequestCancel(ctx context.Context, tenantID, id string, now time.Time) (*jobs.QueueJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CancelJob: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', error = 'cancelled before start', error_kind = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ? AND state = 'queued'`,
		string(domain.KindCancelled), toNanos(now), id, tenantID); err != nil {
		return nil, fmt.Errorf("CancelJob: cancelling queued: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET cancel_requested = 1 WHERE id = ? AND tenant_id = ? AND state = 'processing'`,
		id, tenantID); err != nil {
		return nil, fmt.Errorf("CancelJob: flagging processing: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ? AND tenant_id = ?`, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("CancelJob: reading job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CancelJob: commit: %w", err)
	}
	return job, nil
}

// FailInterrupted implements jobs.Store.
func (s *JobStore) FailInterrupted(ctx context.Context, reason string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'failed', error = ?, error_kind = ?, completed_at = ?
		WHERE state = 'processing'`,
		reason, string(domain.KindInternal), toNanos(now))
	if err != nil {
		return 0, fmt.Errorf("FailInterrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("FailInterrupted: rows affected: %w", err)
	}
	return int(n), nil
}

// checkTransition turns a zero-row update into NotFound or ErrInvalidTransition.
func (s *JobStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var state string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, state)
}

func scanJob(s scanner) (*jobs.QueueJob, error) {
	var (
		job                jobs.QueueJob
		op, state, kind    string
		payload, result    []byte
		cancel             int
		created            int64
		started, completed sql.NullInt64
	)
	if err := s.Scan(&job.ID, &job.TenantID, &op, &payload, &state, &result, &job.Error, &kind,
		&job.Progress.Done, &job.Progress.Total, &cancel, &created, &started, &completed); err != nil {
		return nil, err
	}
	job.Operation = jobs.Operation(op)
	job.State = jobs.State(state)
	job.ErrorKind = domain.ErrorKind(kind)
	job.Payload = payload
	job.Result = result
	job.CancelRequested = cancel != 0
	job.CreatedAt = fromNanos(created)
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return &job, nil
}

var _ jobs.Store = (*JobStore)(nil)
