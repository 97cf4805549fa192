package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queueforge/queueforge/internal/domain"
)

// JobRepository archives jobs and their execution attempts. Writes from the
// processing pipeline are best-effort: an archive failure is logged by the
// caller, never propagated into job processing.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	UpdateStatus(ctx context.Context, id string, status domain.Status, lastError string) error
	RecordExecution(ctx context.Context, exec *domain.JobExecution) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	ListDeadLetters(ctx context.Context, queueType string, limit int) ([]*domain.Job, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the JobRepository interface.
func NewRepository(pool *pgxpool.Pool) JobRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (r *repository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, queue_type, kind, payload, compressed, status, priority,
			 attempts, max_attempts, last_error, created_at, updated_at, process_after)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		job.ID, job.QueueType, job.Kind, job.Payload, job.Compressed,
		string(job.Status), job.Priority, job.Attempts, job.MaxAttempts,
		job.LastError, job.CreatedAt, job.UpdatedAt, job.ProcessAfter,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status domain.Status, lastError string) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.IsTerminal() {
		t := now
		completedAt = &t
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, last_error = $2, updated_at = $3, completed_at = $4
		WHERE id = $5
	`, string(status), lastError, now, completedAt, id)
	if err != nil {
		return fmt.Errorf("update status for job %s: %w", id, err)
	}
	return nil
}

func (r *repository) RecordExecution(ctx context.Context, exec *domain.JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_executions
			(id, job_id, queue_type, attempt, status, duration_ms, error, executed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		exec.ID, exec.JobID, exec.QueueType, exec.Attempt,
		string(exec.Status), exec.DurationMs, exec.Error, exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("record execution for job %s: %w", exec.JobID, err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, queue_type, kind, payload, compressed, status, priority,
		       attempts, max_attempts, last_error, created_at, updated_at,
		       process_after, completed_at
		FROM jobs
		WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.JobNotFoundError{JobID: id}
		}
		return nil, err
	}
	return job, nil
}

func (r *repository) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	var conds []string
	var args []any

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `
		SELECT id, queue_type, kind, payload, compressed, status, priority,
		       attempts, max_attempts, last_error, created_at, updated_at,
		       process_after, completed_at
		FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *repository) ListDeadLetters(ctx context.Context, queueType string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, queue_type, kind, payload, compressed, status, priority,
		       attempts, max_attempts, last_error, created_at, updated_at,
		       process_after, completed_at
		FROM jobs
		WHERE queue_type = $1 AND status = $2 AND attempts >= max_attempts
		ORDER BY updated_at DESC
		LIMIT $3
	`, queueType, string(domain.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters for %s: %w", queueType, err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanJob reads a job row from any pgx row type.
func scanJob(row interface {
	Scan(...any) error
}) (*domain.Job, error) {
	var job domain.Job
	var statusStr string
	err := row.Scan(
		&job.ID, &job.QueueType, &job.Kind, &job.Payload, &job.Compressed,
		&statusStr, &job.Priority, &job.Attempts, &job.MaxAttempts,
		&job.LastError, &job.CreatedAt, &job.UpdatedAt,
		&job.ProcessAfter, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.Status(statusStr)
	return &job, nil
}
