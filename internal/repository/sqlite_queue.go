package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"mediaq/internal/models"
)

// claimBatch bounds how many pending candidates a single ClaimNext call
// races over before reporting the queue empty.
const claimBatch = 5

// SQLiteQueue implements JobQueue on SQLite. Claims use an optimistic
// conditional UPDATE (status must still be pending at write time) so that
// concurrent pollers can never both hold the same job.
type SQLiteQueue struct {
	db          *sql.DB
	maxAttempts int
}

// NewSQLiteQueue opens (and if needed initializes) the queue database.
func NewSQLiteQueue(dbPath string, maxAttempts int) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if maxAttempts < 1 {
		maxAttempts = 3
	}

	q := &SQLiteQueue{db: db, maxAttempts: maxAttempts}
	if err := q.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return q, nil
}

// Close closes the database connection
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

func (q *SQLiteQueue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 5,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		claimed_by TEXT,
		last_error TEXT,
		result TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_started ON jobs(status, started_at);
	`

	_, err := q.db.Exec(schema)
	return err
}

// Enqueue inserts a new pending job and returns its id.
func (q *SQLiteQueue) Enqueue(ctx context.Context, payload string, priority int) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO jobs (id, payload, priority, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?)
	`

	_, err := q.db.ExecContext(ctx, query, id, payload, priority, q.maxAttempts, now.Unix(), now.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// ClaimNext picks the best pending candidate by (priority, created_at) and
// attempts the pending->processing transition with a conditional write.
// Losing the race for a candidate falls through to the next one; a plain
// read-then-write here would hand the same job to two workers.
func (q *SQLiteQueue) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	query := `
		SELECT id FROM jobs
		WHERE status = 'pending'
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`

	rows, err := q.db.QueryContext(ctx, query, claimBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query claim candidates: %w", err)
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	rows.Close()

	now := time.Now()
	claim := `
		UPDATE jobs
		SET status = 'processing', claimed_by = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	for _, id := range candidates {
		res, err := q.db.ExecContext(ctx, claim, workerID, now.Unix(), now.Unix(), id)
		if err != nil {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read claim result: %w", err)
		}
		if n == 1 {
			return q.GetJob(ctx, id)
		}
		// Another worker won this candidate; try the next one.
	}

	return nil, nil
}

// MarkCompleted transitions a processing job to completed. Calling it on a
// job that already left processing is a no-op, which makes completion
// idempotent.
func (q *SQLiteQueue) MarkCompleted(ctx context.Context, id string, result string) error {
	now := time.Now()
	query := `
		UPDATE jobs
		SET status = 'completed', result = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`

	_, err := q.db.ExecContext(ctx, query, result, now.Unix(), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	return nil
}

// MarkFailed counts the attempt and either returns the job to pending or,
// once attempts reach max_attempts (or the failure is non-retryable),
// fails it terminally with last_error set.
func (q *SQLiteQueue) MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error {
	now := time.Now()

	var query string
	if retryable {
		query = `
			UPDATE jobs
			SET attempts = attempts + 1,
			    last_error = ?,
			    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE NULL END,
			    started_at = NULL,
			    claimed_by = NULL,
			    updated_at = ?
			WHERE id = ? AND status = 'processing'
		`
	} else {
		query = `
			UPDATE jobs
			SET attempts = attempts + 1,
			    last_error = ?,
			    status = 'failed',
			    completed_at = ?,
			    started_at = NULL,
			    claimed_by = NULL,
			    updated_at = ?
			WHERE id = ? AND status = 'processing'
		`
	}

	_, err := q.db.ExecContext(ctx, query, errMsg, now.Unix(), now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

// ReclaimStale returns processing jobs whose claim is older than olderThan
// back to pending (or failed once attempts are exhausted). This recovers
// jobs whose worker died mid-flight; olderThan must exceed the worst-case
// processing time.
func (q *SQLiteQueue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now()
	cutoff := now.Add(-olderThan).Unix()

	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
		    last_error = CASE WHEN attempts + 1 >= max_attempts THEN 'reclaimed: worker timed out' ELSE last_error END,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
		    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN ? ELSE NULL END,
		    started_at = NULL,
		    claimed_by = NULL,
		    updated_at = ?
		WHERE status = 'processing' AND started_at < ?
	`

	res, err := q.db.ExecContext(ctx, query, now.Unix(), now.Unix(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reclaim result: %w", err)
	}

	return int(n), nil
}

// GetJob retrieves a job by id.
func (q *SQLiteQueue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	query := selectJobColumns + ` WHERE id = ?`

	job, err := scanJob(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobsByStatus retrieves all jobs with a specific status.
func (q *SQLiteQueue) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	query := selectJobColumns + ` WHERE status = ? ORDER BY created_at ASC`

	rows, err := q.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// QueueDepth returns the number of pending jobs.
func (q *SQLiteQueue) QueueDepth(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE status = 'pending'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

const selectJobColumns = `
	SELECT id, payload, priority, status, attempts, max_attempts,
	       claimed_by, last_error, result, created_at, started_at, completed_at, updated_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var claimedBy, lastError, result sql.NullString
	var startedAt, completedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&job.Payload,
		&job.Priority,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&claimedBy,
		&lastError,
		&result,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ClaimedBy = claimedBy.String
	job.LastError = lastError.String
	job.Result = result.String
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)

	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}

	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}

	return &job, nil
}
