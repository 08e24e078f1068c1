package repository

import (
	"context"
	"time"

	"mediaq/internal/models"
)

// JobQueue defines the persistence interface for the job lifecycle.
// Claim semantics: at most one worker holds a job in processing at a time,
// enforced by conditional writes in the implementation.
type JobQueue interface {
	Enqueue(ctx context.Context, payload string, priority int) (string, error)
	ClaimNext(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id string, result string) error
	// MarkFailed records a processing failure. Retryable failures return
	// the job to pending until attempts reach max_attempts; non-retryable
	// ones fail it immediately.
	MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	QueueDepth(ctx context.Context) (int, error)
	Close() error
}
