package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"mediaq/internal/metrics"
	"mediaq/internal/models"
	"mediaq/internal/repository"
)

// WorkerService drains the job queue: claim, process, report, repeat.
type WorkerService struct {
	queue     repository.JobQueue
	cache     repository.CacheStore
	processor *Processor

	pollInterval time.Duration
	cacheTTL     time.Duration
}

func NewWorkerService(queue repository.JobQueue, cache repository.CacheStore, processor *Processor, pollInterval, cacheTTL time.Duration) *WorkerService {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &WorkerService{
		queue:        queue,
		cache:        cache,
		processor:    processor,
		pollInterval: pollInterval,
		cacheTTL:     cacheTTL,
	}
}

// Run continuously claims and processes jobs until ctx is cancelled.
func (s *WorkerService) Run(ctx context.Context, workerID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			job, err := s.queue.ClaimNext(ctx, workerID)
			if err != nil {
				log.Printf("worker=%s: error claiming job: %v", workerID, err)
				s.sleep(ctx, s.pollInterval)
				continue
			}

			if job == nil {
				// Queue empty.
				s.sleep(ctx, s.pollInterval)
				continue
			}

			log.Printf("job_id=%s: claimed by worker=%s (attempt %d/%d)", job.ID, workerID, job.Attempts+1, job.MaxAttempts)
			s.processJob(ctx, job)
		}
	}
}

// processJob runs one claimed job and reports its outcome to the queue.
func (s *WorkerService) processJob(ctx context.Context, job *models.Job) {
	var req models.MediaRequest
	if err := json.Unmarshal([]byte(job.Payload), &req); err != nil {
		s.failJob(ctx, job, "invalid job payload: "+err.Error(), false)
		return
	}

	result, err := s.processor.Process(ctx, &req)
	if err != nil {
		s.failJob(ctx, job, err.Error(), Retryable(err))
		return
	}

	if err := s.queue.MarkCompleted(ctx, job.ID, string(result)); err != nil {
		log.Printf("job_id=%s: error marking job completed: %v", job.ID, err)
		return
	}

	if err := s.cache.Put(ctx, req.Fingerprint(), result, s.cacheTTL); err != nil {
		log.Printf("job_id=%s: cache write failed: %v", job.ID, err)
	}

	metrics.JobsCompletedTotal.Inc()
	log.Printf("job_id=%s: job completed", job.ID)
}

func (s *WorkerService) failJob(ctx context.Context, job *models.Job, reason string, retryable bool) {
	if err := s.queue.MarkFailed(ctx, job.ID, reason, retryable); err != nil {
		log.Printf("job_id=%s: error marking job failed: %v", job.ID, err)
		return
	}

	if retryable && job.Attempts+1 < job.MaxAttempts {
		metrics.JobsRetriedTotal.Inc()
		log.Printf("job_id=%s: attempt %d/%d failed, back to pending: %s", job.ID, job.Attempts+1, job.MaxAttempts, reason)
		return
	}

	metrics.JobsFailedTotal.Inc()
	log.Printf("job_id=%s: job failed permanently: %s", job.ID, reason)
}

// RunReclaim periodically returns stale processing jobs to the queue.
// staleAfter must exceed the worst-case processing time or still-active
// jobs get reclaimed out from under their worker.
func (s *WorkerService) RunReclaim(ctx context.Context, every, staleAfter time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.queue.ReclaimStale(ctx, staleAfter)
			if err != nil {
				log.Printf("error reclaiming stale jobs: %v", err)
				continue
			}
			if n > 0 {
				metrics.JobsReclaimedTotal.Add(float64(n))
				log.Printf("reclaimed %d stale jobs", n)
			}
		}
	}
}

func (s *WorkerService) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
