package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"mediaq/internal/metrics"
	"mediaq/internal/models"
	"mediaq/internal/repository"
)

// Outcome is what admission hands back: either a final result or a handle
// to a queued job.
type Outcome struct {
	Queued bool
	JobID  string
	Result []byte
}

// AdmissionController decides, per request, between returning a cached
// result, processing synchronously while a direct slot is free, and
// deferring to the job queue.
type AdmissionController struct {
	cache     repository.CacheStore
	queue     repository.JobQueue
	processor *Processor

	maxDirect int64
	inFlight  atomic.Int64

	cacheTTL        time.Duration
	defaultPriority int
}

func NewAdmissionController(cache repository.CacheStore, queue repository.JobQueue, processor *Processor, maxDirect int, cacheTTL time.Duration, defaultPriority int) *AdmissionController {
	if maxDirect < 1 {
		maxDirect = 1
	}
	return &AdmissionController{
		cache:           cache,
		queue:           queue,
		processor:       processor,
		maxDirect:       int64(maxDirect),
		cacheTTL:        cacheTTL,
		defaultPriority: defaultPriority,
	}
}

// Submit admits one request. Validation failures surface immediately; a
// direct-path processing failure is returned to the caller, never silently
// requeued.
func (a *AdmissionController) Submit(ctx context.Context, req *models.MediaRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, &ValidationError{Msg: err.Error()}
	}

	key := req.Fingerprint()

	value, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		// Store fault, not a miss: bypass the cache for this request.
		log.Printf("fingerprint=%s: cache read failed, bypassing: %v", key, err)
	} else if ok {
		metrics.SubmissionsTotal.WithLabelValues("cache_hit").Inc()
		return &Outcome{Result: value}, nil
	}

	if a.tryAcquire() {
		defer a.release()
		metrics.SubmissionsTotal.WithLabelValues("direct").Inc()

		result, err := a.processor.Process(ctx, req)
		if err != nil {
			return nil, err
		}

		if err := a.cache.Put(ctx, key, result, a.cacheTTL); err != nil {
			log.Printf("fingerprint=%s: cache write failed: %v", key, err)
		}

		return &Outcome{Result: result}, nil
	}

	priority := a.defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job payload: %w", err)
	}

	jobID, err := a.queue.Enqueue(ctx, string(payload), priority)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.SubmissionsTotal.WithLabelValues("queued").Inc()
	log.Printf("job_id=%s: request queued, fingerprint=%s priority=%d", jobID, key, priority)

	return &Outcome{Queued: true, JobID: jobID}, nil
}

// tryAcquire claims a direct-processing slot with a CAS loop so concurrent
// submissions can never over-admit past maxDirect.
func (a *AdmissionController) tryAcquire() bool {
	for {
		cur := a.inFlight.Load()
		if cur >= a.maxDirect {
			return false
		}
		if a.inFlight.CompareAndSwap(cur, cur+1) {
			metrics.DirectInFlight.Set(float64(cur + 1))
			return true
		}
	}
}

func (a *AdmissionController) release() {
	n := a.inFlight.Add(-1)
	metrics.DirectInFlight.Set(float64(n))
}

// InFlight reports current direct slot usage for the status surface.
func (a *AdmissionController) InFlight() int64 {
	return a.inFlight.Load()
}

// MaxDirect reports the configured direct slot budget.
func (a *AdmissionController) MaxDirect() int64 {
	return a.maxDirect
}

// GetJob resolves a job for the poll endpoint.
func (a *AdmissionController) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := a.queue.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}
