package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mediaq/internal/media"
	"mediaq/internal/models"
)

func queuedJob(t *testing.T, req *models.MediaRequest) *models.Job {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return &models.Job{
		ID:          "job-1",
		Payload:     string(payload),
		Status:      models.StatusProcessing,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
}

func newTestWorker(queue *mockQueue, cache *mockCache, fetcher media.Fetcher, invoker Invoker) *WorkerService {
	processor := NewProcessor(fetcher, media.PassthroughTransformer{}, invoker)
	return NewWorkerService(queue, cache, processor, 10*time.Millisecond, time.Hour)
}

func TestProcessJob_Success(t *testing.T) {
	queue := newMockQueue()
	cache := newMockCache()
	invoker := &fakeInvoker{result: []byte("transcribed")}
	s := newTestWorker(queue, cache, &fakeFetcher{}, invoker)

	req := validRequest()
	job := queuedJob(t, req)

	s.processJob(context.Background(), job)

	if got := queue.completed[job.ID]; got != "transcribed" {
		t.Errorf("expected job completed with result, got %q", got)
	}
	if len(queue.failed) != 0 {
		t.Errorf("expected no failure, got %v", queue.failed)
	}
	if string(cache.entries[req.Fingerprint()]) != "transcribed" {
		t.Error("expected result cached under the request fingerprint")
	}
}

func TestProcessJob_TransientFailureRetries(t *testing.T) {
	queue := newMockQueue()
	invoker := &fakeInvoker{err: errors.New("connection reset")}
	s := newTestWorker(queue, newMockCache(), &fakeFetcher{}, invoker)

	job := queuedJob(t, validRequest())
	s.processJob(context.Background(), job)

	if _, ok := queue.failed[job.ID]; !ok {
		t.Fatal("expected job marked failed")
	}
	if !queue.retryable[job.ID] {
		t.Error("expected a transient failure to be retryable")
	}
	if len(queue.completed) != 0 {
		t.Error("expected no completion")
	}
}

func TestProcessJob_TerminalFailure(t *testing.T) {
	queue := newMockQueue()
	fetcher := &fakeFetcher{err: media.ErrMediaUnavailable}
	s := newTestWorker(queue, newMockCache(), fetcher, &fakeInvoker{})

	job := queuedJob(t, validRequest())
	s.processJob(context.Background(), job)

	msg, ok := queue.failed[job.ID]
	if !ok {
		t.Fatal("expected job marked failed")
	}
	if queue.retryable[job.ID] {
		t.Error("permanently missing media must not be retried")
	}
	if msg == "" {
		t.Error("expected a human-readable failure reason")
	}
}

func TestProcessJob_InvalidPayload(t *testing.T) {
	queue := newMockQueue()
	s := newTestWorker(queue, newMockCache(), &fakeFetcher{}, &fakeInvoker{})

	job := &models.Job{ID: "job-bad", Payload: "not json", Status: models.StatusProcessing, MaxAttempts: 3}
	s.processJob(context.Background(), job)

	if _, ok := queue.failed[job.ID]; !ok {
		t.Fatal("expected job marked failed")
	}
	if queue.retryable[job.ID] {
		t.Error("an undecodable payload can never succeed; must not retry")
	}
}

func TestRun_DrainsQueueAndStopsOnCancel(t *testing.T) {
	queue := newMockQueue()
	cache := newMockCache()
	invoker := &fakeInvoker{result: []byte("done")}
	s := newTestWorker(queue, cache, &fakeFetcher{}, invoker)

	job := queuedJob(t, validRequest())
	job.Status = models.StatusPending
	queue.claimQueue = append(queue.claimQueue, job)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx, "w-test")
	}()

	waitFor(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		_, done := queue.completed[job.ID]
		return done
	})

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRunReclaim_TicksUntilCancel(t *testing.T) {
	queue := newMockQueue()
	s := newTestWorker(queue, newMockCache(), &fakeFetcher{}, &fakeInvoker{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.RunReclaim(ctx, 10*time.Millisecond, time.Hour)
	}()

	waitFor(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return queue.reclaims >= 2
	})

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reclaim loop did not stop on cancel")
	}
}
