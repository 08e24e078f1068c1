package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediaq/internal/media"
	"mediaq/internal/models"
	"mediaq/internal/repository"
)

// mockQueue is an in-memory JobQueue.
type mockQueue struct {
	mu       sync.Mutex
	jobs     map[string]*models.Job
	enqueued []string
	nextID   int

	claimQueue []*models.Job // jobs handed out by ClaimNext, in order

	completed map[string]string
	failed    map[string]string
	retryable map[string]bool
	reclaims  int
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		jobs:      make(map[string]*models.Job),
		completed: make(map[string]string),
		failed:    make(map[string]string),
		retryable: make(map[string]bool),
	}
}

func (m *mockQueue) Enqueue(ctx context.Context, payload string, priority int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("job-%d", m.nextID)
	m.jobs[id] = &models.Job{
		ID:          id,
		Payload:     payload,
		Priority:    priority,
		Status:      models.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}
	m.enqueued = append(m.enqueued, id)
	return id, nil
}

func (m *mockQueue) ClaimNext(ctx context.Context, workerID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.claimQueue) == 0 {
		return nil, nil
	}
	job := m.claimQueue[0]
	m.claimQueue = m.claimQueue[1:]
	job.Status = models.StatusProcessing
	job.ClaimedBy = workerID
	return job, nil
}

func (m *mockQueue) MarkCompleted(ctx context.Context, id string, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[id] = result
	return nil
}

func (m *mockQueue) MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = errMsg
	m.retryable[id] = retryable
	return nil
}

func (m *mockQueue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaims++
	return 0, nil
}

func (m *mockQueue) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (m *mockQueue) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return nil, nil
}

func (m *mockQueue) QueueDepth(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued), nil
}

func (m *mockQueue) Close() error { return nil }

func (m *mockQueue) enqueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued)
}

// mockCache is an in-memory CacheStore.
type mockCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	putErr  error
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *mockCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[key] = value
	return nil
}

func (m *mockCache) Close() error { return nil }

// fakeFetcher returns fixed media bytes or a configured error.
type fakeFetcher struct {
	err error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*media.RawMedia, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &media.RawMedia{Source: url, ContentType: "audio/mpeg", Data: []byte("media-bytes")}, nil
}

// fakeInvoker stands in for the inference pool.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   int32
	current int32
	peak    int32
	result  []byte
	err     error
	block   chan struct{} // when set, calls park here until closed
}

func (f *fakeInvoker) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)

	cur := atomic.AddInt32(&f.current, 1)
	defer atomic.AddInt32(&f.current, -1)

	f.mu.Lock()
	if cur > f.peak {
		f.peak = cur
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return []byte(`{"ok":true}`), nil
}

func (f *fakeInvoker) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

func (f *fakeInvoker) peakConcurrency() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func newTestAdmission(cache repository.CacheStore, queue repository.JobQueue, invoker Invoker, maxDirect int) *AdmissionController {
	processor := NewProcessor(&fakeFetcher{}, media.PassthroughTransformer{}, invoker)
	return NewAdmissionController(cache, queue, processor, maxDirect, time.Hour, 5)
}

func validRequest() *models.MediaRequest {
	return &models.MediaRequest{URL: "https://example.com/ep1.mp3", Kind: models.KindTranscript}
}

func TestSubmit_Validation(t *testing.T) {
	a := newTestAdmission(newMockCache(), newMockQueue(), &fakeInvoker{}, 5)

	_, err := a.Submit(context.Background(), &models.MediaRequest{URL: "", Kind: models.KindSummary})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestSubmit_CacheHit(t *testing.T) {
	cache := newMockCache()
	invoker := &fakeInvoker{}
	a := newTestAdmission(cache, newMockQueue(), invoker, 5)

	req := validRequest()
	cache.entries[req.Fingerprint()] = []byte("cached-result")

	outcome, err := a.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if outcome.Queued {
		t.Error("cache hit must not queue")
	}
	if string(outcome.Result) != "cached-result" {
		t.Errorf("expected cached result, got %q", outcome.Result)
	}
	if invoker.callCount() != 0 {
		t.Errorf("cache hit must not call inference, got %d calls", invoker.callCount())
	}
}

func TestSubmit_DirectWritesCache(t *testing.T) {
	cache := newMockCache()
	invoker := &fakeInvoker{result: []byte("fresh-result")}
	a := newTestAdmission(cache, newMockQueue(), invoker, 5)

	req := validRequest()
	outcome, err := a.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if outcome.Queued {
		t.Error("expected direct execution with capacity available")
	}
	if string(outcome.Result) != "fresh-result" {
		t.Errorf("expected fresh result, got %q", outcome.Result)
	}
	if string(cache.entries[req.Fingerprint()]) != "fresh-result" {
		t.Error("expected result written to cache")
	}

	// Identical request now hits the cache without a new inference call.
	before := invoker.callCount()
	outcome2, err := a.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if string(outcome2.Result) != "fresh-result" {
		t.Errorf("expected identical cached result, got %q", outcome2.Result)
	}
	if invoker.callCount() != before {
		t.Error("second submit must be served from cache")
	}
}

func TestSubmit_QueuedWhenNoCapacity(t *testing.T) {
	queue := newMockQueue()
	invoker := &fakeInvoker{block: make(chan struct{})}
	a := newTestAdmission(newMockCache(), queue, invoker, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Occupies the single direct slot until block closes.
		a.Submit(context.Background(), &models.MediaRequest{URL: "https://example.com/one.mp3", Kind: models.KindTranscript})
	}()

	waitFor(t, func() bool { return invoker.callCount() == 1 })

	outcome, err := a.Submit(context.Background(), &models.MediaRequest{URL: "https://example.com/two.mp3", Kind: models.KindTranscript})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !outcome.Queued {
		t.Fatal("expected queued outcome with no capacity")
	}
	if outcome.JobID == "" {
		t.Error("expected a job handle")
	}

	job, err := queue.GetJob(context.Background(), outcome.JobID)
	if err != nil {
		t.Fatalf("expected job persisted: %v", err)
	}
	var queuedReq models.MediaRequest
	if err := json.Unmarshal([]byte(job.Payload), &queuedReq); err != nil {
		t.Fatalf("job payload is not a request: %v", err)
	}
	if queuedReq.URL != "https://example.com/two.mp3" {
		t.Errorf("unexpected queued payload url %q", queuedReq.URL)
	}

	close(invoker.block)
	wg.Wait()
}

func TestSubmit_NeverOverCommits(t *testing.T) {
	queue := newMockQueue()
	invoker := &fakeInvoker{block: make(chan struct{})}
	a := newTestAdmission(newMockCache(), queue, invoker, 5)

	const total = 20

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Submit(context.Background(), &models.MediaRequest{
				URL:  fmt.Sprintf("https://example.com/file-%d.mp3", i),
				Kind: models.KindTranscript,
			})
		}(i)
	}

	// 5 direct executions park in the invoker, the other 15 queue.
	waitFor(t, func() bool {
		return invoker.callCount() == 5 && queue.enqueuedCount() == 15
	})

	if peak := invoker.peakConcurrency(); peak > 5 {
		t.Errorf("direct concurrency exceeded budget: %d", peak)
	}

	close(invoker.block)
	wg.Wait()

	if queue.enqueuedCount() != 15 {
		t.Errorf("expected 15 queued, got %d", queue.enqueuedCount())
	}
}

func TestSubmit_DirectFailureSurfaces(t *testing.T) {
	queue := newMockQueue()
	invoker := &fakeInvoker{err: errors.New("endpoint melted")}
	a := newTestAdmission(newMockCache(), queue, invoker, 5)

	_, err := a.Submit(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected direct failure to surface")
	}
	if queue.enqueuedCount() != 0 {
		t.Error("direct failure must not silently fall back to the queue")
	}

	// The failed slot is released; the next request still runs directly.
	invoker.err = nil
	outcome, err := a.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit after failure failed: %v", err)
	}
	if outcome.Queued {
		t.Error("expected direct execution after slot release")
	}
}

func TestSubmit_CacheFaultBypassesCache(t *testing.T) {
	cache := newMockCache()
	cache.getErr = repository.ErrStoreUnavailable
	invoker := &fakeInvoker{result: []byte("computed")}
	a := newTestAdmission(cache, newMockQueue(), invoker, 5)

	outcome, err := a.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if string(outcome.Result) != "computed" {
		t.Errorf("expected computed result despite cache fault, got %q", outcome.Result)
	}
	if invoker.callCount() != 1 {
		t.Errorf("expected one inference call, got %d", invoker.callCount())
	}
}

func TestGetJob_NotFound(t *testing.T) {
	a := newTestAdmission(newMockCache(), newMockQueue(), &fakeInvoker{}, 5)

	_, err := a.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
