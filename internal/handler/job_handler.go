package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"mediaq/internal/inference"
	"mediaq/internal/metrics"
	"mediaq/internal/models"
	"mediaq/internal/repository"
	"mediaq/internal/service"
)

// PoolStatus exposes the inference pool's circuit snapshot to the status
// surface.
type PoolStatus interface {
	Snapshot() []inference.EndpointStatus
}

// JobHandler handles the HTTP surface: submit, poll, list, status.
type JobHandler struct {
	admission *service.AdmissionController
	queue     repository.JobQueue
	pool      PoolStatus
}

func NewJobHandler(admission *service.AdmissionController, queue repository.JobQueue, pool PoolStatus) *JobHandler {
	return &JobHandler{
		admission: admission,
		queue:     queue,
		pool:      pool,
	}
}

type submitResponse struct {
	Status string          `json:"status"`
	JobID  string          `json:"job_id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Submit handles POST /submit.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.MediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.admission.Submit(r.Context(), &req)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, ve.Msg, http.StatusBadRequest)
			return
		}
		// A direct-path failure surfaces here rather than silently
		// falling back to the queue.
		log.Printf("error processing submission: %v", err)
		http.Error(w, "processing failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if outcome.Queued {
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, submitResponse{Status: "queued", JobID: outcome.JobID})
		return
	}

	writeJSON(w, submitResponse{Status: "completed", Result: resultJSON(outcome.Result)})
}

// GetJob handles GET /jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || id == r.URL.Path {
		http.Error(w, "job id is required", http.StatusBadRequest)
		return
	}

	job, err := h.admission.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("error getting job: %v", err)
		http.Error(w, "failed to retrieve job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, job.View())
}

// ListJobs handles GET /jobs?status=.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statusStr := r.URL.Query().Get("status")
	if statusStr == "" {
		http.Error(w, "status query parameter is required", http.StatusBadRequest)
		return
	}

	status := models.JobStatus(statusStr)
	if status != models.StatusPending && status != models.StatusProcessing &&
		status != models.StatusCompleted && status != models.StatusFailed {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	jobs, err := h.queue.ListJobsByStatus(r.Context(), status)
	if err != nil {
		log.Printf("error listing jobs: %v", err)
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	views := make([]*models.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, views)
}

type statusResponse struct {
	DirectInFlight int64                      `json:"direct_in_flight"`
	MaxDirect      int64                      `json:"max_direct"`
	QueueDepth     int                        `json:"queue_depth"`
	Endpoints      []inference.EndpointStatus `json:"endpoints"`
}

// Status handles GET /status, the read-only health/capacity surface.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	depth, err := h.queue.QueueDepth(r.Context())
	if err != nil {
		log.Printf("error reading queue depth: %v", err)
		http.Error(w, "failed to read queue depth", http.StatusInternalServerError)
		return
	}
	metrics.QueueDepth.Set(float64(depth))

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, statusResponse{
		DirectInFlight: h.admission.InFlight(),
		MaxDirect:      h.admission.MaxDirect(),
		QueueDepth:     depth,
		Endpoints:      h.pool.Snapshot(),
	})
}

// resultJSON embeds a result verbatim when it already is valid JSON and
// quotes it as a string otherwise.
func resultJSON(result []byte) json.RawMessage {
	if json.Valid(result) {
		return json.RawMessage(result)
	}
	quoted, _ := json.Marshal(string(result))
	return json.RawMessage(quoted)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}
