package models

import "time"

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents a queued media processing request. Lower priority values
// are claimed first.
type Job struct {
	ID          string     `json:"id"`
	Payload     string     `json:"payload"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobView is the poll response shape for GET /jobs/{id}.
type JobView struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	Result      string     `json:"result,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// View projects a job onto its poller-visible fields.
func (j *Job) View() *JobView {
	return &JobView{
		ID:          j.ID,
		Status:      j.Status,
		Attempts:    j.Attempts,
		Result:      j.Result,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}
