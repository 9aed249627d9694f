package models

// JobStatus is the lifecycle stage of a server-side processing job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one observed snapshot of a processing job.
type Job struct {
	JobID        string    `json:"job_id"`
	VideoID      string    `json:"video_id,omitempty"`
	JobType      string    `json:"job_type,omitempty"`
	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
