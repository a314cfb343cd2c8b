package dispatcher

import "time"

type JobStatus string

const (
	StatusRunning  JobStatus = "running"
	StatusFinished JobStatus = "finished"
	StatusFailed   JobStatus = "failed"
	StatusCanceled JobStatus = "canceled"
)

// Terminal reports whether s ends a job.
func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCanceled
}

// JobDetails is the read projection returned to callers.
type JobDetails struct {
	JobID       string     `json:"job_id"`
	Name        string     `json:"name"`
	Status      JobStatus  `json:"status"`
	Digest      string     `json:"digest"`
	Recovered   bool       `json:"recovered"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
