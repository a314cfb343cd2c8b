package api

import "github.com/mattjoyce/steward/internal/dispatcher"

// SubmitJobRequest is the JSON body for POST /jobs. Plan is base64 in JSON.
type SubmitJobRequest struct {
	JobID string `json:"job_id,omitempty"`
	Name  string `json:"name"`
	Plan  []byte `json:"plan"`
}

// CompleteJobRequest is the JSON body for POST /jobs/{jobID}/complete.
type CompleteJobRequest struct {
	Status dispatcher.JobStatus `json:"status"`
}

// JobsResponse is returned by GET /jobs.
type JobsResponse struct {
	FencingToken string                  `json:"fencing_token"`
	Jobs         []dispatcher.JobDetails `json:"jobs"`
}

// LeaderResponse is returned by GET /leader.
type LeaderResponse struct {
	Leader       bool   `json:"leader"`
	NodeID       string `json:"node_id,omitempty"`
	FencingToken string `json:"fencing_token,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Leader        bool   `json:"leader"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// CurrentFencingToken is set on stale_leader so callers can refresh.
	CurrentFencingToken string `json:"current_fencing_token,omitempty"`
}
