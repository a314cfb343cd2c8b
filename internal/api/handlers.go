package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/steward/internal/dispatcher"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/gateway"
	"github.com/mattjoyce/steward/internal/jobgraph"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, leader := s.source.Service()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Leader:        leader,
	})
}

// handleLeader handles GET /leader.
func (s *Server) handleLeader(w http.ResponseWriter, r *http.Request) {
	resp := LeaderResponse{NodeID: s.config.NodeID}
	if svc, ok := s.source.Service(); ok {
		resp.Leader = true
		resp.FencingToken = svc.FencingToken().String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmitJob handles POST /jobs.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	svc, token, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	var g *jobgraph.JobGraph
	if req.JobID != "" {
		g = jobgraph.NewWithID(req.JobID, req.Name, req.Plan, time.Now().UTC())
	} else {
		g = jobgraph.New(req.Name, req.Plan)
	}

	if err := svc.Gateway().SubmitJob(r.Context(), token, g); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	details, err := svc.Gateway().RequestJobStatus(r.Context(), token, g.JobID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, details)
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	svc, token, ok := s.resolve(w, r)
	if !ok {
		return
	}
	jobs, err := svc.Gateway().ListJobs(r.Context(), token)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, JobsResponse{FencingToken: token.String(), Jobs: jobs})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	svc, token, ok := s.resolve(w, r)
	if !ok {
		return
	}
	details, err := svc.Gateway().RequestJobStatus(r.Context(), token, chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

// handleCancelJob handles POST /jobs/{jobID}/cancel.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.finishJob(w, r, dispatcher.StatusCanceled)
}

// handleCompleteJob handles POST /jobs/{jobID}/complete.
func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	var req CompleteJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if !req.Status.Terminal() {
		s.writeError(w, http.StatusBadRequest, "bad_request", "status must be finished, failed or canceled")
		return
	}
	s.finishJob(w, r, req.Status)
}

func (s *Server) finishJob(w http.ResponseWriter, r *http.Request, status dispatcher.JobStatus) {
	svc, token, ok := s.resolve(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")
	var err error
	if status == dispatcher.StatusCanceled {
		err = svc.Gateway().CancelJob(r.Context(), token, jobID)
	} else {
		err = svc.Gateway().CompleteJob(r.Context(), token, jobID, status)
	}
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	details, err := svc.Gateway().RequestJobStatus(r.Context(), token, jobID)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, details)
}

// resolve finds the published service and parses the caller's fencing
// token. It writes the error response itself when it returns false.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (gateway.Service, fencing.Token, bool) {
	raw := strings.TrimSpace(r.Header.Get(FencingTokenHeader))
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", FencingTokenHeader+" header is required")
		return nil, fencing.Token{}, false
	}
	token, err := fencing.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, fencing.Token{}, false
	}
	svc, ok := s.source.Service()
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "not_leader", "no dispatcher is published on this node")
		return nil, fencing.Token{}, false
	}
	return svc, token, true
}

func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	var stale *dispatcher.StaleLeaderError
	switch {
	case errors.As(err, &stale):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:               "stale_leader",
			Message:             err.Error(),
			CurrentFencingToken: stale.Current.String(),
		})
	case errors.Is(err, dispatcher.ErrNotRunning):
		s.writeError(w, http.StatusServiceUnavailable, "not_leader", err.Error())
	case errors.Is(err, dispatcher.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job_not_found", err.Error())
	case errors.Is(err, dispatcher.ErrDuplicateJob):
		s.writeError(w, http.StatusConflict, "duplicate_job", err.Error())
	case errors.Is(err, dispatcher.ErrJobFinished):
		s.writeError(w, http.StatusConflict, "job_finished", err.Error())
	default:
		s.logger.Error("dispatcher call failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: code, Message: message})
}
