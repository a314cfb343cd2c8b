package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/steward/internal/events"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/jobgraph"
	"github.com/mattjoyce/steward/internal/log"
)

// Gateway is the handle RPC callers dispatch into.
type Gateway interface {
	FencingToken() fencing.Token
	SubmitJob(ctx context.Context, token fencing.Token, g *jobgraph.JobGraph) error
	ListJobs(ctx context.Context, token fencing.Token) ([]JobDetails, error)
	RequestJobStatus(ctx context.Context, token fencing.Token, jobID string) (JobDetails, error)
	CancelJob(ctx context.Context, token fencing.Token, jobID string) error
	CompleteJob(ctx context.Context, token fencing.Token, jobID string, status JobStatus) error
}

// Options carries the optional collaborators of a Dispatcher.
type Options struct {
	Hub    *events.Hub
	Logger *slog.Logger
	// OnActiveJobs is called with the number of non-terminal jobs after
	// every change.
	OnActiveJobs func(n int)
}

type jobEntry struct {
	graph      *jobgraph.JobGraph
	status     JobStatus
	recovered  bool
	finishedAt *time.Time
}

// Dispatcher accepts job submissions for one fencing token.
type Dispatcher struct {
	token  fencing.Token
	writer jobgraph.Writer
	hub    *events.Hub
	logger *slog.Logger
	onJobs func(int)

	mu      sync.Mutex
	started bool
	stopped bool
	jobs    map[string]*jobEntry
}

var _ Gateway = (*Dispatcher)(nil)

func New(token fencing.Token, writer jobgraph.Writer, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("dispatcher")
	}
	return &Dispatcher{
		token:  token,
		writer: writer,
		hub:    opts.Hub,
		logger: logger.With("fencing_token", token.String()),
		onJobs: opts.OnActiveJobs,
		jobs:   make(map[string]*jobEntry),
	}
}

// Start registers the recovered job graphs and opens the dispatcher for calls.
func (d *Dispatcher) Start(ctx context.Context, recovered []*jobgraph.JobGraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("dispatcher already started")
	}

	for _, g := range recovered {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("recovered job graph: %w", err)
		}
		if _, dup := d.jobs[g.JobID]; dup {
			d.logger.Warn("duplicate recovered job graph ignored", "job_id", g.JobID)
			continue
		}
		d.jobs[g.JobID] = &jobEntry{graph: g, status: StatusRunning, recovered: true}
	}
	d.started = true
	d.logger.Info("dispatcher started", "recovered_jobs", len(d.jobs))
	d.notifyLocked()
	return nil
}

// Stop closes the dispatcher for calls. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.logger.Info("dispatcher stopped", "jobs", len(d.jobs))
}

func (d *Dispatcher) FencingToken() fencing.Token { return d.token }

func (d *Dispatcher) SubmitJob(ctx context.Context, token fencing.Token, g *jobgraph.JobGraph) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(token); err != nil {
		return err
	}
	if e, ok := d.jobs[g.JobID]; ok && !e.status.Terminal() {
		return fmt.Errorf("submit %s: %w", g.JobID, ErrDuplicateJob)
	}

	if err := d.writer.Put(ctx, g); err != nil {
		return fmt.Errorf("persist job graph %s: %w", g.JobID, err)
	}
	d.jobs[g.JobID] = &jobEntry{graph: g, status: StatusRunning}
	log.WithJob(d.logger, g.JobID).Info("job submitted", "name", g.Name)
	d.hub.Publish(events.JobSubmitted, map[string]any{"job_id": g.JobID, "name": g.Name})
	d.notifyLocked()
	return nil
}

func (d *Dispatcher) ListJobs(_ context.Context, token fencing.Token) ([]JobDetails, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(token); err != nil {
		return nil, err
	}
	out := make([]JobDetails, 0, len(d.jobs))
	for _, e := range d.jobs {
		out = append(out, e.details())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (d *Dispatcher) RequestJobStatus(_ context.Context, token fencing.Token, jobID string) (JobDetails, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(token); err != nil {
		return JobDetails{}, err
	}
	e, ok := d.jobs[jobID]
	if !ok {
		return JobDetails{}, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	return e.details(), nil
}

func (d *Dispatcher) CancelJob(ctx context.Context, token fencing.Token, jobID string) error {
	return d.CompleteJob(ctx, token, jobID, StatusCanceled)
}

// CompleteJob moves a job to a terminal status and removes its graph from
// the store.
func (d *Dispatcher) CompleteJob(ctx context.Context, token fencing.Token, jobID string, status JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("complete %s: status %q is not terminal", jobID, status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkLocked(token); err != nil {
		return err
	}
	e, ok := d.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if e.status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", jobID, e.status, ErrJobFinished)
	}

	if err := d.writer.Remove(ctx, jobID); err != nil {
		return fmt.Errorf("remove job graph %s: %w", jobID, err)
	}
	now := time.Now().UTC()
	e.status = status
	e.finishedAt = &now
	log.WithJob(d.logger, jobID).Info("job removed", "status", status)
	d.hub.Publish(events.JobRemoved, map[string]any{"job_id": jobID, "status": status})
	d.notifyLocked()
	return nil
}

func (d *Dispatcher) checkLocked(token fencing.Token) error {
	if !d.started || d.stopped {
		return ErrNotRunning
	}
	if !token.Equal(d.token) {
		return &StaleLeaderError{Got: token, Current: d.token}
	}
	return nil
}

func (d *Dispatcher) notifyLocked() {
	if d.onJobs == nil {
		return
	}
	active := 0
	for _, e := range d.jobs {
		if !e.status.Terminal() {
			active++
		}
	}
	d.onJobs(active)
}

func (e *jobEntry) details() JobDetails {
	return JobDetails{
		JobID:       e.graph.JobID,
		Name:        e.graph.Name,
		Status:      e.status,
		Digest:      e.graph.Digest(),
		Recovered:   e.recovered,
		SubmittedAt: e.graph.SubmittedAt,
		FinishedAt:  e.finishedAt,
	}
}
