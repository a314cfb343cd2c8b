// Package gateway builds and wraps the running dispatcher for one epoch.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattjoyce/steward/internal/dispatcher"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/jobgraph"
)

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks github.com/mattjoyce/steward/internal/gateway Factory

// Service is one running, addressable dispatcher bound to a fencing token.
type Service interface {
	FencingToken() fencing.Token
	// Gateway is the handle RPC callers dispatch into.
	Gateway() dispatcher.Gateway
	// Terminate stops the service and releases everything acquired at
	// creation. Every call returns the same outcome; ctx only bounds the wait.
	Terminate(ctx context.Context) error
	// Done is closed once termination has completed.
	Done() <-chan struct{}
}

// DispatcherService is the Service backed by a *dispatcher.Dispatcher.
type DispatcherService struct {
	token      fencing.Token
	dispatcher *dispatcher.Dispatcher
	writer     jobgraph.Writer
	logger     *slog.Logger

	mu        sync.Mutex
	recovered []*jobgraph.JobGraph

	once sync.Once
	done chan struct{}
	err  error
}

var _ Service = (*DispatcherService)(nil)

func (s *DispatcherService) FencingToken() fencing.Token { return s.token }

func (s *DispatcherService) Gateway() dispatcher.Gateway { return s.dispatcher }

// RecoveredJobs returns the job graphs the service was started with. Empty
// after termination.
func (s *DispatcherService) RecoveredJobs() []*jobgraph.JobGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*jobgraph.JobGraph(nil), s.recovered...)
}

func (s *DispatcherService) Terminate(ctx context.Context) error {
	s.once.Do(func() { go s.teardown() })
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DispatcherService) Done() <-chan struct{} { return s.done }

func (s *DispatcherService) teardown() {
	defer close(s.done)
	s.dispatcher.Stop()

	s.mu.Lock()
	s.recovered = nil
	s.mu.Unlock()

	s.err = s.writer.Close()
	if s.err != nil {
		s.logger.Error("closing job graph writer failed", "error", s.err)
		return
	}
	s.logger.Info("dispatcher service terminated")
}
