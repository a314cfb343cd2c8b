package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/steward/internal/dispatcher"
	"github.com/mattjoyce/steward/internal/events"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/jobgraph"
	"github.com/mattjoyce/steward/internal/log"
)

// ErrServiceCreation wraps every failure to build or start a service.
var ErrServiceCreation = errors.New("service creation failed")

// Factory builds and starts one Service. On error nothing was started and
// the caller still owns writer; on success the returned Service owns it.
type Factory interface {
	Create(ctx context.Context, token fencing.Token, recovered []*jobgraph.JobGraph, writer jobgraph.Writer) (Service, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, token fencing.Token, recovered []*jobgraph.JobGraph, writer jobgraph.Writer) (Service, error)

func (f FactoryFunc) Create(ctx context.Context, token fencing.Token, recovered []*jobgraph.JobGraph, writer jobgraph.Writer) (Service, error) {
	return f(ctx, token, recovered, writer)
}

// DispatcherFactory creates DispatcherServices.
type DispatcherFactory struct {
	Hub          *events.Hub
	Logger       *slog.Logger
	OnActiveJobs func(n int)
}

func (f *DispatcherFactory) Create(ctx context.Context, token fencing.Token, recovered []*jobgraph.JobGraph, writer jobgraph.Writer) (Service, error) {
	if token.IsZero() {
		return nil, fmt.Errorf("%w: fencing token is empty", ErrServiceCreation)
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: job graph writer is nil", ErrServiceCreation)
	}

	logger := f.Logger
	if logger == nil {
		logger = log.WithComponent("gateway")
	}
	logger = logger.With("fencing_token", token.String())

	d := dispatcher.New(token, writer, dispatcher.Options{
		Hub:          f.Hub,
		Logger:       logger,
		OnActiveJobs: f.OnActiveJobs,
	})
	if err := d.Start(ctx, recovered); err != nil {
		return nil, fmt.Errorf("%w: could not start the dispatcher: %w", ErrServiceCreation, err)
	}

	return &DispatcherService{
		token:      token,
		dispatcher: d,
		writer:     writer,
		logger:     logger,
		recovered:  append([]*jobgraph.JobGraph(nil), recovered...),
		done:       make(chan struct{}),
	}, nil
}
