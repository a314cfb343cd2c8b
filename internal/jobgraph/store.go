package jobgraph

import (
	"context"
	"errors"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/steward/internal/jobgraph Store,Writer

var (
	// ErrWriterClosed is returned by writes on a writer after Close.
	ErrWriterClosed = errors.New("job graph writer is closed")
	// ErrWriterHeld is returned by WriterFor while another writer is open.
	ErrWriterHeld = errors.New("job graph writer already held")
	// ErrStaleEpoch is returned when a writer is requested for, or writes
	// under, an epoch older than the newest one the store has seen.
	ErrStaleEpoch = errors.New("job graph writer epoch is stale")
	// ErrJobNotFound is returned by Remove for unknown job ids.
	ErrJobNotFound = errors.New("job graph not found")
	// ErrDigestMismatch marks a persisted plan that no longer matches its digest.
	ErrDigestMismatch = errors.New("job graph digest mismatch")
)

// Store persists submitted job graphs across leadership epochs.
type Store interface {
	// RecoverJobGraphs returns every persisted job graph, oldest first.
	RecoverJobGraphs(ctx context.Context) ([]*JobGraph, error)
	// WriterFor opens the single writer for epoch. Only one writer may be
	// open per store and epochs must grow across calls.
	WriterFor(ctx context.Context, epoch uint64) (Writer, error)
}

// Writer is the epoch-scoped write capability handed to a running dispatcher.
type Writer interface {
	Epoch() uint64
	Put(ctx context.Context, g *JobGraph) error
	Remove(ctx context.Context, jobID string) error
	// Close revokes the writer. Further writes fail with ErrWriterClosed.
	// Safe to call more than once.
	Close() error
}
