package jobgraph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps job graphs in process memory. It is the backend for
// single-node and test deployments.
type MemoryStore struct {
	mu        sync.Mutex
	graphs    map[string]*JobGraph
	open      *memoryWriter
	lastEpoch uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{graphs: make(map[string]*JobGraph)}
}

func (s *MemoryStore) RecoverJobGraphs(ctx context.Context) ([]*JobGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*JobGraph, 0, len(s.graphs))
	for _, g := range s.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

func (s *MemoryStore) WriterFor(ctx context.Context, epoch uint64) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return nil, fmt.Errorf("epoch %d: %w (held by epoch %d)", epoch, ErrWriterHeld, s.open.epoch)
	}
	if epoch <= s.lastEpoch {
		return nil, fmt.Errorf("epoch %d <= %d: %w", epoch, s.lastEpoch, ErrStaleEpoch)
	}
	s.lastEpoch = epoch
	w := &memoryWriter{store: s, epoch: epoch}
	s.open = w
	return w, nil
}

type memoryWriter struct {
	store  *MemoryStore
	epoch  uint64
	closed bool // guarded by store.mu
}

func (w *memoryWriter) Epoch() uint64 { return w.epoch }

func (w *memoryWriter) Put(ctx context.Context, g *JobGraph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.store.graphs[g.JobID] = g
	return nil
}

func (w *memoryWriter) Remove(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, ok := w.store.graphs[jobID]; !ok {
		return fmt.Errorf("remove %s: %w", jobID, ErrJobNotFound)
	}
	delete(w.store.graphs, jobID)
	return nil
}

func (w *memoryWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.store.open == w {
		w.store.open = nil
	}
	return nil
}
