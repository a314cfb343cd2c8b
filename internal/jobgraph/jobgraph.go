package jobgraph

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// JobGraph is one submitted job: its identity plus the serialized execution
// plan. Values are treated as immutable once built; accessors hand out copies.
type JobGraph struct {
	JobID       string
	Name        string
	SubmittedAt time.Time

	plan   []byte
	digest string
}

// New builds a JobGraph with a fresh id.
func New(name string, plan []byte) *JobGraph {
	return NewWithID(uuid.NewString(), name, plan, time.Now().UTC())
}

// NewWithID builds a JobGraph for a caller-chosen id.
func NewWithID(jobID, name string, plan []byte, submittedAt time.Time) *JobGraph {
	p := append([]byte(nil), plan...)
	return &JobGraph{
		JobID:       jobID,
		Name:        name,
		SubmittedAt: submittedAt,
		plan:        p,
		digest:      Digest(p),
	}
}

// Plan returns a copy of the serialized execution plan.
func (g *JobGraph) Plan() []byte { return append([]byte(nil), g.plan...) }

// Digest is the BLAKE3 hex digest of the plan.
func (g *JobGraph) Digest() string { return g.digest }

// Validate checks the fields a store needs before persisting.
func (g *JobGraph) Validate() error {
	if g == nil {
		return fmt.Errorf("job graph is nil")
	}
	if g.JobID == "" {
		return fmt.Errorf("job id is empty")
	}
	if g.Name == "" {
		return fmt.Errorf("job %s: name is empty", g.JobID)
	}
	return nil
}

// Digest computes the BLAKE3 hex digest of a serialized plan.
func Digest(plan []byte) string {
	sum := blake3.Sum256(plan)
	return hex.EncodeToString(sum[:])
}

// restore rebuilds a graph read back from storage and checks its digest.
func restore(jobID, name string, plan []byte, digest string, submittedAt time.Time) (*JobGraph, error) {
	g := NewWithID(jobID, name, plan, submittedAt)
	if g.digest != digest {
		return nil, fmt.Errorf("job %s: %w (stored %s, computed %s)", jobID, ErrDigestMismatch, digest, g.digest)
	}
	return g, nil
}
