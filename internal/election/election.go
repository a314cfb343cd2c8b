// Package election supplies the runners that drive a leader.Contender.
package election

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/steward/internal/leader"
	"github.com/mattjoyce/steward/internal/log"
)

// Runner drives a contender until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Standalone grants leadership once and revokes it when stopped. It is
// the single-node mode: there is nobody to compete with.
type Standalone struct {
	contender leader.Contender
	logger    *slog.Logger
}

func NewStandalone(contender leader.Contender, logger *slog.Logger) *Standalone {
	if logger == nil {
		logger = log.WithComponent("election")
	}
	return &Standalone{contender: contender, logger: logger}
}

func (s *Standalone) Run(ctx context.Context) error {
	session := uuid.New()
	s.logger.Info("standalone leadership granted", "session_id", session.String())
	s.contender.GrantLeadership(session)
	<-ctx.Done()
	s.logger.Info("standalone leadership revoked", "session_id", session.String())
	s.contender.RevokeLeadership()
	return nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
