package election

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/steward/internal/leader"
	"github.com/mattjoyce/steward/internal/log"
)

// LeaseConfig configures a Lease runner.
type LeaseConfig struct {
	Name            string
	HolderID        string
	Duration        time.Duration
	RenewInterval   time.Duration
	AcquireInterval time.Duration
}

func (c LeaseConfig) validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.HolderID) == "" {
		return errors.New("lease name and holder id are required")
	}
	if c.Duration <= 0 || c.RenewInterval <= 0 || c.AcquireInterval <= 0 {
		return errors.New("lease durations must be positive")
	}
	if c.RenewInterval >= c.Duration {
		return errors.New("renew interval must be shorter than the lease duration")
	}
	return nil
}

// Status is a snapshot of a Lease runner.
type Status struct {
	Leader     bool      `json:"leader"`
	HolderID   string    `json:"holder_id"`
	LeaseEpoch int64     `json:"lease_epoch,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// settler is a contender that can report when a revoke has fully torn
// down its epoch. *leader.Process implements it.
type settler interface {
	RevokeLeadershipAndWait(ctx context.Context) error
}

var _ settler = (*leader.Process)(nil)

// Lease elects a leader through a row in the leader_lease table. Every
// acquisition grants a new session; losing or releasing the lease revokes.
type Lease struct {
	store     *leaseStore
	cfg       LeaseConfig
	contender leader.Contender
	logger    *slog.Logger

	mu     sync.Mutex
	status Status
}

func NewLease(db *sql.DB, cfg LeaseConfig, contender leader.Contender, logger *slog.Logger) (*Lease, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.WithComponent("election")
	}
	return &Lease{
		store:     &leaseStore{db: db, now: time.Now},
		cfg:       cfg,
		contender: contender,
		logger:    logger.With("holder_id", cfg.HolderID, "lease_name", cfg.Name),
		status:    Status{HolderID: cfg.HolderID},
	}, nil
}

func (l *Lease) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Lease) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// Run competes for the lease until ctx is done.
func (l *Lease) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		lease, acquired, err := l.store.acquire(ctx, l.cfg)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("lease acquire failed", "error", err)
		case !acquired:
			l.logger.Debug("lease held elsewhere")
		default:
			l.lead(ctx, lease)
		}

		if !sleepWithContext(ctx, l.cfg.AcquireInterval) {
			return nil
		}
	}
}

func (l *Lease) lead(ctx context.Context, lease leaseRow) {
	session := uuid.New()
	logger := l.logger.With("lease_epoch", lease.leaseEpoch, "session_id", session.String())
	l.setStatus(Status{
		Leader:     true,
		HolderID:   l.cfg.HolderID,
		LeaseEpoch: lease.leaseEpoch,
		SessionID:  session.String(),
		ExpiresAt:  lease.expiresAt,
	})
	logger.Info("lease acquired", "expires_at", lease.expiresAt.Format(time.RFC3339Nano))
	l.contender.GrantLeadership(session)

	lost := l.renewUntilLost(ctx, lease, logger)

	l.revoke(logger)
	l.setStatus(Status{HolderID: l.cfg.HolderID})
	if lost {
		logger.Warn("lease lost")
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), l.cfg.RenewInterval)
	defer cancel()
	if err := l.store.release(releaseCtx, l.cfg, lease.leaseEpoch); err != nil {
		logger.Warn("lease release failed", "error", err)
		return
	}
	logger.Info("lease released")
}

// revoke hands leadership back. When the contender can report teardown, it
// waits up to one lease duration so the job graph writer is closed before
// the lease is released to another holder.
func (l *Lease) revoke(logger *slog.Logger) {
	s, ok := l.contender.(settler)
	if !ok {
		l.contender.RevokeLeadership()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Duration)
	defer cancel()
	if err := s.RevokeLeadershipAndWait(ctx); err != nil {
		logger.Warn("revoke did not settle before release", "error", err)
	}
}

// renewUntilLost renews on every tick. It returns true when the lease was
// lost and false when ctx ended first.
func (l *Lease) renewUntilLost(ctx context.Context, lease leaseRow, logger *slog.Logger) bool {
	ticker := time.NewTicker(l.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			renewed, ok, err := l.store.renew(ctx, l.cfg, lease.leaseEpoch)
			if err != nil && ctx.Err() != nil {
				return false
			}
			if err != nil || !ok {
				logger.Warn("lease renew failed", "error", err)
				return true
			}
			l.mu.Lock()
			l.status.ExpiresAt = renewed.expiresAt
			l.mu.Unlock()
			logger.Debug("lease renewed", "expires_at", renewed.expiresAt.Format(time.RFC3339Nano))
		}
	}
}
