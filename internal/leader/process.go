package leader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/steward/internal/events"
	"github.com/mattjoyce/steward/internal/fencing"
	"github.com/mattjoyce/steward/internal/gateway"
	"github.com/mattjoyce/steward/internal/jobgraph"
	"github.com/mattjoyce/steward/internal/log"
	"github.com/mattjoyce/steward/internal/metrics"
)

// Contender receives leadership callbacks from an election runner.
// Implementations must not block.
type Contender interface {
	GrantLeadership(sessionID uuid.UUID)
	RevokeLeadership()
}

// State is the lifecycle state of a Process.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Process. Store and Factory are required.
type Options struct {
	Store   jobgraph.Store
	Factory gateway.Factory
	Minter  *fencing.Minter
	Hub     *events.Hub
	Metrics *metrics.Leader
	Logger  *slog.Logger
	// OnFatal is invoked on its own goroutine when the fatal channel fires.
	OnFatal func(error)
}

type commandKind int

const (
	cmdGrant commandKind = iota
	cmdRevoke
	cmdClose
)

type command struct {
	kind      commandKind
	sessionID uuid.UUID
	// settled, when set, is closed once a revoke has torn everything down.
	settled chan struct{}
}

// epoch is one grant. Identity (pointer equality) decides whether its
// service may be published.
type epoch struct {
	seq       uint64
	sessionID uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *slog.Logger
}

// Process is the dispatcher leader process. It implements Contender.
type Process struct {
	store   jobgraph.Store
	factory gateway.Factory
	minter  *fencing.Minter
	hub     *events.Hub
	metrics *metrics.Leader
	logger  *slog.Logger
	onFatal func(error)

	qmu    sync.Mutex
	queue  []command
	notify chan struct{}

	mu        sync.Mutex
	state     State
	seq       uint64
	current   *epoch
	published gateway.Service

	// inflight is the last epoch whose goroutine was started. Loop only.
	inflight *epoch

	closeOnce sync.Once
	closed    chan struct{}

	fatalOnce sync.Once
	fatal     chan error
}

var _ Contender = (*Process)(nil)

// New creates a Process in the Created state and starts its command loop.
// The loop exits after CloseAsync.
func New(opts Options) (*Process, error) {
	if opts.Store == nil {
		return nil, errors.New("leader: store is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("leader: factory is required")
	}
	minter := opts.Minter
	if minter == nil {
		minter = fencing.NewMinter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("leader")
	}

	p := &Process{
		store:   opts.Store,
		factory: opts.Factory,
		minter:  minter,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		logger:  logger,
		onFatal: opts.OnFatal,
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
		fatal:   make(chan error, 1),
	}
	go p.loop()
	return p, nil
}

// GrantLeadership queues a grant. No-op once the process is stopped.
func (p *Process) GrantLeadership(sessionID uuid.UUID) {
	if p.State() == StateStopped {
		p.logger.Debug("ignoring grant on stopped process", "session_id", sessionID.String())
		return
	}
	p.enqueue(command{kind: cmdGrant, sessionID: sessionID})
}

// RevokeLeadership queues a revoke. No-op once the process is stopped.
func (p *Process) RevokeLeadership() {
	if p.State() == StateStopped {
		p.logger.Debug("ignoring revoke on stopped process")
		return
	}
	p.enqueue(command{kind: cmdRevoke})
}

// RevokeLeadershipAndWait queues a revoke and blocks until the published
// service and any in-flight epoch are torn down, so their writer is closed.
// It returns early when ctx ends or the process stops.
func (p *Process) RevokeLeadershipAndWait(ctx context.Context) error {
	settled := make(chan struct{})
	if p.State() != StateStopped {
		p.enqueue(command{kind: cmdRevoke, settled: settled})
	}
	select {
	case <-settled:
		return nil
	case <-p.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAsync stops the process. Every call returns the same channel, which
// is closed once the published service and any in-flight epoch are torn
// down.
func (p *Process) CloseAsync() <-chan struct{} {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = StateStopped
		// An epoch cancelled by close is superseded, not failed.
		e := p.current
		p.current = nil
		p.mu.Unlock()
		if e != nil {
			e.cancel()
		}
		p.enqueue(command{kind: cmdClose})
	})
	return p.closed
}

// Close stops the process and waits for teardown or ctx.
func (p *Process) Close(ctx context.Context) error {
	select {
	case <-p.CloseAsync():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the process has stopped.
func (p *Process) Done() <-chan struct{} { return p.closed }

// Fatal delivers the first unrecoverable error of a current epoch. It
// fires at most once.
func (p *Process) Fatal() <-chan error { return p.fatal }

func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Service returns the published service, if any.
func (p *Process) Service() (gateway.Service, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.published != nil
}

// CurrentToken returns the fencing token of the published service.
func (p *Process) CurrentToken() (fencing.Token, bool) {
	svc, ok := p.Service()
	if !ok {
		return fencing.Token{}, false
	}
	return svc.FencingToken(), true
}

func (p *Process) enqueue(c command) {
	p.qmu.Lock()
	p.queue = append(p.queue, c)
	p.qmu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Process) dequeue() (command, bool) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if len(p.queue) == 0 {
		return command{}, false
	}
	c := p.queue[0]
	p.queue[0] = command{}
	p.queue = p.queue[1:]
	return c, true
}

func (p *Process) loop() {
	for range p.notify {
		for {
			c, ok := p.dequeue()
			if !ok {
				break
			}
			switch c.kind {
			case cmdGrant:
				p.handleGrant(c.sessionID)
			case cmdRevoke:
				p.handleRevoke()
				if c.settled != nil {
					p.waitInflight()
					close(c.settled)
				}
			case cmdClose:
				p.handleClose()
				return
			}
		}
	}
}

func (p *Process) handleGrant(sessionID uuid.UUID) {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	p.state = StateRunning
	if p.current != nil {
		p.current.cancel()
		p.current = nil
	}
	prev := p.published
	p.published = nil
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	logger := log.WithEpoch(log.WithSession(p.logger, sessionID.String()), seq)
	logger.Info("leadership granted")
	p.metrics.Granted()
	p.hub.Publish(events.LeaderGranted, map[string]any{
		"session_id": sessionID.String(),
		"epoch":      seq,
	})

	if prev != nil {
		p.unpublish(prev, "new grant")
	}
	p.waitInflight()

	ctx, cancel := context.WithCancel(context.Background())
	e := &epoch{
		seq:       seq,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger,
	}

	p.mu.Lock()
	if p.state != StateRunning || p.seq != seq {
		p.mu.Unlock()
		cancel()
		return
	}
	p.current = e
	p.mu.Unlock()

	p.inflight = e
	go p.runEpoch(e)
}

func (p *Process) handleRevoke() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	e := p.current
	p.current = nil
	svc := p.published
	p.published = nil
	p.mu.Unlock()

	if e != nil {
		e.cancel()
	}
	p.logger.Info("leadership revoked", "published", svc != nil)
	p.metrics.Revoked()
	p.hub.Publish(events.LeaderRevoked, map[string]any{"published": svc != nil})

	if svc != nil {
		p.unpublish(svc, "revoke")
	}
}

func (p *Process) handleClose() {
	p.mu.Lock()
	e := p.current
	p.current = nil
	svc := p.published
	p.published = nil
	p.mu.Unlock()

	if e != nil {
		e.cancel()
	}
	if svc != nil {
		p.unpublish(svc, "close")
	}
	p.waitInflight()
	p.logger.Info("leader process stopped")
	close(p.closed)
}

func (p *Process) waitInflight() {
	if p.inflight == nil {
		return
	}
	<-p.inflight.done
	p.inflight = nil
}

// unpublish terminates a service that was reachable.
func (p *Process) unpublish(svc gateway.Service, reason string) {
	token := svc.FencingToken()
	if err := svc.Terminate(context.Background()); err != nil {
		p.logger.Error("terminating published service failed", "fencing_token", token.String(), "reason", reason, "error", err)
	} else {
		p.logger.Info("published service terminated", "fencing_token", token.String(), "reason", reason)
	}
	p.metrics.Unpublished()
}

// runEpoch recovers, creates and publishes or discards the service for e.
func (p *Process) runEpoch(e *epoch) {
	defer close(e.done)
	defer e.cancel()
	started := time.Now()

	recovered, err := p.store.RecoverJobGraphs(e.ctx)
	if err != nil {
		p.epochFailed(e, fmt.Errorf("%w: %w", ErrRecoveryFailed, err))
		return
	}
	e.logger.Info("recovered job graphs", "count", len(recovered))
	p.metrics.Recovered(len(recovered))

	token := p.minter.Next()
	writer, err := p.store.WriterFor(e.ctx, token.Seq())
	if err != nil {
		p.epochFailed(e, fmt.Errorf("%w: open writer for epoch %d: %w", ErrRecoveryFailed, token.Seq(), err))
		return
	}

	svc, err := p.factory.Create(e.ctx, token, recovered, writer)
	if err != nil {
		if cerr := writer.Close(); cerr != nil {
			e.logger.Warn("closing writer after failed creation", "error", cerr)
		}
		if !errors.Is(err, gateway.ErrServiceCreation) {
			err = fmt.Errorf("%w: %w", gateway.ErrServiceCreation, err)
		}
		p.epochFailed(e, err)
		return
	}

	p.mu.Lock()
	publish := p.current == e && p.state == StateRunning
	if publish {
		p.published = svc
	}
	p.mu.Unlock()

	if !publish {
		p.discard(e, svc)
		return
	}

	e.logger.Info("service published", "fencing_token", token.String(), "recovered_jobs", len(recovered))
	p.metrics.Published(token.Seq(), time.Since(started))
	p.hub.Publish(events.ServicePublished, map[string]any{
		"fencing_token": token.String(),
		"epoch":         e.seq,
	})
}

// discard terminates a service whose epoch was superseded before it could
// be published.
func (p *Process) discard(e *epoch, svc gateway.Service) {
	token := svc.FencingToken()
	e.logger.Info("discarding service of superseded epoch", "fencing_token", token.String())
	if err := svc.Terminate(context.Background()); err != nil {
		e.logger.Error("terminating discarded service failed", "error", err)
	}
	p.metrics.Discarded()
	p.hub.Publish(events.ServiceDiscarded, map[string]any{
		"fencing_token": token.String(),
		"epoch":         e.seq,
	})
}

func (p *Process) epochFailed(e *epoch, err error) {
	p.mu.Lock()
	current := p.current == e
	p.mu.Unlock()

	if !current {
		e.logger.Warn("superseded epoch failed", "error", err)
		return
	}
	e.logger.Error("leader epoch failed", "error", err)
	p.fireFatal(err)
}

func (p *Process) fireFatal(err error) {
	p.fatalOnce.Do(func() {
		p.fatal <- err
		p.metrics.Fatal()
		p.hub.Publish(events.LeaderFatal, map[string]any{"error": err.Error()})
		if p.onFatal != nil {
			go p.onFatal(err)
		}
	})
}
