package election

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/steward/internal/log"
	"github.com/mattjoyce/steward/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

type recordingContender struct {
	mu       sync.Mutex
	grants   []uuid.UUID
	revokes  int
	granted  chan uuid.UUID
	revokedC chan struct{}
}

func newRecordingContender() *recordingContender {
	return &recordingContender{
		granted:  make(chan uuid.UUID, 16),
		revokedC: make(chan struct{}, 16),
	}
}

func (c *recordingContender) GrantLeadership(id uuid.UUID) {
	c.mu.Lock()
	c.grants = append(c.grants, id)
	c.mu.Unlock()
	c.granted <- id
}

func (c *recordingContender) RevokeLeadership() {
	c.mu.Lock()
	c.revokes++
	c.mu.Unlock()
	c.revokedC <- struct{}{}
}

func (c *recordingContender) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.grants), c.revokes
}

// settlingContender holds a revoke open until the test lets it settle.
type settlingContender struct {
	*recordingContender
	waiting chan struct{}
	settle  chan struct{}
}

func (c *settlingContender) RevokeLeadershipAndWait(ctx context.Context) error {
	c.RevokeLeadership()
	close(c.waiting)
	select {
	case <-c.settle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testLeaseConfig(holder string) LeaseConfig {
	return LeaseConfig{
		Name:            "dispatcher",
		HolderID:        holder,
		Duration:        400 * time.Millisecond,
		RenewInterval:   50 * time.Millisecond,
		AcquireInterval: 20 * time.Millisecond,
	}
}

func waitGrant(t *testing.T, c *recordingContender) uuid.UUID {
	t.Helper()
	select {
	case id := <-c.granted:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("leadership was not granted")
		return uuid.Nil
	}
}

func waitRevoke(t *testing.T, c *recordingContender) {
	t.Helper()
	select {
	case <-c.revokedC:
	case <-time.After(2 * time.Second):
		t.Fatal("leadership was not revoked")
	}
}

func TestStandaloneGrantsUntilStopped(t *testing.T) {
	c := newRecordingContender()
	s := NewStandalone(c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	id := waitGrant(t, c)
	assert.NotEqual(t, uuid.Nil, id)
	cancel()
	require.NoError(t, <-done)
	grants, revokes := c.counts()
	assert.Equal(t, 1, grants)
	assert.Equal(t, 1, revokes)
}

func TestLeaseConfigValidation(t *testing.T) {
	cfg := testLeaseConfig("a")
	require.NoError(t, cfg.validate())

	bad := cfg
	bad.HolderID = " "
	assert.Error(t, bad.validate())

	bad = cfg
	bad.RenewInterval = cfg.Duration
	assert.Error(t, bad.validate())

	bad = cfg
	bad.AcquireInterval = 0
	assert.Error(t, bad.validate())
}

func TestLeaseStoreAcquireRenewRelease(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &leaseStore{db: db, now: func() time.Time { return now }}
	a, b := testLeaseConfig("a"), testLeaseConfig("b")

	lease, ok, err := store.acquire(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), lease.leaseEpoch)

	_, ok, err = store.acquire(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok, "lease is held")

	_, ok, err = store.renew(ctx, b, lease.leaseEpoch)
	require.NoError(t, err)
	assert.False(t, ok, "only the holder can renew")

	now = now.Add(100 * time.Millisecond)
	renewed, ok, err := store.renew(ctx, a, lease.leaseEpoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, renewed.expiresAt.After(lease.expiresAt))

	// Expired leases are taken over with a higher epoch.
	now = now.Add(time.Second)
	_, ok, err = store.renew(ctx, a, lease.leaseEpoch)
	require.NoError(t, err)
	assert.False(t, ok)
	taken, ok, err := store.acquire(ctx, b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), taken.leaseEpoch)

	require.NoError(t, store.release(ctx, b, taken.leaseEpoch))
	again, ok, err := store.acquire(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), again.leaseEpoch)

	row, found, err := store.read(ctx, a.Name)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", row.holderID)
}

func TestLeaseFailsOverOnRelease(t *testing.T) {
	db := openDB(t)
	ca, cb := newRecordingContender(), newRecordingContender()
	la, err := NewLease(db, testLeaseConfig("a"), ca, nil)
	require.NoError(t, err)
	lb, err := NewLease(db, testLeaseConfig("b"), cb, nil)
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	go func() { doneA <- la.Run(ctxA) }()
	sessionA := waitGrant(t, ca)
	assert.True(t, la.Status().Leader)
	assert.Equal(t, sessionA.String(), la.Status().SessionID)

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	doneB := make(chan error, 1)
	go func() { doneB <- lb.Run(ctxB) }()

	// b stays a follower while a renews.
	time.Sleep(150 * time.Millisecond)
	grants, _ := cb.counts()
	assert.Zero(t, grants)
	assert.False(t, lb.Status().Leader)

	cancelA()
	require.NoError(t, <-doneA)
	waitRevoke(t, ca)
	assert.False(t, la.Status().Leader)

	sessionB := waitGrant(t, cb)
	assert.NotEqual(t, sessionA, sessionB)
	assert.Equal(t, int64(2), lb.Status().LeaseEpoch)

	cancelB()
	require.NoError(t, <-doneB)
	waitRevoke(t, cb)
}

func TestLeaseRevokesWhenStolen(t *testing.T) {
	db := openDB(t)
	c := newRecordingContender()
	l, err := NewLease(db, testLeaseConfig("a"), c, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	first := waitGrant(t, c)

	_, err = db.Exec(`UPDATE leader_lease SET holder_id = 'intruder', lease_epoch = lease_epoch + 1, expires_at = ? WHERE lease_name = 'dispatcher';`,
		time.Now().Add(300*time.Millisecond).UnixMilli())
	require.NoError(t, err)

	waitRevoke(t, c)

	// Once the intruder's lease expires the runner wins it back with a new session.
	second := waitGrant(t, c)
	assert.NotEqual(t, first, second)
	assert.Equal(t, int64(3), l.Status().LeaseEpoch)

	cancel()
	require.NoError(t, <-done)
}

func TestLeaseReleasesOnlyAfterRevokeSettles(t *testing.T) {
	db := openDB(t)
	c := &settlingContender{
		recordingContender: newRecordingContender(),
		waiting:            make(chan struct{}),
		settle:             make(chan struct{}),
	}
	cfg := testLeaseConfig("a")
	cfg.Duration = 2 * time.Second
	l, err := NewLease(db, cfg, c, nil)
	require.NoError(t, err)
	store := &leaseStore{db: db, now: time.Now}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	waitGrant(t, c.recordingContender)

	cancel()
	select {
	case <-c.waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("revoke was not requested")
	}

	// Teardown is still running: the lease must stay ours.
	row, found, err := store.read(context.Background(), cfg.Name)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", row.holderID)
	assert.True(t, row.expiresAt.After(time.Now()))

	close(c.settle)
	require.NoError(t, <-done)

	row, _, err = store.read(context.Background(), cfg.Name)
	require.NoError(t, err)
	assert.False(t, row.expiresAt.After(time.Now()), "lease is released once the revoke settled")
}
