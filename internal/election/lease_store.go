package election

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type leaseRow struct {
	holderID   string
	leaseEpoch int64
	expiresAt  time.Time
}

type leaseStore struct {
	db  *sql.DB
	now func() time.Time
}

// acquire takes the lease when it is free or expired, bumping its epoch.
func (s *leaseStore) acquire(ctx context.Context, cfg LeaseConfig) (leaseRow, bool, error) {
	now := s.now().UTC()
	expires := now.Add(cfg.Duration)

	row := s.db.QueryRowContext(ctx, `
UPDATE leader_lease
   SET holder_id = ?, lease_epoch = lease_epoch + 1,
       acquired_at = ?, renewed_at = ?, expires_at = ?
 WHERE lease_name = ? AND expires_at <= ?
RETURNING lease_epoch, expires_at;`,
		cfg.HolderID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), expires.UnixMilli(),
		cfg.Name, now.UnixMilli(),
	)
	lease, err := scanLease(row, cfg.HolderID)
	if err == nil {
		return lease, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return leaseRow{}, false, err
	}

	row = s.db.QueryRowContext(ctx, `
INSERT INTO leader_lease (lease_name, holder_id, lease_epoch, acquired_at, renewed_at, expires_at)
VALUES (?, ?, 1, ?, ?, ?)
ON CONFLICT(lease_name) DO NOTHING
RETURNING lease_epoch, expires_at;`,
		cfg.Name, cfg.HolderID, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), expires.UnixMilli(),
	)
	lease, err = scanLease(row, cfg.HolderID)
	if errors.Is(err, sql.ErrNoRows) {
		return leaseRow{}, false, nil
	}
	if err != nil {
		return leaseRow{}, false, err
	}
	return lease, true, nil
}

// renew extends a lease still held by cfg.HolderID at epoch.
func (s *leaseStore) renew(ctx context.Context, cfg LeaseConfig, epoch int64) (leaseRow, bool, error) {
	now := s.now().UTC()
	row := s.db.QueryRowContext(ctx, `
UPDATE leader_lease
   SET renewed_at = ?, expires_at = ?
 WHERE lease_name = ? AND holder_id = ? AND lease_epoch = ? AND expires_at > ?
RETURNING lease_epoch, expires_at;`,
		now.Format(time.RFC3339Nano), now.Add(cfg.Duration).UnixMilli(),
		cfg.Name, cfg.HolderID, epoch, now.UnixMilli(),
	)
	lease, err := scanLease(row, cfg.HolderID)
	if errors.Is(err, sql.ErrNoRows) {
		return leaseRow{}, false, nil
	}
	if err != nil {
		return leaseRow{}, false, err
	}
	return lease, true, nil
}

// release expires a lease held at epoch so a standby can take over.
func (s *leaseStore) release(ctx context.Context, cfg LeaseConfig, epoch int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE leader_lease SET expires_at = ?
 WHERE lease_name = ? AND holder_id = ? AND lease_epoch = ?;`,
		s.now().UTC().UnixMilli(), cfg.Name, cfg.HolderID, epoch,
	)
	return err
}

func (s *leaseStore) read(ctx context.Context, name string) (leaseRow, bool, error) {
	var lease leaseRow
	var expiresMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT holder_id, lease_epoch, expires_at FROM leader_lease WHERE lease_name = ?;`, name,
	).Scan(&lease.holderID, &lease.leaseEpoch, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return leaseRow{}, false, nil
	}
	if err != nil {
		return leaseRow{}, false, err
	}
	lease.expiresAt = time.UnixMilli(expiresMs).UTC()
	return lease, true, nil
}

func scanLease(row *sql.Row, holderID string) (leaseRow, error) {
	var epoch, expiresMs int64
	if err := row.Scan(&epoch, &expiresMs); err != nil {
		return leaseRow{}, err
	}
	return leaseRow{holderID: holderID, leaseEpoch: epoch, expiresAt: time.UnixMilli(expiresMs).UTC()}, nil
}
