package jobgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/steward/internal/lock"
)

// SQLStore persists job graphs in the SQLite database opened by
// storage.OpenSQLite. Writer exclusivity is enforced twice: a flock on
// lockPath keeps two local processes out, and the job_graph_writer row fences
// every write by epoch so a writer that lost its lock cannot keep writing.
type SQLStore struct {
	db       *sql.DB
	name     string
	lockPath string
}

// NewSQLStore returns a store named name (one row in job_graph_writer) using
// lockPath for the writer lock.
func NewSQLStore(db *sql.DB, name, lockPath string) *SQLStore {
	if name == "" {
		name = "default"
	}
	return &SQLStore{db: db, name: name, lockPath: lockPath}
}

func (s *SQLStore) RecoverJobGraphs(ctx context.Context) ([]*JobGraph, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT job_id, job_name, plan, digest, submitted_at
FROM job_graphs
ORDER BY submitted_at ASC, job_id ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("query job graphs: %w", err)
	}
	defer rows.Close()

	var out []*JobGraph
	for rows.Next() {
		var (
			jobID, name, digest, submittedAtS string
			plan                              []byte
		)
		if err := rows.Scan(&jobID, &name, &plan, &digest, &submittedAtS); err != nil {
			return nil, fmt.Errorf("scan job graph: %w", err)
		}
		submittedAt, err := time.Parse(time.RFC3339Nano, submittedAtS)
		if err != nil {
			return nil, fmt.Errorf("job %s: parse submitted_at: %w", jobID, err)
		}
		g, err := restore(jobID, name, plan, digest, submittedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job graphs: %w", err)
	}
	return out, nil
}

func (s *SQLStore) WriterFor(ctx context.Context, epoch uint64) (Writer, error) {
	fl, err := lock.Acquire(s.lockPath, fmt.Sprintf("store=%s epoch=%d pid=%d", s.name, epoch, os.Getpid()))
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, fmt.Errorf("epoch %d: %w: %v", epoch, ErrWriterHeld, err)
		}
		return nil, fmt.Errorf("writer lock: %w", err)
	}

	if err := s.claimEpoch(ctx, epoch); err != nil {
		_ = fl.Release()
		return nil, err
	}
	return &sqlWriter{store: s, epoch: epoch, lock: fl}, nil
}

func (s *SQLStore) claimEpoch(ctx context.Context, epoch uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, "SELECT epoch FROM job_graph_writer WHERE store = ?;", s.name).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read writer epoch: %w", err)
	case uint64(current) >= epoch:
		return fmt.Errorf("epoch %d <= %d: %w", epoch, current, ErrStaleEpoch)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	holder, _ := os.Hostname()
	_, err = tx.ExecContext(ctx, `
INSERT INTO job_graph_writer(store, epoch, holder, opened_at, closed_at)
VALUES(?, ?, ?, ?, NULL)
ON CONFLICT(store) DO UPDATE SET
  epoch = excluded.epoch,
  holder = excluded.holder,
  opened_at = excluded.opened_at,
  closed_at = NULL;
`, s.name, int64(epoch), fmt.Sprintf("%s/%d", holder, os.Getpid()), now)
	if err != nil {
		return fmt.Errorf("claim writer epoch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type sqlWriter struct {
	store *SQLStore
	epoch uint64

	mu     sync.Mutex
	lock   *lock.FileLock
	closed bool
}

func (w *sqlWriter) Epoch() uint64 { return w.epoch }

func (w *sqlWriter) Put(ctx context.Context, g *JobGraph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return w.fenced(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO job_graphs(job_id, job_name, plan, digest, submitted_at, written_epoch)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
  job_name = excluded.job_name,
  plan = excluded.plan,
  digest = excluded.digest,
  written_epoch = excluded.written_epoch;
`, g.JobID, g.Name, g.plan, g.digest, g.SubmittedAt.UTC().Format(time.RFC3339Nano), int64(w.epoch))
		if err != nil {
			return fmt.Errorf("put job graph %s: %w", g.JobID, err)
		}
		return nil
	})
}

func (w *sqlWriter) Remove(ctx context.Context, jobID string) error {
	return w.fenced(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM job_graphs WHERE job_id = ?;", jobID)
		if err != nil {
			return fmt.Errorf("remove job graph %s: %w", jobID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("remove %s: %w", jobID, ErrJobNotFound)
		}
		return nil
	})
}

// fenced runs fn in a transaction that first checks this writer still owns
// the store's writer row.
func (w *sqlWriter) fenced(ctx context.Context, fn func(tx *sql.Tx) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		epoch    int64
		closedAt sql.NullString
	)
	err = tx.QueryRowContext(ctx, "SELECT epoch, closed_at FROM job_graph_writer WHERE store = ?;", w.store.name).Scan(&epoch, &closedAt)
	if err != nil {
		return fmt.Errorf("read writer epoch: %w", err)
	}
	if uint64(epoch) != w.epoch {
		return fmt.Errorf("writer epoch %d superseded by %d: %w", w.epoch, epoch, ErrStaleEpoch)
	}
	if closedAt.Valid {
		return ErrWriterClosed
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (w *sqlWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := w.store.db.ExecContext(ctx,
		"UPDATE job_graph_writer SET closed_at = ? WHERE store = ? AND epoch = ?;",
		time.Now().UTC().Format(time.RFC3339Nano), w.store.name, int64(w.epoch))
	if err != nil {
		err = fmt.Errorf("close writer epoch %d: %w", w.epoch, err)
	}
	return errors.Join(err, w.lock.Release())
}
