package jobstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease represents a granted capacity reservation.
type Lease struct {
	ID         string
	ReservedAt time.Time
	ExpiresAt  time.Time
	ReleasedAt *time.Time
}

// Active reports whether the lease is neither released nor expired as of
// now.
func (l Lease) Active(now time.Time) bool {
	return l.ReleasedAt == nil && now.Before(l.ExpiresAt)
}

// ErrBusy is returned by Reserve when the worker is already at its
// configured concurrency limit.
var ErrBusy = errors.New("jobstate: at capacity")

// Reserve grants a new lease if fewer than maxConcurrent leases are
// currently active, expiring lazily (any lease whose TTL has passed is
// treated as inactive without a background sweeper). ttl defaults to
// defaultTTL when zero.
func (s *Store) Reserve(ctx context.Context, maxConcurrent int, ttl, defaultTTL time.Duration) (Lease, error) {
	ctx = ctxOrBackground(ctx)
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Lease{}, fmt.Errorf("jobstate: begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	active, err := countActiveLeases(tx, now)
	if err != nil {
		return Lease{}, err
	}
	if active >= maxConcurrent {
		return Lease{}, ErrBusy
	}

	id := uuid.NewString()
	expiresAt := now.Add(ttl)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO leases (id, reserved_at, expires_at) VALUES (?, ?, ?)`,
		id, now, expiresAt,
	); err != nil {
		return Lease{}, fmt.Errorf("jobstate: insert lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Lease{}, fmt.Errorf("jobstate: commit reserve: %w", err)
	}
	return Lease{ID: id, ReservedAt: now, ExpiresAt: expiresAt}, nil
}

func countActiveLeases(tx *sql.Tx, now time.Time) (int, error) {
	row := tx.QueryRow(
		`SELECT COUNT(*) FROM leases WHERE released_at IS NULL AND expires_at > ?`,
		now,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("jobstate: count active leases: %w", err)
	}
	return n, nil
}

// Release releases leaseID. It is idempotent: releasing an already-released
// or nonexistent lease returns released=false, not an error (spec P5).
func (s *Store) Release(ctx context.Context, leaseID string) (released bool, err error) {
	ctx = ctxOrBackground(ctx)
	res, err := s.db.ExecContext(ctx,
		`UPDATE leases SET released_at = ? WHERE id = ? AND released_at IS NULL`,
		time.Now().UTC(), leaseID,
	)
	if err != nil {
		return false, fmt.Errorf("jobstate: release lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("jobstate: release lease rows affected: %w", err)
	}
	return n > 0, nil
}

// GetLease loads a lease by id for inspection (e.g. submit validating
// lease_id).
func (s *Store) GetLease(ctx context.Context, leaseID string) (Lease, bool, error) {
	ctx = ctxOrBackground(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reserved_at, expires_at, released_at FROM leases WHERE id = ?`,
		leaseID,
	)
	var l Lease
	var released sql.NullTime
	if err := row.Scan(&l.ID, &l.ReservedAt, &l.ExpiresAt, &released); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lease{}, false, nil
		}
		return Lease{}, false, fmt.Errorf("jobstate: get lease: %w", err)
	}
	if released.Valid {
		l.ReleasedAt = &released.Time
	}
	return l, true, nil
}
