package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CancellationRepo keeps one counter row per rider and calendar day in
// order_cancellations.
type CancellationRepo struct {
	db *sql.DB
}

// NewCancellationRepo returns a CancellationRepo bound to db.
func NewCancellationRepo(db *sql.DB) *CancellationRepo { return &CancellationRepo{db: db} }

// CountCancellations returns the rider's cancellation count for day
// (YYYY-MM-DD).  No row means zero.
func (r *CancellationRepo) CountCancellations(ctx context.Context, riderID, day string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count FROM order_cancellations WHERE rider_id = ? AND cancellation_date = ?`,
		riderID, day).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// RecordCancellation increments the counter, creating the row on the
// first cancellation of the day.
func (r *CancellationRepo) RecordCancellation(ctx context.Context, riderID, day string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO order_cancellations (rider_id, cancellation_date, count, last_cancelled_at)
		 VALUES (?, ?, 1, ?)
		 ON DUPLICATE KEY UPDATE count = count + 1, last_cancelled_at = VALUES(last_cancelled_at)`,
		riderID, day, at.UTC())
	return err
}

// ReserveCancellation takes one of the rider's limit slots for day in a
// single upsert.  The counter only moves while it is below limit, so
// concurrent callers cannot push it past the cap.  MySQL reports zero
// affected rows when the update left the row unchanged.
func (r *CancellationRepo) ReserveCancellation(ctx context.Context, riderID, day string, limit int, at time.Time) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO order_cancellations (rider_id, cancellation_date, count, last_cancelled_at)
		 VALUES (?, ?, 1, ?)
		 ON DUPLICATE KEY UPDATE
		   last_cancelled_at = IF(count < ?, VALUES(last_cancelled_at), last_cancelled_at),
		   count = IF(count < ?, count + 1, count)`,
		riderID, day, at.UTC(), limit, limit)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseCancellation decrements the counter after a reserved
// cancellation did not go through.
func (r *CancellationRepo) ReleaseCancellation(ctx context.Context, riderID, day string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE order_cancellations SET count = count - 1
		 WHERE rider_id = ? AND cancellation_date = ? AND count > 0`, riderID, day)
	return err
}

// PurgeCancellationsBefore removes counters for days before day.
func (r *CancellationRepo) PurgeCancellationsBefore(ctx context.Context, day string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM order_cancellations WHERE cancellation_date < ?`, day)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
