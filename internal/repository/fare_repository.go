package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// FareRepo provides access to per-segment fares in train_fares.
type FareRepo struct {
	db *sql.DB
}

// NewFareRepo returns a FareRepo bound to db.
func NewFareRepo(db *sql.DB) *FareRepo { return &FareRepo{db: db} }

// FareForSegment returns the price in cents of seatClass on the adjacent
// segment from->to.
func (r *FareRepo) FareForSegment(ctx context.Context, trainNo, from, to, seatClass string) (int64, error) {
	var price int64
	err := r.db.QueryRowContext(ctx,
		`SELECT price_cents FROM train_fares
		 WHERE train_no = ? AND from_station = ? AND to_station = ? AND seat_class = ?`,
		trainNo, from, to, seatClass).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return price, err
}

// SaveFares upserts fares in a single statement.
func (r *FareRepo) SaveFares(ctx context.Context, fares []model.SegmentFare) error {
	if len(fares) == 0 {
		return nil
	}
	query := `INSERT INTO train_fares (train_no, from_station, to_station, seat_class, price_cents) VALUES `
	args := make([]interface{}, 0, len(fares)*5)
	for i, f := range fares {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, f.TrainNo, f.From, f.To, f.SeatClass, f.PriceCents)
	}
	query += ` ON DUPLICATE KEY UPDATE price_cents = VALUES(price_cents)`
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
