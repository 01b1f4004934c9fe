package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// RouteRepo reads and publishes train routes stored in train_stops.
type RouteRepo struct {
	db *sql.DB
}

// NewRouteRepo returns a RouteRepo bound to db.
func NewRouteRepo(db *sql.DB) *RouteRepo { return &RouteRepo{db: db} }

// ListStops returns the stops of a train ordered by sequence.  A train
// with no stops yields ErrNotFound.
func (r *RouteRepo) ListStops(ctx context.Context, trainNo string) ([]model.Stop, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT train_no, seq, station FROM train_stops WHERE train_no = ? ORDER BY seq`, trainNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stops []model.Stop
	for rows.Next() {
		var s model.Stop
		if err := rows.Scan(&s.TrainNo, &s.Seq, &s.Station); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, ErrNotFound
	}
	return stops, nil
}

// PublishRoute inserts all stops of a train in one transaction.  If the
// train already has stops the call fails with ErrConflict.
func (r *RouteRepo) PublishRoute(ctx context.Context, stops []model.Stop) error {
	if len(stops) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM train_stops WHERE train_no = ? FOR UPDATE`, stops[0].TrainNo).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	query := `INSERT INTO train_stops (train_no, seq, station) VALUES `
	args := make([]interface{}, 0, len(stops)*3)
	for i, s := range stops {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, s.TrainNo, s.Seq, s.Station)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	return tx.Commit()
}

// isDuplicate reports whether err is MySQL's duplicate-key error 1062.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
