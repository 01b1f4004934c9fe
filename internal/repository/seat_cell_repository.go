package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// insertChunk bounds the number of rows per multi-row INSERT so a large
// train stays under max_allowed_packet and the placeholder limit.
const insertChunk = 500

// SeatCellRepo stores per-segment seat occupancy in seat_cells.  Booking
// and release are single conditional UPDATEs; the affected row count
// tells the caller whether the compare-and-set succeeded.
type SeatCellRepo struct {
	db *sql.DB
}

// NewSeatCellRepo returns a SeatCellRepo bound to db.
func NewSeatCellRepo(db *sql.DB) *SeatCellRepo { return &SeatCellRepo{db: db} }

// HasCells reports whether sales were already opened for a train/date.
func (r *SeatCellRepo) HasCells(ctx context.Context, trainNo, date string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM seat_cells WHERE train_no = ? AND service_date = ? LIMIT 1`,
		trainNo, date).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// InsertCells writes new cells inside one transaction, in chunks.  A
// duplicate key rolls the whole batch back and returns ErrConflict.
func (r *SeatCellRepo) InsertCells(ctx context.Context, cells []model.SeatCell) error {
	if len(cells) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(cells); start += insertChunk {
		end := start + insertChunk
		if end > len(cells) {
			end = len(cells)
		}
		chunk := cells[start:end]
		var b strings.Builder
		b.WriteString(`INSERT INTO seat_cells (train_no, service_date, seat_class, car_no, seat_no, from_station, to_station, status) VALUES `)
		args := make([]interface{}, 0, len(chunk)*8)
		for i, c := range chunk {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			status := c.Status
			if status == "" {
				status = model.SeatAvailable
			}
			k := c.Key
			args = append(args, k.TrainNo, k.Date, k.SeatClass, k.Seat.CarNo, k.Seat.SeatNo, k.From, k.To, string(status))
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			if isDuplicate(err) {
				return ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

// SeatClasses lists the distinct seat classes with cells on a train/date.
func (r *SeatCellRepo) SeatClasses(ctx context.Context, trainNo, date string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT seat_class FROM seat_cells
		 WHERE train_no = ? AND service_date = ? ORDER BY seat_class`, trainNo, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCells returns the cells of one seat class on the given segments.
func (r *SeatCellRepo) ListCells(ctx context.Context, trainNo, date, seatClass string, segments []model.Segment) ([]model.SeatCell, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`SELECT car_no, seat_no, from_station, to_station, status, holder, held_at
		FROM seat_cells
		WHERE train_no = ? AND service_date = ? AND seat_class = ? AND (from_station, to_station) IN (`)
	args := []interface{}{trainNo, date, seatClass}
	for i, s := range segments {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?)")
		args = append(args, s.From, s.To)
	}
	b.WriteString(")")

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SeatCell
	for rows.Next() {
		var (
			c      model.SeatCell
			status string
			holder sql.NullString
			heldAt sql.NullTime
		)
		if err := rows.Scan(&c.Key.Seat.CarNo, &c.Key.Seat.SeatNo, &c.Key.From, &c.Key.To, &status, &holder, &heldAt); err != nil {
			return nil, err
		}
		c.Key.TrainNo, c.Key.Date, c.Key.SeatClass = trainNo, date, seatClass
		c.Status = model.SeatStatus(status)
		c.Holder = holder.String
		if heldAt.Valid {
			t := heldAt.Time
			c.HeldAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkBooked sets an available cell to booked for holder.  It reports
// false when no available row matched.
func (r *SeatCellRepo) MarkBooked(ctx context.Context, key model.CellKey, holder string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seat_cells SET status = 'booked', holder = ?, held_at = ?
		 WHERE train_no = ? AND service_date = ? AND car_no = ? AND seat_no = ?
		   AND from_station = ? AND to_station = ? AND status = 'available'`,
		holder, at.UTC(), key.TrainNo, key.Date, key.Seat.CarNo, key.Seat.SeatNo, key.From, key.To)
	return affectedOne(res, err)
}

// MarkAvailable frees a cell booked by holder.  It reports false when
// the cell is not booked by that holder.
func (r *SeatCellRepo) MarkAvailable(ctx context.Context, key model.CellKey, holder string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seat_cells SET status = 'available', holder = NULL, held_at = NULL
		 WHERE train_no = ? AND service_date = ? AND car_no = ? AND seat_no = ?
		   AND from_station = ? AND to_station = ? AND status = 'booked' AND holder = ?`,
		key.TrainNo, key.Date, key.Seat.CarNo, key.Seat.SeatNo, key.From, key.To, holder)
	return affectedOne(res, err)
}

// PurgeCellsBefore deletes cells of service dates earlier than date.
func (r *SeatCellRepo) PurgeCellsBefore(ctx context.Context, date string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM seat_cells WHERE service_date < ?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
