package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// OrderRepo persists orders and their passenger lines.  Every status
// change is a conditional UPDATE on the expected current status, so two
// actors racing on the same order (a rider paying and the sweeper
// expiring) cannot both win.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns an OrderRepo bound to db.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, rider_id, train_no, DATE_FORMAT(service_date, '%Y-%m-%d'), origin, destination,
	total_cents, status, created_at, updated_at, payment_deadline`

// InsertOrder writes the order row and its lines in one transaction.
func (r *OrderRepo) InsertOrder(ctx context.Context, o *model.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, rider_id, train_no, service_date, origin, destination,
		                     total_cents, status, created_at, updated_at, payment_deadline)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RiderID, o.TrainNo, o.Date, o.Origin, o.Destination,
		o.TotalCents, string(o.Status), o.CreatedAt.UTC(), o.UpdatedAt.UTC(), nullTime(o.PaymentDeadline))
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	if len(o.Lines) > 0 {
		query := `INSERT INTO order_lines (order_id, seq, passenger_id, passenger_name, seat_class,
			ticket_type, price_cents, car_no, seat_no, from_station, to_station) VALUES `
		args := make([]interface{}, 0, len(o.Lines)*11)
		for i, l := range o.Lines {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			var car sql.NullInt64
			var seat sql.NullString
			if l.Seat != nil {
				car = sql.NullInt64{Int64: int64(l.Seat.CarNo), Valid: true}
				seat = sql.NullString{String: l.Seat.SeatNo, Valid: true}
			}
			args = append(args, o.ID, l.Seq, l.PassengerID, l.PassengerName, l.SeatClass,
				l.TicketType, l.PriceCents, car, seat, l.From, l.To)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetOrder loads an order and its lines.  ErrNotFound if absent.
func (r *OrderRepo) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	lines, err := r.listLines(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

func (r *OrderRepo) listLines(ctx context.Context, orderID string) ([]model.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT order_id, seq, passenger_id, passenger_name, seat_class, ticket_type,
		        price_cents, car_no, seat_no, from_station, to_station
		 FROM order_lines WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.OrderLine
	for rows.Next() {
		var (
			l    model.OrderLine
			car  sql.NullInt64
			seat sql.NullString
		)
		if err := rows.Scan(&l.OrderID, &l.Seq, &l.PassengerID, &l.PassengerName, &l.SeatClass,
			&l.TicketType, &l.PriceCents, &car, &seat, &l.From, &l.To); err != nil {
			return nil, err
		}
		if car.Valid && seat.Valid {
			l.Seat = &model.SeatRef{CarNo: int(car.Int64), SeatNo: seat.String}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ConfirmOrder moves a pending order to confirmed_unpaid and records the
// seat allocated to every line.  ErrStaleState when the order is no
// longer pending, ErrUnpaidOrderExists when the rider already has an
// unexpired confirmed_unpaid order.  All of the rider's order rows are
// locked for the check, so concurrent confirms of one rider serialize.
func (r *OrderRepo) ConfirmOrder(ctx context.Context, id string, lines []model.OrderLine, deadline, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var riderID string
	err = tx.QueryRowContext(ctx, `SELECT rider_id FROM orders WHERE id = ?`, id).Scan(&riderID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	unpaid, err := lockUnpaid(ctx, tx, riderID, id, at)
	if err != nil {
		return err
	}
	if unpaid {
		return ErrUnpaidOrderExists
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = 'confirmed_unpaid', payment_deadline = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`, deadline.UTC(), at.UTC(), id)
	if ok, err := affectedOne(res, err); err != nil {
		return err
	} else if !ok {
		return r.staleOrMissing(ctx, tx, id)
	}
	for _, l := range lines {
		if l.Seat == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE order_lines SET car_no = ?, seat_no = ? WHERE order_id = ? AND seq = ?`,
			l.Seat.CarNo, l.Seat.SeatNo, id, l.Seq); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// lockUnpaid locks every order row of the rider in id order and reports
// whether one other than exceptID is confirmed_unpaid with a deadline
// after at.  The read is a locking read, so it sees rows committed by a
// transaction that held the locks before us.
func lockUnpaid(ctx context.Context, tx *sql.Tx, riderID, exceptID string, at time.Time) (bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, payment_deadline FROM orders WHERE rider_id = ? ORDER BY id FOR UPDATE`, riderID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var (
			id, status string
			deadline   sql.NullTime
		)
		if err := rows.Scan(&id, &status, &deadline); err != nil {
			return false, err
		}
		if id != exceptID && model.OrderStatus(status) == model.OrderConfirmedUnpaid &&
			deadline.Valid && at.Before(deadline.Time) {
			found = true
		}
	}
	return found, rows.Err()
}

// TransitionOrder sets status to `to` only if it currently equals `from`.
func (r *OrderRepo) TransitionOrder(ctx context.Context, id string, from, to model.OrderStatus, at time.Time) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UTC(), id, string(from))
	if ok, err := affectedOne(res, err); err != nil {
		return err
	} else if !ok {
		return r.staleOrMissing(ctx, r.db, id)
	}
	return nil
}

// MarkPaid moves a confirmed_unpaid order to paid while its deadline is
// still ahead of at.
func (r *OrderRepo) MarkPaid(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = 'paid', updated_at = ?
		 WHERE id = ? AND status = 'confirmed_unpaid' AND payment_deadline > ?`,
		at.UTC(), id, at.UTC())
	if ok, err := affectedOne(res, err); err != nil {
		return err
	} else if !ok {
		return r.staleOrMissing(ctx, r.db, id)
	}
	return nil
}

// DeleteOrder removes the order; lines cascade.  Missing orders are not
// an error.
func (r *OrderRepo) DeleteOrder(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
	return err
}

// HasUnexpiredUnpaid reports whether the rider has a confirmed_unpaid
// order still inside its payment window.
func (r *OrderRepo) HasUnexpiredUnpaid(ctx context.Context, riderID string, now time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM orders
		 WHERE rider_id = ? AND status = 'confirmed_unpaid' AND payment_deadline > ? LIMIT 1`,
		riderID, now.UTC()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListReclaimable returns orders the sweeper must destroy, oldest first.
// Lines are loaded for each order so the caller can release seats.
func (r *OrderRepo) ListReclaimable(ctx context.Context, pendingCutoff, now time.Time, limit int) ([]model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders
		WHERE (status = 'pending' AND created_at <= ?)
		   OR (status = 'confirmed_unpaid' AND payment_deadline <= ?)
		   OR status IN ('expired', 'cancelled')
		ORDER BY created_at, id`
	args := []interface{}{pendingCutoff.UTC(), now.UTC()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range out {
		lines, err := r.listLines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// staleOrMissing tells a zero-row conditional update on an existing order
// apart from one on a missing order.
func (r *OrderRepo) staleOrMissing(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleState
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*model.Order, error) {
	var (
		o        model.Order
		status   string
		deadline sql.NullTime
	)
	if err := s.Scan(&o.ID, &o.RiderID, &o.TrainNo, &o.Date, &o.Origin, &o.Destination,
		&o.TotalCents, &status, &o.CreatedAt, &o.UpdatedAt, &deadline); err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	if deadline.Valid {
		d := deadline.Time
		o.PaymentDeadline = &d
	}
	return &o, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
