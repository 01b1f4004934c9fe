package repository_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-seat-booking/internal/database"
	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// openTestDB connects to the MySQL database named by TEST_MYSQL_DSN,
// migrates it and empties every table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	db, err := database.OpenDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db))
	for _, table := range []string{"order_lines", "orders", "seat_cells", "train_fares", "train_stops", "order_cancellations"} {
		_, err := db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return db
}

func TestMySQLRouteAndFares(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	routes := repository.NewRouteRepo(db)
	fares := repository.NewFareRepo(db)

	stops := []model.Stop{{TrainNo: "G1", Seq: 1, Station: "A"}, {TrainNo: "G1", Seq: 2, Station: "B"}}
	require.NoError(t, routes.PublishRoute(ctx, stops))
	assert.ErrorIs(t, routes.PublishRoute(ctx, stops), repository.ErrConflict)
	got, err := routes.ListStops(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, stops, got)
	_, err = routes.ListStops(ctx, "G2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, fares.SaveFares(ctx, []model.SegmentFare{{TrainNo: "G1", From: "A", To: "B", SeatClass: "second", PriceCents: 300}}))
	require.NoError(t, fares.SaveFares(ctx, []model.SegmentFare{{TrainNo: "G1", From: "A", To: "B", SeatClass: "second", PriceCents: 350}}))
	p, err := fares.FareForSegment(ctx, "G1", "A", "B", "second")
	require.NoError(t, err)
	assert.Equal(t, int64(350), p)
}

func TestMySQLSeatCellCAS(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	cells := repository.NewSeatCellRepo(db)
	k := model.CellKey{TrainNo: "G1", Date: "2026-10-20", SeatClass: "second",
		Seat: model.SeatRef{CarNo: 1, SeatNo: "1A"}, From: "A", To: "B"}

	require.NoError(t, cells.InsertCells(ctx, []model.SeatCell{{Key: k}}))
	assert.ErrorIs(t, cells.InsertCells(ctx, []model.SeatCell{{Key: k}}), repository.ErrConflict)

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	ok, err := cells.MarkBooked(ctx, k, "o-1", at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cells.MarkBooked(ctx, k, "o-2", at)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := cells.ListCells(ctx, "G1", "2026-10-20", "second", []model.Segment{{From: "A", To: "B"}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "o-1", list[0].Holder)
	assert.Equal(t, k, list[0].Key)

	ok, err = cells.MarkAvailable(ctx, k, "o-2")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = cells.MarkAvailable(ctx, k, "o-1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := cells.PurgeCellsBefore(ctx, "2026-10-21")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMySQLOrderLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	orders := repository.NewOrderRepo(db)
	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	o := &model.Order{
		ID: "0b9c2f44-0000-4000-8000-000000000001", RiderID: "r-1", TrainNo: "G1", Date: "2026-10-20",
		Origin: "A", Destination: "B", TotalCents: 300, Status: model.OrderPending,
		CreatedAt: created, UpdatedAt: created,
		Lines: []model.OrderLine{{Seq: 1, PassengerID: "p1", PassengerName: "P", SeatClass: "second",
			TicketType: "adult", PriceCents: 300, From: "A", To: "B"}},
	}
	require.NoError(t, orders.InsertOrder(ctx, o))

	lines := append([]model.OrderLine(nil), o.Lines...)
	lines[0].Seat = &model.SeatRef{CarNo: 1, SeatNo: "1A"}
	deadline := created.Add(20 * time.Minute)
	require.NoError(t, orders.ConfirmOrder(ctx, o.ID, lines, deadline, created))
	assert.ErrorIs(t, orders.ConfirmOrder(ctx, o.ID, lines, deadline, created), repository.ErrStaleState)

	got, err := orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderConfirmedUnpaid, got.Status)
	assert.Equal(t, "2026-10-20", got.Date)
	require.NotNil(t, got.Lines[0].Seat)
	assert.Equal(t, "1A", got.Lines[0].Seat.SeatNo)

	has, err := orders.HasUnexpiredUnpaid(ctx, "r-1", created)
	require.NoError(t, err)
	assert.True(t, has)

	list, err := orders.ListReclaimable(ctx, created, deadline, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Lines, 1)

	assert.ErrorIs(t, orders.MarkPaid(ctx, o.ID, deadline), repository.ErrStaleState)
	require.NoError(t, orders.MarkPaid(ctx, o.ID, deadline.Add(-time.Second)))
	assert.ErrorIs(t, orders.TransitionOrder(ctx, "missing", model.OrderPending, model.OrderExpired, created), repository.ErrNotFound)

	require.NoError(t, orders.DeleteOrder(ctx, o.ID))
	_, err = orders.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMySQLCancellations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c := repository.NewCancellationRepo(db)
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	require.NoError(t, c.RecordCancellation(ctx, "r", "2026-10-19", at))
	require.NoError(t, c.RecordCancellation(ctx, "r", "2026-10-19", at))
	n, err := c.CountCancellations(ctx, "r", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := c.ReserveCancellation(ctx, "r", "2026-10-19", 3, at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.ReserveCancellation(ctx, "r", "2026-10-19", 3, at)
	require.NoError(t, err)
	assert.False(t, ok, "the counter is at the cap")
	require.NoError(t, c.ReleaseCancellation(ctx, "r", "2026-10-19"))
	n, err = c.CountCancellations(ctx, "r", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err = c.ReserveCancellation(ctx, "r2", "2026-10-19", 1, at)
	require.NoError(t, err)
	assert.True(t, ok, "the first reservation inserts the row")

	purged, err := c.PurgeCancellationsBefore(ctx, "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
}

func TestMySQLConfirmOneUnpaidPerRider(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	orders := repository.NewOrderRepo(db)
	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	deadline := created.Add(20 * time.Minute)

	ids := []string{"0b9c2f44-0000-4000-8000-000000000011", "0b9c2f44-0000-4000-8000-000000000012"}
	for _, id := range ids {
		require.NoError(t, orders.InsertOrder(ctx, &model.Order{
			ID: id, RiderID: "r-1", TrainNo: "G1", Date: "2026-10-20", Origin: "A", Destination: "B",
			TotalCents: 300, Status: model.OrderPending, CreatedAt: created, UpdatedAt: created,
		}))
	}

	errs := make(chan error, len(ids))
	for _, id := range ids {
		go func(id string) { errs <- orders.ConfirmOrder(ctx, id, nil, deadline, created) }(id)
	}
	var failed []error
	for range ids {
		if err := <-errs; err != nil {
			failed = append(failed, err)
		}
	}
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], repository.ErrUnpaidOrderExists)
}
