package booking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

const (
	testTrain = "G101"
	testDate  = "2026-10-20"

	businessFare = 1000
	secondFare   = 400
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

// fixture is train G101 running A -> B -> C -> D with ten business seats
// in car 1 and three second-class seats in car 2, all available.
type fixture struct {
	store   *repository.MemoryStore
	stores  Stores
	clock   *clockwork.FakeClock
	mgr     *Manager
	alloc   *Allocator
	catalog *Catalog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	stores := Stores{Routes: store, Fares: store, Inventory: store, Orders: store, Cancellations: store}
	clk := clockwork.NewFakeClockAt(t0)
	cat := NewCatalog(stores)

	var fares []FareDef
	for _, seg := range [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}} {
		fares = append(fares,
			FareDef{From: seg[0], To: seg[1], SeatClass: "business", PriceCents: businessFare},
			FareDef{From: seg[0], To: seg[1], SeatClass: "second", PriceCents: secondFare},
		)
	}
	require.NoError(t, cat.PublishTrain(ctx, TrainDefinition{
		TrainNo: testTrain,
		Stops: []StopDef{
			{Seq: 1, Station: "A"}, {Seq: 2, Station: "B"}, {Seq: 3, Station: "C"}, {Seq: 4, Station: "D"},
		},
		Fares: fares,
	}))
	_, err := cat.OpenSales(ctx, OpenSalesRequest{
		TrainNo: testTrain,
		Date:    testDate,
		Cars: []model.Car{
			{CarNo: 1, SeatClass: "business", Seats: seatNumbers(10)},
			{CarNo: 2, SeatClass: "second", Seats: seatNumbers(3)},
		},
	})
	require.NoError(t, err)

	opts = append([]Option{WithClock(clk)}, opts...)
	return &fixture{
		store:   store,
		stores:  stores,
		clock:   clk,
		mgr:     NewManager(stores, opts...),
		alloc:   NewAllocator(store, store, clk),
		catalog: cat,
	}
}

// withInventory returns a Manager sharing the fixture's stores and clock
// but going through inv for seat cells.
func (f *fixture) withInventory(inv InventoryStore, opts ...Option) *Manager {
	stores := f.stores
	stores.Inventory = inv
	return NewManager(stores, append([]Option{WithClock(f.clock)}, opts...)...)
}

func seatNumbers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%dA", i+1)
	}
	return out
}

func passengers(class string, n int) []Passenger {
	out := make([]Passenger, n)
	for i := range out {
		out[i] = Passenger{ID: fmt.Sprintf("P%03d", i+1), Name: fmt.Sprintf("Passenger %d", i+1), SeatClass: class}
	}
	return out
}

func (f *fixture) create(t *testing.T, rider, from, to, class string, n int) *model.Order {
	t.Helper()
	o, err := f.mgr.CreateOrder(context.Background(), CreateOrderRequest{
		RiderID: rider, TrainNo: testTrain, Date: testDate, Origin: from, Destination: to,
		Passengers: passengers(class, n),
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) confirmed(t *testing.T, rider, from, to, class string, n int) (*model.Order, *Confirmation) {
	t.Helper()
	o := f.create(t, rider, from, to, class, n)
	c, err := f.mgr.ConfirmOrder(context.Background(), o.ID, rider)
	require.NoError(t, err)
	return o, c
}

func (f *fixture) cell(t *testing.T, class string, seat model.SeatRef, from, to string) model.SeatCell {
	t.Helper()
	cells, err := f.store.ListCells(context.Background(), testTrain, testDate, class, []model.Segment{{From: from, To: to}})
	require.NoError(t, err)
	for _, c := range cells {
		if c.Key.Seat == seat {
			return c
		}
	}
	t.Fatalf("no cell for %s on %s->%s", seat, from, to)
	return model.SeatCell{}
}

// heldBy counts cells of the fixture train held by holder.
func (f *fixture) heldBy(t *testing.T, holder string) int {
	t.Helper()
	n := 0
	all := []model.Segment{{From: "A", To: "B"}, {From: "B", To: "C"}, {From: "C", To: "D"}}
	for _, class := range []string{"business", "second"} {
		cells, err := f.store.ListCells(context.Background(), testTrain, testDate, class, all)
		require.NoError(t, err)
		for _, c := range cells {
			if c.Status == model.SeatBooked && c.Holder == holder {
				n++
			}
		}
	}
	return n
}

func (f *fixture) availability(t *testing.T, from, to string) map[string]int {
	t.Helper()
	avail, err := f.mgr.Availability(context.Background(), testTrain, testDate, from, to)
	require.NoError(t, err)
	return avail
}

func segmentsOf(t *testing.T, f *fixture, from, to string) []model.Segment {
	t.Helper()
	it, err := resolve(context.Background(), f.store, testTrain, from, to)
	require.NoError(t, err)
	return it.Segments
}
