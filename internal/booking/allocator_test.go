package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rail-seat-booking/internal/model"
)

// racingInventory books steal for a rival holder just before the
// allocator's own conditional write reaches it.
type racingInventory struct {
	InventoryStore
	steal model.CellKey
}

func (r *racingInventory) MarkBooked(ctx context.Context, key model.CellKey, holder string, at time.Time) (bool, error) {
	if key == r.steal {
		_, _ = r.InventoryStore.MarkBooked(ctx, key, "rival", at)
	}
	return r.InventoryStore.MarkBooked(ctx, key, holder, at)
}

// flakyInventory fails the first n MarkAvailable calls.
type flakyInventory struct {
	InventoryStore
	failures atomic.Int32
}

func (f *flakyInventory) MarkAvailable(ctx context.Context, key model.CellKey, holder string) (bool, error) {
	if f.failures.Add(-1) >= 0 {
		return false, errors.New("store unavailable")
	}
	return f.InventoryStore.MarkAvailable(ctx, key, holder)
}

// lostReplyInventory applies MarkBooked on key and then reports an
// error, as a connection dropped after the server ran the UPDATE would.
type lostReplyInventory struct {
	InventoryStore
	key model.CellKey
}

func (l *lostReplyInventory) MarkBooked(ctx context.Context, key model.CellKey, holder string, at time.Time) (bool, error) {
	ok, err := l.InventoryStore.MarkBooked(ctx, key, holder, at)
	if key == l.key && err == nil {
		return false, errors.New("connection reset")
	}
	return ok, err
}

func seat(car int, no string) model.SeatRef { return model.SeatRef{CarNo: car, SeatNo: no} }

func TestAllocateAscendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	segs := segmentsOf(t, f, "A", "D")

	var got []string
	for i := 0; i < 10; i++ {
		s, err := f.alloc.Allocate(ctx, testTrain, testDate, "business", segs, fmt.Sprintf("o-%d", i))
		require.NoError(t, err)
		got = append(got, s.SeatNo)
	}
	assert.Equal(t, []string{"1A", "2A", "3A", "4A", "5A", "6A", "7A", "8A", "9A", "10A"}, got)

	_, err := f.alloc.Allocate(ctx, testTrain, testDate, "business", segs, "o-late")
	assert.ErrorIs(t, err, ErrSoldOut)
}

func TestAllocateBooksEverySegment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.alloc.Allocate(ctx, testTrain, testDate, "second", segmentsOf(t, f, "A", "C"), "o-1")
	require.NoError(t, err)
	assert.Equal(t, seat(2, "1A"), s)

	for _, seg := range [][2]string{{"A", "B"}, {"B", "C"}} {
		c := f.cell(t, "second", s, seg[0], seg[1])
		assert.Equal(t, model.SeatBooked, c.Status)
		assert.Equal(t, "o-1", c.Holder)
		require.NotNil(t, c.HeldAt)
		assert.True(t, c.HeldAt.Equal(t0))
	}
	assert.Equal(t, model.SeatAvailable, f.cell(t, "second", s, "C", "D").Status)
}

func TestAllocateOverlapRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	segsAC := segmentsOf(t, f, "A", "C")
	segsBD := segmentsOf(t, f, "B", "D")

	for i := 0; i < 3; i++ {
		_, err := f.alloc.Allocate(ctx, testTrain, testDate, "second", segsAC, fmt.Sprintf("ac-%d", i))
		require.NoError(t, err)
	}
	_, err := f.alloc.Allocate(ctx, testTrain, testDate, "second", segsBD, "bd")
	assert.ErrorIs(t, err, ErrSoldOut, "B->C is taken on every seat")

	s, err := f.alloc.Allocate(ctx, testTrain, testDate, "second", segmentsOf(t, f, "C", "D"), "cd")
	require.NoError(t, err, "C->D does not overlap A->C")
	assert.Equal(t, seat(2, "1A"), s)
}

func TestAllocateCompensatesLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := &racingInventory{
		InventoryStore: f.store,
		steal:          model.CellKey{TrainNo: testTrain, Date: testDate, SeatClass: "second", Seat: seat(2, "1A"), From: "B", To: "C"},
	}
	alloc := NewAllocator(f.store, inv, f.clock)

	s, err := alloc.Allocate(ctx, testTrain, testDate, "second", segmentsOf(t, f, "A", "C"), "o-1")
	require.NoError(t, err)
	assert.Equal(t, seat(2, "2A"), s, "moves on to the next candidate")

	ab := f.cell(t, "second", seat(2, "1A"), "A", "B")
	assert.Equal(t, model.SeatAvailable, ab.Status, "segment flipped before the lost race is rolled back")
	assert.Empty(t, ab.Holder)
	bc := f.cell(t, "second", seat(2, "1A"), "B", "C")
	assert.Equal(t, "rival", bc.Holder)
	assert.Equal(t, 2, f.heldBy(t, "o-1"))
}

func TestAllocateConcurrentSameInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	segs := segmentsOf(t, f, "A", "C")

	const workers = 25
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     = map[model.SeatRef]string{}
		soldOut int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := fmt.Sprintf("o-%d", i)
			s, err := f.alloc.Allocate(ctx, testTrain, testDate, "business", segs, holder)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrSoldOut)
				soldOut++
				return
			}
			prev, dup := won[s]
			assert.False(t, dup, "seat %s sold to %s and %s", s, prev, holder)
			won[s] = holder
		}(i)
	}
	wg.Wait()

	assert.Len(t, won, 10)
	assert.Equal(t, workers-10, soldOut)
	assert.Equal(t, 0, f.availability(t, "A", "B")["business"])
	assert.Equal(t, 0, f.availability(t, "B", "C")["business"])
	assert.Equal(t, 10, f.availability(t, "C", "D")["business"])
}

func TestAllocateConcurrentOverlappingIntervals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spans := [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}, {"A", "D"}, {"B", "C"}}

	type win struct {
		seat model.SeatRef
		segs map[string]bool
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []win
	)
	for i := 0; i < 60; i++ {
		span := spans[i%len(spans)]
		segs := segmentsOf(t, f, span[0], span[1])
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.alloc.Allocate(ctx, testTrain, testDate, "second", segs, fmt.Sprintf("o-%d", i))
			if err != nil {
				assert.ErrorIs(t, err, ErrSoldOut)
				return
			}
			w := win{seat: s, segs: map[string]bool{}}
			for _, sg := range segs {
				w.segs[sg.String()] = true
			}
			mu.Lock()
			wins = append(wins, w)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.NotEmpty(t, wins)
	for i := range wins {
		for j := i + 1; j < len(wins); j++ {
			if wins[i].seat != wins[j].seat {
				continue
			}
			for sg := range wins[i].segs {
				assert.False(t, wins[j].segs[sg], "seat %s double-booked on %s", wins[i].seat, sg)
			}
		}
	}
}

func TestReleaseIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.confirmed(t, "rider-1", "A", "D", "business", 2)
	o, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, 6, f.heldBy(t, o.ID))

	n, err := f.alloc.Release(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	after := f.availability(t, "A", "D")

	n, err = f.alloc.Release(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, after, f.availability(t, "A", "D"))
	assert.Equal(t, 10, after["business"])
}

func TestReleaseOnlyFreesOwnCells(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.alloc.Allocate(ctx, testTrain, testDate, "second", segmentsOf(t, f, "A", "B"), "owner")
	require.NoError(t, err)

	stranger := &model.Order{
		ID: "stranger", TrainNo: testTrain, Date: testDate,
		Lines: []model.OrderLine{{Seq: 1, SeatClass: "second", Seat: &s, From: "A", To: "B"}},
	}
	n, err := f.alloc.Release(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "owner", f.cell(t, "second", s, "A", "B").Holder)
}

func TestReleaseWithoutSeatsIsNoop(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "rider-1", "A", "C", "business", 1)
	n, err := f.alloc.Release(context.Background(), o)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReleaseReportsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.confirmed(t, "rider-1", "A", "C", "business", 2)
	o, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	inv := &flakyInventory{InventoryStore: f.store}
	inv.failures.Store(1)
	alloc := NewAllocator(f.store, inv, f.clock)

	n, err := alloc.Release(ctx, o)
	assert.Error(t, err)
	assert.Equal(t, 3, n, "the other cells are still released")
	assert.Equal(t, 1, f.heldBy(t, o.ID))

	n, err = alloc.Release(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.heldBy(t, o.ID))
}

func TestAllocateReleasesCellWhoseWriteErrored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := &lostReplyInventory{
		InventoryStore: f.store,
		key:            model.CellKey{TrainNo: testTrain, Date: testDate, SeatClass: "second", Seat: seat(2, "1A"), From: "B", To: "C"},
	}
	alloc := NewAllocator(f.store, inv, f.clock)

	_, err := alloc.Allocate(ctx, testTrain, testDate, "second", segmentsOf(t, f, "A", "C"), "o-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSoldOut)

	for _, seg := range [][2]string{{"A", "B"}, {"B", "C"}} {
		c := f.cell(t, "second", seat(2, "1A"), seg[0], seg[1])
		assert.Equal(t, model.SeatAvailable, c.Status, "%s->%s", seg[0], seg[1])
		assert.Empty(t, c.Holder)
	}
	assert.Zero(t, f.heldBy(t, "o-1"))
}
