package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/iliyamo/rail-seat-booking/internal/model"
	"github.com/iliyamo/rail-seat-booking/internal/queue"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
)

// SweeperConfig configures the background jobs.
type SweeperConfig struct {
	// Interval between expiry sweeps.
	Interval time.Duration
	// MaintenanceHour is the local hour (in the policy's location) at
	// which stale cancellation counters and past seat cells are purged.
	MaintenanceHour int
	// BatchSize caps orders handled per sweep; 0 means no cap.
	BatchSize int
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Scanned   int
	Expired   int // orders this sweep moved to expired
	Discarded int // orders whose seats were released and row deleted
	Failed    int
}

// Sweeper reclaims orders whose time budget ran out and runs the daily
// maintenance.  Both jobs run on a gocron scheduler that Shutdown stops.
type Sweeper struct {
	m      *Manager
	cfg    SweeperConfig
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweeper registers the sweep and maintenance jobs.  Call Start to run
// them.
func NewSweeper(m *Manager, cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweeper: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MaintenanceHour < 0 || cfg.MaintenanceHour > 23 {
		return nil, fmt.Errorf("sweeper: maintenance hour %d out of range", cfg.MaintenanceHour)
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(m.policy.location()))
	if err != nil {
		return nil, fmt.Errorf("sweeper: new scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{m: m, cfg: cfg, sched: sched, ctx: ctx, cancel: cancel}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.Interval),
		gocron.NewTask(func() { s.RunOnce(s.ctx) }),
		gocron.WithName("order-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sweeper: register sweep: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(cfg.MaintenanceHour), 0, 0))),
		gocron.NewTask(func() {
			if err := s.Maintain(s.ctx); err != nil {
				log.Printf("sweeper: maintenance: %v", err)
			}
		}),
		gocron.WithName("daily-maintenance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sweeper: register maintenance: %w", err)
	}
	return s, nil
}

// Start begins running the jobs in the background.
func (s *Sweeper) Start() {
	s.sched.Start()
	log.Printf("sweeper: started (every %s, maintenance at %02d:00 %s)",
		s.cfg.Interval, s.cfg.MaintenanceHour, s.m.policy.location())
}

// Shutdown cancels a sweep in progress and stops the scheduler.
func (s *Sweeper) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

// RunOnce performs one sweep.  Every deadline is compared against a
// single clock read.  Each order is first claimed with a conditional
// write to expired, so an order that was paid or confirmed a moment ago
// is left alone.  Failures are logged per order and retried next sweep.
func (s *Sweeper) RunOnce(ctx context.Context) SweepStats {
	var st SweepStats
	now := s.m.clock.Now().UTC()
	orders, err := s.m.stores.Orders.ListReclaimable(ctx, now.Add(-s.m.policy.PendingWindow), now, s.cfg.BatchSize)
	if err != nil {
		log.Printf("sweeper: list reclaimable orders: %v", err)
		return st
	}
	st.Scanned = len(orders)
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		o := &orders[i]
		switch o.Status {
		case model.OrderPending, model.OrderConfirmedUnpaid:
			err := s.m.stores.Orders.TransitionOrder(ctx, o.ID, o.Status, model.OrderExpired, now)
			if errors.Is(err, repository.ErrStaleState) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				log.Printf("sweeper: expire order %s: %v", o.ID, err)
				st.Failed++
				continue
			}
			o.Status = model.OrderExpired
			st.Expired++
			s.m.publish(ctx, queue.EventOrderExpired, o, now)
		}
		if err := s.m.discard(ctx, o); err != nil {
			log.Printf("sweeper: %v", err)
			st.Failed++
			continue
		}
		st.Discarded++
	}
	if st.Scanned > 0 {
		log.Printf("sweeper: scanned=%d expired=%d discarded=%d failed=%d",
			st.Scanned, st.Expired, st.Discarded, st.Failed)
	}
	return st
}

// Maintain purges cancellation counters of earlier days and seat cells
// of past service dates.
func (s *Sweeper) Maintain(ctx context.Context) error {
	today := s.m.clock.Now().In(s.m.policy.location()).Format(DateLayout)
	nc, err := s.m.stores.Cancellations.PurgeCancellationsBefore(ctx, today)
	if err != nil {
		return fmt.Errorf("purge cancellations: %w", err)
	}
	ns, err := s.m.stores.Inventory.PurgeCellsBefore(ctx, today)
	if err != nil {
		return fmt.Errorf("purge seat cells: %w", err)
	}
	log.Printf("sweeper: maintenance purged %d cancellation records and %d seat cells before %s", nc, ns, today)
	return nil
}
