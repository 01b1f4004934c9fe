package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/rail-seat-booking/internal/booking"
	"github.com/iliyamo/rail-seat-booking/internal/config"
	"github.com/iliyamo/rail-seat-booking/internal/database"
	"github.com/iliyamo/rail-seat-booking/internal/handler"
	"github.com/iliyamo/rail-seat-booking/internal/middleware"
	"github.com/iliyamo/rail-seat-booking/internal/queue"
	"github.com/iliyamo/rail-seat-booking/internal/repository"
	"github.com/iliyamo/rail-seat-booking/internal/router"
	"github.com/iliyamo/rail-seat-booking/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	stores := booking.Stores{
		Routes:        repository.NewRouteRepo(db),
		Fares:         repository.NewFareRepo(db),
		Inventory:     repository.NewSeatCellRepo(db),
		Orders:        repository.NewOrderRepo(db),
		Cancellations: repository.NewCancellationRepo(db),
	}
	opts := []booking.Option{booking.WithPolicy(booking.Policy{
		PaymentWindow:    cfg.Booking.PaymentWindow,
		PendingWindow:    cfg.Booking.PendingWindow,
		DailyCancelLimit: cfg.Booking.DailyCancelLimit,
		Location:         cfg.Booking.Location(),
	})}
	if cfg.EventsEnabled {
		opts = append(opts, booking.WithPublisher(service.NewQueuePublisher(cfg.RabbitMQURL, cfg.RabbitMQDialTimeout)))
		go func() {
			c := queue.NewConsumer(cfg.RabbitMQURL, cfg.ConsumerLogDir)
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("booking-consumer: stopped: %v", err)
			}
		}()
	}
	mgr := booking.NewManager(stores, opts...)
	p := mgr.Policy()
	log.Printf("booking: payment window %s, pending window %s, %d cancellations/day, tz %s",
		p.PaymentWindow, p.PendingWindow, p.DailyCancelLimit, p.Location)

	sweeper, err := booking.NewSweeper(mgr, booking.SweeperConfig{
		Interval:        cfg.Booking.SweepInterval,
		MaintenanceHour: cfg.Booking.MaintenanceHour,
		BatchSize:       cfg.Booking.SweepBatchSize,
	})
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	sweeper.Start()

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	bh := handler.NewBookingHandler(mgr)
	router.RegisterRoutes(e, db)
	router.RegisterPublic(e, bh, middleware.NewRedisCache(config.LoadCacheConfig(), rdb))
	router.RegisterBooking(e, bh, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterAdmin(e, handler.NewAdminHandler(booking.NewCatalog(stores), mgr), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := sweeper.Shutdown(); err != nil {
		log.Printf("sweeper shutdown: %v", err)
	}
}
