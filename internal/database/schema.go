package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables used by the booking engine.  Every statement
// is idempotent so Migrate can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS train_stops (
		train_no   VARCHAR(16)  NOT NULL,
		seq        INT          NOT NULL,
		station    VARCHAR(64)  NOT NULL,
		PRIMARY KEY (train_no, seq),
		UNIQUE KEY uq_train_station (train_no, station)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS train_fares (
		train_no     VARCHAR(16) NOT NULL,
		from_station VARCHAR(64) NOT NULL,
		to_station   VARCHAR(64) NOT NULL,
		seat_class   VARCHAR(32) NOT NULL,
		price_cents  BIGINT      NOT NULL,
		PRIMARY KEY (train_no, from_station, to_station, seat_class)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS seat_cells (
		train_no     VARCHAR(16) NOT NULL,
		service_date DATE        NOT NULL,
		seat_class   VARCHAR(32) NOT NULL,
		car_no       INT         NOT NULL,
		seat_no      VARCHAR(8)  NOT NULL,
		from_station VARCHAR(64) NOT NULL,
		to_station   VARCHAR(64) NOT NULL,
		status       ENUM('available','booked') NOT NULL DEFAULT 'available',
		holder       VARCHAR(36) NULL,
		held_at      DATETIME    NULL,
		PRIMARY KEY (train_no, service_date, car_no, seat_no, from_station, to_station),
		KEY idx_cells_class (train_no, service_date, seat_class, status),
		KEY idx_cells_holder (holder)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               VARCHAR(36) NOT NULL PRIMARY KEY,
		rider_id         VARCHAR(64) NOT NULL,
		train_no         VARCHAR(16) NOT NULL,
		service_date     DATE        NOT NULL,
		origin           VARCHAR(64) NOT NULL,
		destination      VARCHAR(64) NOT NULL,
		total_cents      BIGINT      NOT NULL,
		status           ENUM('pending','confirmed_unpaid','paid','cancelled','expired') NOT NULL,
		created_at       DATETIME(3) NOT NULL,
		updated_at       DATETIME(3) NOT NULL,
		payment_deadline DATETIME(3) NULL,
		KEY idx_orders_rider (rider_id, status),
		KEY idx_orders_status (status, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id       VARCHAR(36) NOT NULL,
		seq            INT         NOT NULL,
		passenger_id   VARCHAR(64) NOT NULL,
		passenger_name VARCHAR(128) NOT NULL,
		seat_class     VARCHAR(32) NOT NULL,
		ticket_type    VARCHAR(32) NOT NULL,
		price_cents    BIGINT      NOT NULL,
		car_no         INT         NULL,
		seat_no        VARCHAR(8)  NULL,
		from_station   VARCHAR(64) NOT NULL,
		to_station     VARCHAR(64) NOT NULL,
		PRIMARY KEY (order_id, seq),
		CONSTRAINT fk_lines_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS order_cancellations (
		rider_id          VARCHAR(64) NOT NULL,
		cancellation_date DATE        NOT NULL,
		count             INT         NOT NULL DEFAULT 0,
		last_cancelled_at DATETIME(3) NOT NULL,
		PRIMARY KEY (rider_id, cancellation_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing table.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
