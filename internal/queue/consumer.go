package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultDialTimeout bounds the TCP connect and the AMQP handshake.
const DefaultDialTimeout = 2 * time.Second

// Dial connects to the broker at url.  Both the TCP connect and the
// handshake must finish within timeout; zero means DefaultDialTimeout.
func Dial(url string, timeout time.Duration) (*amqp.Connection, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	return amqp.DialConfig(url, amqp.Config{
		Dial:   amqp.DefaultDial(timeout),
		Locale: "en_US",
	})
}

// Consumer reads order events from the booking.events queue and appends
// one line per event to booking.log in its log directory.
type Consumer struct {
	url    string
	logDir string
}

// NewConsumer returns a Consumer for the broker at url writing to logDir.
func NewConsumer(url, logDir string) *Consumer {
	if logDir == "" {
		logDir = "logs"
	}
	return &Consumer{url: url, logDir: logDir}
}

// Run connects to RabbitMQ, declares the durable queue and consumes
// until ctx is cancelled.  Lost connections are re-dialled with
// exponential backoff capped at 30 seconds.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := Dial(c.url, DefaultDialTimeout)
		if err != nil {
			log.Printf("booking-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("booking-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("booking-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				log.Printf("booking-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one event and appends it to booking.log.
func (c *Consumer) HandleMessage(body []byte) error {
	var ev OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.OrderID == "" {
		return errors.New("event without type or order id")
	}
	if err := os.MkdirAll(c.logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(c.logDir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders an event as a single human-friendly log line.
func FormatLine(ev OrderEvent) string {
	seats := "[" + strings.Join(ev.Seats, ",") + "]"
	return fmt.Sprintf("[%s] %s | order_id=%s | order_no=%s | rider_id=%s | train=%s | date=%s | route=%s->%s | total=%d cents | seats=%s\n",
		ev.OccurredAt, ev.Type, ev.OrderID, ev.OrderNumber, ev.RiderID, ev.TrainNo, ev.Date,
		ev.Origin, ev.Destination, ev.TotalCents, seats)
}
