// Package queue defines the order events exchanged over the message
// broker and the consumer that records them.
package queue

// QueueName is the durable RabbitMQ queue carrying order events.
const QueueName = "booking.events"

// Event types.
const (
	EventOrderConfirmed = "order.confirmed"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
	EventOrderExpired   = "order.expired"
)

// OrderEvent is published when an order changes status.  It carries
// enough for downstream consumers to log, notify or run analytics
// without querying the primary database.
type OrderEvent struct {
	Type        string   `json:"type"`
	OrderID     string   `json:"order_id"`
	OrderNumber string   `json:"order_number"`
	RiderID     string   `json:"rider_id"`
	TrainNo     string   `json:"train_no"`
	Date        string   `json:"service_date"`
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	Seats       []string `json:"seats"`
	TotalCents  int64    `json:"total_cents"`
	OccurredAt  string   `json:"occurred_at"`
}
