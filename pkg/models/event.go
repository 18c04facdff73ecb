package models

import "time"

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusUpdated EventType = "order.status_updated"
	EventOrderDeleted       EventType = "order.deleted"
)

type OrderEvent struct {
	EventID     string    `json:"event_id"`
	Type        EventType `json:"type"`
	OrderID     int64     `json:"order_id"`
	CustomerID  int64     `json:"customer_id,omitempty"`
	Status      Status    `json:"status,omitempty"`
	TotalAmount float64   `json:"total_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}
