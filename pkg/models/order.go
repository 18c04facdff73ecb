package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every status an order may hold. Any status may be
// overwritten by any other; there is no transition table.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusCancelled}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

var (
	ErrStatusRequired = errors.New("status is required")
	ErrUnknownStatus  = errors.New("unknown status")
)

// ParseStatus accepts exactly one of the Statuses values. Matching is case
// sensitive.
func ParseStatus(raw string) (Status, error) {
	if raw == "" {
		return "", ErrStatusRequired
	}
	status := Status(raw)
	if !status.Valid() {
		return "", ErrUnknownStatus
	}
	return status, nil
}

func (s Status) String() string {
	return string(s)
}

type Order struct {
	ID          int64       `json:"id"`
	CustomerID  int64       `json:"customer_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Status      Status      `json:"status"`
	TotalAmount float64     `json:"total_amount"`
	Items       []OrderItem `json:"items"`
}

type OrderItem struct {
	ID        int64      `json:"id"`
	ProductID ProductRef `json:"product_id"`
	Quantity  int        `json:"quantity"`
	UnitPrice float64    `json:"unit_price"`
	Total     float64    `json:"total"`
}

// OrderDraft is a fully priced order that has not been assigned ids yet.
type OrderDraft struct {
	CustomerID  int64
	Items       []DraftItem
	TotalAmount float64
}

type DraftItem struct {
	ProductID ProductRef
	Quantity  int
	UnitPrice float64
}

// LineTotal returns quantity*unitPrice computed in decimal arithmetic.
func LineTotal(quantity int, unitPrice float64) float64 {
	return lineTotal(quantity, unitPrice).InexactFloat64()
}

func lineTotal(quantity int, unitPrice float64) decimal.Decimal {
	return decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity)))
}

// ComputeTotal sums the line totals of the draft's items.
func (d OrderDraft) ComputeTotal() float64 {
	total := decimal.Zero
	for _, item := range d.Items {
		total = total.Add(lineTotal(item.Quantity, item.UnitPrice))
	}
	return total.InexactFloat64()
}

type CreateOrderRequest struct {
	CustomerID *int64              `json:"customer_id" validate:"required,gt=0"`
	Items      []CreateItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CreateItemRequest struct {
	ProductID ProductRef `json:"product_id" validate:"required"`
	Quantity  *int       `json:"quantity" validate:"required,gte=1"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
