// Package storage persists orders in either a relational database or a
// single JSON document, behind one Repository contract.
package storage

import (
	"context"
	"errors"

	"github.com/jogardn/bookstore-orders/pkg/models"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExists   = errors.New("order already exists")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrEmptyOrder    = errors.New("order has no items")
	ErrInvalidItem   = errors.New("invalid order item")
)

// Repository is implemented by both backends. Orders are listed in id
// order and items in the order they were inserted.
type Repository interface {
	ListOrders(ctx context.Context) ([]models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// InsertOrder assigns ids and persists the draft and all its items, or
	// nothing at all.
	InsertOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error)
	UpdateStatus(ctx context.Context, id int64, status models.Status) (*models.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

func validateDraft(draft models.OrderDraft) error {
	if len(draft.Items) == 0 {
		return ErrEmptyOrder
	}
	for _, item := range draft.Items {
		if item.ProductID.IsZero() || item.Quantity < 1 || item.UnitPrice < 0 {
			return ErrInvalidItem
		}
	}
	return nil
}
