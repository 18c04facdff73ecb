// Package events publishes order lifecycle events to Kafka and to any other
// registered sink.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jogardn/bookstore-orders/pkg/models"
)

type Publisher interface {
	Publish(ctx context.Context, event models.OrderEvent) error
}

// NewOrderEvent stamps an event for order with a fresh id and time.
func NewOrderEvent(eventType models.EventType, order models.Order) models.OrderEvent {
	return models.OrderEvent{
		EventID:     uuid.NewString(),
		Type:        eventType,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
}

type Noop struct{}

func (Noop) Publish(context.Context, models.OrderEvent) error {
	return nil
}

// Fanout delivers every event to all publishers, even when some fail.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.OrderEvent) error {
	var result *multierror.Error
	for _, publisher := range f {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
