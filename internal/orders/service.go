// Package orders validates, prices and persists orders and exposes them
// over HTTP.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/events"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

type CustomerVerifier interface {
	VerifyCustomer(ctx context.Context, customerID int64) (bool, error)
}

type ProductPricer interface {
	PriceProduct(ctx context.Context, productID models.ProductRef) (price float64, found bool, err error)
}

// HealthProbe reports UP or DOWN for one dependency.
type HealthProbe func(ctx context.Context) string

type Dependencies struct {
	Customers CustomerVerifier
	Products  ProductPricer
	Backend   *storage.Backend
	Publisher events.Publisher
	Probes    map[string]HealthProbe
	Breakers  *circuitbreaker.Manager
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
	// PublishTimeout bounds how long a request waits for event delivery.
	// Zero means DefaultPublishTimeout.
	PublishTimeout time.Duration
}

const DefaultPublishTimeout = 2 * time.Second

type Service struct {
	customers CustomerVerifier
	products  ProductPricer
	backend   *storage.Backend
	repo      storage.Repository
	publisher events.Publisher
	probes    map[string]HealthProbe
	breakers  *circuitbreaker.Manager
	metrics   *metrics.Metrics
	logger    *logrus.Logger

	publishTimeout time.Duration
}

func NewService(deps Dependencies) *Service {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	publishTimeout := deps.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}
	return &Service{
		customers: deps.Customers,
		products:  deps.Products,
		backend:   deps.Backend,
		repo:      deps.Backend.Repository,
		publisher: publisher,
		probes:    deps.Probes,
		breakers:  deps.Breakers,
		metrics:   deps.Metrics,
		logger:    deps.Logger,

		publishTimeout: publishTimeout,
	}
}

// CreateOrder verifies the customer, prices every item in input order and
// persists the order only when all of them succeed.
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (order *models.Order, err error) {
	defer func() { s.observe("create", err) }()

	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}
	customerID := *req.CustomerID

	exists, err := s.customers.VerifyCustomer(ctx, customerID)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", customerID).Error("Error communicating with Customer Service")
		return nil, unavailableError("Error communicating with Customer Service", err)
	}
	if !exists {
		return nil, validationError(fmt.Sprintf("Customer %d not found", customerID))
	}

	draft := models.OrderDraft{
		CustomerID: customerID,
		Items:      make([]models.DraftItem, 0, len(req.Items)),
	}

	for _, item := range req.Items {
		price, found, err := s.products.PriceProduct(ctx, item.ProductID)
		if err != nil {
			s.logger.WithError(err).WithField("product_id", item.ProductID.String()).Error("Error communicating with Product Service")
			return nil, unavailableError("Error communicating with Product Service", err)
		}
		if !found {
			return nil, validationError(fmt.Sprintf("Product %s not found", item.ProductID))
		}

		draft.Items = append(draft.Items, models.DraftItem{
			ProductID: item.ProductID,
			Quantity:  *item.Quantity,
			UnitPrice: price,
		})
	}
	draft.TotalAmount = draft.ComputeTotal()

	// Nothing is written once the caller has gone away.
	if err := ctx.Err(); err != nil {
		return nil, unavailableError("Request cancelled before the order was saved", err)
	}

	order, err = s.repo.InsertOrder(ctx, draft)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"customer_id":  customerID,
			"storage_mode": s.backend.Mode,
		}).Error("Failed to save order")
		return nil, persistenceError("Failed to create order", err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"total_amount": order.TotalAmount,
		"items_count":  len(order.Items),
		"storage_mode": s.backend.Mode,
	}).Info("Order created successfully")

	s.publish(ctx, events.NewOrderEvent(models.EventOrderCreated, *order))
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context) (orders []models.Order, err error) {
	defer func() { s.observe("list", err) }()

	orders, err = s.repo.ListOrders(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch orders")
		return nil, persistenceError("Failed to fetch orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (order *models.Order, err error) {
	defer func() { s.observe("get", err) }()

	order, err = s.repo.GetOrder(ctx, id)
	if errors.Is(err, storage.ErrOrderNotFound) {
		return nil, notFoundError()
	}
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("Failed to fetch order")
		return nil, persistenceError("Failed to fetch order", err)
	}
	return order, nil
}

// UpdateOrderStatus overwrites the status. Any valid status may replace any
// other.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, status models.Status) (order *models.Order, err error) {
	defer func() { s.observe("update_status", err) }()

	status, err = models.ParseStatus(string(status))
	switch {
	case errors.Is(err, models.ErrStatusRequired):
		return nil, validationError("status is required")
	case err != nil:
		return nil, validationError("Invalid status value. Must be one of: " + statusList())
	}

	order, err = s.repo.UpdateStatus(ctx, id, status)
	switch {
	case errors.Is(err, storage.ErrOrderNotFound):
		return nil, notFoundError()
	case errors.Is(err, storage.ErrInvalidStatus):
		return nil, validationError("Invalid status value. Must be one of: " + statusList())
	case err != nil:
		s.logger.WithError(err).WithField("order_id", id).Error("Failed to update order")
		return nil, persistenceError("Failed to update order", err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": id,
		"status":   status,
	}).Info("Order status updated")

	s.publish(ctx, events.NewOrderEvent(models.EventOrderStatusUpdated, *order))
	return order, nil
}

func (s *Service) DeleteOrder(ctx context.Context, id int64) (err error) {
	defer func() { s.observe("delete", err) }()

	err = s.repo.DeleteOrder(ctx, id)
	if errors.Is(err, storage.ErrOrderNotFound) {
		return notFoundError()
	}
	if err != nil {
		s.logger.WithError(err).WithField("order_id", id).Error("Failed to delete order")
		return persistenceError("Failed to delete order", err)
	}

	s.logger.WithField("order_id", id).Info("Order deleted")

	s.publish(ctx, events.NewOrderEvent(models.EventOrderDeleted, models.Order{ID: id}))
	return nil
}

type HealthReport struct {
	Status          string                    `json:"status"`
	StorageMode     storage.Mode              `json:"storage_mode"`
	Database        string                    `json:"database"`
	FallbackCause   string                    `json:"fallback_cause,omitempty"`
	Timestamp       time.Time                 `json:"timestamp"`
	Dependencies    map[string]string         `json:"dependencies"`
	CircuitBreakers []circuitbreaker.Snapshot `json:"circuit_breakers"`
}

// Health probes storage and every dependency concurrently. It never fails;
// problems are reported in the body.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       "UP",
		StorageMode:  s.backend.Mode,
		Database:     "UP",
		Timestamp:    time.Now().UTC(),
		Dependencies: make(map[string]string, len(s.probes)),
	}

	if s.backend.Mode != storage.ModeRelational {
		report.Database = "DOWN"
	}
	if s.backend.FallbackCause != nil {
		report.FallbackCause = s.backend.FallbackCause.Error()
	}
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.WithError(err).Warn("Storage health check failed")
		report.Status = "DEGRADED"
		report.Database = "DOWN"
	}

	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
	)
	for name, probe := range s.probes {
		wg.Add(1)
		go func(name string, probe HealthProbe) {
			defer wg.Done()
			status := probe(ctx)
			mutex.Lock()
			report.Dependencies[name] = status
			mutex.Unlock()
		}(name, probe)
	}
	wg.Wait()

	if s.breakers != nil {
		report.CircuitBreakers = s.breakers.Snapshots()
	}
	if report.CircuitBreakers == nil {
		report.CircuitBreakers = []circuitbreaker.Snapshot{}
	}

	return report
}

func (s *Service) publish(ctx context.Context, event models.OrderEvent) {
	// The order is already committed; a lost event must not fail the request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"order_id":   event.OrderID,
		}).Error("Failed to publish order event")
	}
}

func (s *Service) observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	s.metrics.ObserveOrderOperation(operation, result)
}

func statusList() string {
	names := make([]string, 0, len(models.Statuses))
	for _, status := range models.Statuses {
		names = append(names, status.String())
	}
	return strings.Join(names, ", ")
}
