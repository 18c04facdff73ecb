// Package migration copies orders written while the service ran in
// file-backed mode into the relational store.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

// Target is the relational store receiving the orders. Imported orders keep
// their ids.
type Target interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ImportOrder(ctx context.Context, order models.Order) error
	// AlignSequences runs once after every batch has finished, so it sees
	// all imported ids.
	AlignSequences(ctx context.Context) error
}

type Config struct {
	BatchSize    int           `json:"batch_size"`
	Concurrency  int           `json:"concurrency"`
	DelayBetween time.Duration `json:"delay_between"`
	DryRun       bool          `json:"dry_run"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		Concurrency:  4,
		DelayBetween: 0,
	}
}

type Result struct {
	TotalOrders    int              `json:"total_orders"`
	Imported       int              `json:"imported"`
	Skipped        int              `json:"skipped"`
	Failed         int              `json:"failed"`
	ProcessingTime time.Duration    `json:"processing_time"`
	ErrorDetails   []MigrationError `json:"error_details"`
	Statistics     Statistics       `json:"statistics"`
	DryRun         bool             `json:"dry_run"`
	Timestamp      time.Time        `json:"timestamp"`
}

type MigrationError struct {
	OrderID   int64     `json:"order_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type Statistics struct {
	OrdersPerSecond  float64 `json:"orders_per_second"`
	AverageOrderSize float64 `json:"average_order_size"`
	LargestOrder     float64 `json:"largest_order"`
}

type Migrator struct {
	target Target
	logger *logrus.Logger
	config Config
}

func NewMigrator(target Target, config Config, logger *logrus.Logger) *Migrator {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	return &Migrator{
		target: target,
		logger: logger,
		config: config,
	}
}

// Migrate imports every order of doc that the target does not have yet.
// Orders already present are skipped, so the import can be rerun.
func (m *Migrator) Migrate(ctx context.Context, doc *storage.Document) (*Result, error) {
	startTime := time.Now()

	result := &Result{
		TotalOrders:  len(doc.Orders),
		ErrorDetails: []MigrationError{},
		DryRun:       m.config.DryRun,
		Timestamp:    startTime.UTC(),
	}

	m.logger.WithFields(logrus.Fields{
		"orders":      len(doc.Orders),
		"batch_size":  m.config.BatchSize,
		"concurrency": m.config.Concurrency,
		"dry_run":     m.config.DryRun,
	}).Info("Starting order migration")

	batches := createBatches(doc.Orders, m.config.BatchSize)

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, m.config.Concurrency)
	resultChan := make(chan *Result, len(batches))

	for _, batch := range batches {
		wg.Add(1)
		go func(orderBatch []models.Order) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-semaphore }()

			resultChan <- m.processBatch(ctx, orderBatch)

			if m.config.DelayBetween > 0 {
				select {
				case <-time.After(m.config.DelayBetween):
				case <-ctx.Done():
				}
			}
		}(batch)
	}

	wg.Wait()
	close(resultChan)

	for batchResult := range resultChan {
		mergeResults(result, batchResult)
	}

	if !m.config.DryRun && result.Imported > 0 {
		// Imported rows are committed even when the run was interrupted.
		if err := m.target.AlignSequences(context.WithoutCancel(ctx)); err != nil {
			return result, fmt.Errorf("failed to align id sequences: %w", err)
		}
	}

	result.ProcessingTime = time.Since(startTime)
	result.Statistics = calculateStatistics(result, doc.Orders)

	m.logger.WithFields(logrus.Fields{
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"failed":   result.Failed,
		"duration": result.ProcessingTime.String(),
	}).Info("Order migration completed")

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("migration interrupted: %w", err)
	}
	return result, nil
}

func (m *Migrator) processBatch(ctx context.Context, orders []models.Order) *Result {
	result := &Result{ErrorDetails: []MigrationError{}}

	for _, order := range orders {
		if ctx.Err() != nil {
			return result
		}

		_, err := m.target.GetOrder(ctx, order.ID)
		switch {
		case err == nil:
			result.Skipped++
			m.logger.WithField("order_id", order.ID).Debug("Order already present, skipping")
			continue
		case !errors.Is(err, storage.ErrOrderNotFound):
			m.recordFailure(result, order.ID, err)
			continue
		}

		if m.config.DryRun {
			result.Imported++
			continue
		}

		if err := m.target.ImportOrder(ctx, order); err != nil {
			if errors.Is(err, storage.ErrOrderExists) {
				result.Skipped++
				continue
			}
			m.recordFailure(result, order.ID, err)
			continue
		}

		result.Imported++
		m.logger.WithField("order_id", order.ID).Debug("Imported order")
	}

	return result
}

func (m *Migrator) recordFailure(result *Result, orderID int64, err error) {
	result.Failed++
	result.ErrorDetails = append(result.ErrorDetails, MigrationError{
		OrderID:   orderID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	m.logger.WithError(err).WithField("order_id", orderID).Error("Failed to import order")
}

func createBatches(orders []models.Order, size int) [][]models.Order {
	var batches [][]models.Order
	for i := 0; i < len(orders); i += size {
		end := i + size
		if end > len(orders) {
			end = len(orders)
		}
		batches = append(batches, orders[i:end])
	}
	return batches
}

func mergeResults(target, source *Result) {
	target.Imported += source.Imported
	target.Skipped += source.Skipped
	target.Failed += source.Failed
	target.ErrorDetails = append(target.ErrorDetails, source.ErrorDetails...)
}

func calculateStatistics(result *Result, orders []models.Order) Statistics {
	stats := Statistics{}

	if result.ProcessingTime > 0 {
		stats.OrdersPerSecond = float64(result.Imported) / result.ProcessingTime.Seconds()
	}

	var totalAmount float64
	for _, order := range orders {
		totalAmount += order.TotalAmount
		if order.TotalAmount > stats.LargestOrder {
			stats.LargestOrder = order.TotalAmount
		}
	}
	if len(orders) > 0 {
		stats.AverageOrderSize = totalAmount / float64(len(orders))
	}

	return stats
}
