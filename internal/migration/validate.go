package migration

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

type Mismatch struct {
	OrderID     int64       `json:"order_id"`
	Field       string      `json:"field"`
	SourceValue interface{} `json:"source_value"`
	TargetValue interface{} `json:"target_value"`
}

type ValidationResult struct {
	TotalSource    int        `json:"total_source"`
	TotalTarget    int        `json:"total_target"`
	Missing        []int64    `json:"missing_in_target"`
	Mismatches     []Mismatch `json:"mismatches"`
	SyncPercentage float64    `json:"sync_percentage"`
	IsValid        bool       `json:"is_valid"`
	ValidationTime time.Time  `json:"validation_time"`
}

// Validate checks that every order in doc is present in the target with the
// same customer, status, total and items.
func (m *Migrator) Validate(ctx context.Context, doc *storage.Document) (*ValidationResult, error) {
	targetOrders, err := m.target.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list target orders: %w", err)
	}

	targetByID := make(map[int64]*models.Order, len(targetOrders))
	for i := range targetOrders {
		targetByID[targetOrders[i].ID] = &targetOrders[i]
	}

	validation := &ValidationResult{
		TotalSource:    len(doc.Orders),
		TotalTarget:    len(targetOrders),
		Missing:        []int64{},
		Mismatches:     []Mismatch{},
		ValidationTime: time.Now().UTC(),
	}

	matched := 0
	for i := range doc.Orders {
		source := &doc.Orders[i]
		target, ok := targetByID[source.ID]
		if !ok {
			validation.Missing = append(validation.Missing, source.ID)
			continue
		}

		mismatches := compareOrders(source, target)
		if len(mismatches) == 0 {
			matched++
		}
		validation.Mismatches = append(validation.Mismatches, mismatches...)
	}
	sort.Slice(validation.Missing, func(i, j int) bool { return validation.Missing[i] < validation.Missing[j] })

	validation.SyncPercentage = 100
	if len(doc.Orders) > 0 {
		validation.SyncPercentage = float64(matched) / float64(len(doc.Orders)) * 100
	}
	validation.IsValid = len(validation.Missing) == 0 && len(validation.Mismatches) == 0

	m.logger.WithFields(logrus.Fields{
		"sync_percentage":   validation.SyncPercentage,
		"missing":           len(validation.Missing),
		"mismatches":        len(validation.Mismatches),
		"validation_passed": validation.IsValid,
	}).Info("Migration validation completed")

	return validation, nil
}

func compareOrders(source, target *models.Order) []Mismatch {
	var mismatches []Mismatch
	add := func(field string, sourceValue, targetValue interface{}) {
		mismatches = append(mismatches, Mismatch{
			OrderID:     source.ID,
			Field:       field,
			SourceValue: sourceValue,
			TargetValue: targetValue,
		})
	}

	if source.CustomerID != target.CustomerID {
		add("customer_id", source.CustomerID, target.CustomerID)
	}
	if source.Status != target.Status {
		add("status", source.Status, target.Status)
	}
	if math.Abs(source.TotalAmount-target.TotalAmount) > 0.005 {
		add("total_amount", source.TotalAmount, target.TotalAmount)
	}
	if len(source.Items) != len(target.Items) {
		add("items_count", len(source.Items), len(target.Items))
		return mismatches
	}
	for i := range source.Items {
		s, t := source.Items[i], target.Items[i]
		if s.ProductID != t.ProductID || s.Quantity != t.Quantity || s.UnitPrice != t.UnitPrice {
			add(fmt.Sprintf("items[%d]", i), s, t)
		}
	}

	return mismatches
}
