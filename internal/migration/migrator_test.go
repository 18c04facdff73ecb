package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTarget(t *testing.T) *storage.SQLRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	repo, err := storage.OpenSQL(context.Background(), storage.DriverSQLite, dsn, 5*time.Second, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleDocument(count int) *storage.Document {
	doc := &storage.Document{Orders: []models.Order{}}
	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	itemID := int64(1)
	for i := 1; i <= count; i++ {
		doc.Orders = append(doc.Orders, models.Order{
			ID:          int64(i * 2),
			CustomerID:  int64(i%3 + 1),
			CreatedAt:   created,
			UpdatedAt:   created,
			Status:      models.StatusPending,
			TotalAmount: 19.98,
			Items: []models.OrderItem{
				{ID: itemID, ProductID: "BOOK-001", Quantity: 2, UnitPrice: 9.99},
			},
		})
		itemID++
	}
	doc.NextOrderID = int64(count*2 + 1)
	doc.NextItemID = itemID
	return doc
}

func TestMigrateImportsOrders(t *testing.T) {
	target := newTarget(t)
	migrator := NewMigrator(target, Config{BatchSize: 3, Concurrency: 2}, testLogger())
	doc := sampleDocument(7)

	result, err := migrator.Migrate(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 7, result.TotalOrders)
	assert.Equal(t, 7, result.Imported)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 19.98, result.Statistics.LargestOrder)

	order, err := target.GetOrder(context.Background(), 14)
	require.NoError(t, err)
	assert.Equal(t, models.ProductRef("BOOK-001"), order.Items[0].ProductID)
	assert.Equal(t, doc.Orders[6].CreatedAt, order.CreatedAt)

	validation, err := migrator.Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, validation.IsValid)
	assert.Equal(t, 100.0, validation.SyncPercentage)
}

func TestMigrateSkipsExistingOrders(t *testing.T) {
	target := newTarget(t)
	migrator := NewMigrator(target, Config{}, testLogger())
	doc := sampleDocument(4)

	_, err := migrator.Migrate(context.Background(), doc)
	require.NoError(t, err)

	result, err := migrator.Migrate(context.Background(), doc)
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Equal(t, 4, result.Skipped)
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	target := newTarget(t)
	migrator := NewMigrator(target, Config{DryRun: true}, testLogger())
	doc := sampleDocument(3)

	result, err := migrator.Migrate(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 3, result.Imported)

	orders, err := target.ListOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, orders)

	validation, err := migrator.Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, validation.IsValid)
	assert.Equal(t, []int64{2, 4, 6}, validation.Missing)
}

type flakyTarget struct {
	*storage.SQLRepository
	failID int64
}

func (f flakyTarget) ImportOrder(ctx context.Context, order models.Order) error {
	if order.ID == f.failID {
		return errors.New("constraint violation")
	}
	return f.SQLRepository.ImportOrder(ctx, order)
}

func TestMigrateRecordsFailures(t *testing.T) {
	target := flakyTarget{SQLRepository: newTarget(t), failID: 4}
	migrator := NewMigrator(target, Config{BatchSize: 1}, testLogger())

	result, err := migrator.Migrate(context.Background(), sampleDocument(3))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.ErrorDetails, 1)
	assert.Equal(t, int64(4), result.ErrorDetails[0].OrderID)
}

// countingTarget records how many imports had completed when the sequences
// were aligned.
type countingTarget struct {
	*storage.SQLRepository

	mutex           sync.Mutex
	imported        int
	aligned         int
	importedAtAlign int
}

func (c *countingTarget) ImportOrder(ctx context.Context, order models.Order) error {
	if err := c.SQLRepository.ImportOrder(ctx, order); err != nil {
		return err
	}
	c.mutex.Lock()
	c.imported++
	c.mutex.Unlock()
	return nil
}

func (c *countingTarget) AlignSequences(ctx context.Context) error {
	c.mutex.Lock()
	c.aligned++
	c.importedAtAlign = c.imported
	c.mutex.Unlock()
	return c.SQLRepository.AlignSequences(ctx)
}

func TestMigrateAlignsSequencesOnceAfterAllBatches(t *testing.T) {
	target := &countingTarget{SQLRepository: newTarget(t)}
	migrator := NewMigrator(target, Config{BatchSize: 2, Concurrency: 4}, testLogger())

	result, err := migrator.Migrate(context.Background(), sampleDocument(9))
	require.NoError(t, err)
	assert.Equal(t, 9, result.Imported)
	assert.Equal(t, 1, target.aligned)
	assert.Equal(t, 9, target.importedAtAlign)

	next, err := target.InsertOrder(context.Background(), models.OrderDraft{
		CustomerID:  1,
		Items:       []models.DraftItem{{ProductID: "BOOK-001", Quantity: 1, UnitPrice: 9.99}},
		TotalAmount: 9.99,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(19), next.ID)
}

func TestMigrateSkipsAlignmentWithoutImports(t *testing.T) {
	target := &countingTarget{SQLRepository: newTarget(t)}

	_, err := NewMigrator(target, Config{DryRun: true}, testLogger()).Migrate(context.Background(), sampleDocument(3))
	require.NoError(t, err)
	assert.Zero(t, target.aligned)

	_, err = NewMigrator(target, Config{}, testLogger()).Migrate(context.Background(), &storage.Document{})
	require.NoError(t, err)
	assert.Zero(t, target.aligned)
}

func TestValidateReportsMismatches(t *testing.T) {
	target := newTarget(t)
	migrator := NewMigrator(target, Config{}, testLogger())
	doc := sampleDocument(2)

	_, err := migrator.Migrate(context.Background(), doc)
	require.NoError(t, err)

	_, err = target.UpdateStatus(context.Background(), 2, models.StatusCancelled)
	require.NoError(t, err)

	validation, err := migrator.Validate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, validation.IsValid)
	assert.Equal(t, 50.0, validation.SyncPercentage)
	require.Len(t, validation.Mismatches, 1)
	assert.Equal(t, "status", validation.Mismatches[0].Field)
}
