package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jogardn/bookstore-orders/pkg/models"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type orderRow struct {
	ID          int64     `db:"id"`
	CustomerID  int64     `db:"customer_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Status      string    `db:"status"`
	TotalAmount float64   `db:"total_amount"`
}

type itemRow struct {
	ID        int64   `db:"id"`
	OrderID   int64   `db:"order_id"`
	ProductID string  `db:"product_id"`
	Quantity  int     `db:"quantity"`
	UnitPrice float64 `db:"unit_price"`
}

func (r orderRow) toModel(items []itemRow) models.Order {
	order := models.Order{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Status:      models.Status(r.Status),
		TotalAmount: r.TotalAmount,
		Items:       make([]models.OrderItem, 0, len(items)),
	}
	for _, item := range items {
		order.Items = append(order.Items, models.OrderItem{
			ID:        item.ID,
			ProductID: models.ProductRef(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     models.LineTotal(item.Quantity, item.UnitPrice),
		})
	}
	return order
}

const (
	selectOrderColumns = `SELECT id, customer_id, created_at, updated_at, status, total_amount FROM orders`
	selectItemColumns  = `SELECT id, order_id, product_id, quantity, unit_price FROM order_items`
)

// SQLRepository stores orders in PostgreSQL or SQLite. Ids come from the
// database's own sequences.
type SQLRepository struct {
	db     *sqlx.DB
	driver string
	logger *logrus.Logger
}

// OpenSQL connects, pings and migrates. The whole attempt is bounded by
// connectTimeout.
func OpenSQL(ctx context.Context, driver, dsn string, connectTimeout time.Duration, logger *logrus.Logger) (*SQLRepository, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	if driver == DriverSQLite {
		dsn = sqliteDataSource(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		var enabled int
		if err := db.GetContext(ctx, &enabled, `PRAGMA foreign_keys`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to read sqlite foreign_keys setting: %w", err)
		}
		if enabled != 1 {
			db.Close()
			return nil, errors.New("sqlite foreign key enforcement is disabled")
		}
	}

	if err := migrateSchema(db.DB, driver); err != nil {
		db.Close()
		return nil, err
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	logger.WithField("driver", driver).Info("Relational order store ready")

	return &SQLRepository{db: db, driver: driver, logger: logger}, nil
}

// sqliteDataSource turns on foreign key enforcement for every connection
// the pool opens, unless the DSN already sets it.
func sqliteDataSource(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (r *SQLRepository) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orderRows []orderRow
	if err := r.db.SelectContext(ctx, &orderRows, selectOrderColumns+` ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	var itemRows []itemRow
	if err := r.db.SelectContext(ctx, &itemRows, selectItemColumns+` ORDER BY order_id, id`); err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	itemsByOrder := make(map[int64][]itemRow, len(orderRows))
	for _, item := range itemRows {
		itemsByOrder[item.OrderID] = append(itemsByOrder[item.OrderID], item)
	}

	orders := make([]models.Order, 0, len(orderRows))
	for _, row := range orderRows {
		orders = append(orders, row.toModel(itemsByOrder[row.ID]))
	}
	return orders, nil
}

func (r *SQLRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return r.getOrder(ctx, r.db, id)
}

func (r *SQLRepository) getOrder(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, r.db.Rebind(selectOrderColumns+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}

	var items []itemRow
	if err := sqlx.SelectContext(ctx, q, &items, r.db.Rebind(selectItemColumns+` WHERE order_id = ? ORDER BY id`), id); err != nil {
		return nil, fmt.Errorf("failed to get items of order %d: %w", id, err)
	}

	order := row.toModel(items)
	return &order, nil
}

func (r *SQLRepository) InsertOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	var orderID int64
	err = tx.QueryRowxContext(ctx, r.db.Rebind(`
		INSERT INTO orders (customer_id, created_at, updated_at, status, total_amount)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), draft.CustomerID, now, now, string(models.StatusPending), draft.TotalAmount).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	insertItem := r.db.Rebind(`
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES (?, ?, ?, ?)
	`)
	for i, item := range draft.Items {
		if _, err := tx.ExecContext(ctx, insertItem, orderID, item.ProductID.String(), item.Quantity, item.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to insert item %d of order %d: %w", i+1, orderID, err)
		}
	}

	order, err := r.getOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order %d: %w", orderID, err)
	}

	return order, nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id int64, status models.Status) (*models.Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	result, err := tx.ExecContext(ctx, r.db.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now().UTC().Truncate(time.Microsecond), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update order %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update order %d: %w", id, err)
	}
	if affected == 0 {
		return nil, ErrOrderNotFound
	}

	order, err := r.getOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order %d: %w", id, err)
	}
	return order, nil
}

// DeleteOrder removes the order and its items in one transaction. Items are
// deleted explicitly as well as through ON DELETE CASCADE.
func (r *SQLRepository) DeleteOrder(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM order_items WHERE order_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete items of order %d: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM orders WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete order %d: %w", id, err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of order %d: %w", id, err)
	}
	return nil
}

// ImportOrder inserts an order that already carries ids, as produced by the
// file backend. On postgres the id sequences are left alone; call
// AlignSequences once every import has committed.
func (r *SQLRepository) ImportOrder(ctx context.Context, order models.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(tx)

	var count int
	if err := tx.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM orders WHERE id = ?`), order.ID); err != nil {
		return fmt.Errorf("failed to check order %d: %w", order.ID, err)
	}
	if count > 0 {
		return ErrOrderExists
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO orders (id, customer_id, created_at, updated_at, status, total_amount)
		VALUES (?, ?, ?, ?, ?, ?)
	`), order.ID, order.CustomerID, order.CreatedAt.UTC(), order.UpdatedAt.UTC(), string(order.Status), order.TotalAmount)
	if err != nil {
		return fmt.Errorf("failed to import order %d: %w", order.ID, err)
	}

	insertItem := r.db.Rebind(`
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?)
	`)
	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, insertItem, item.ID, order.ID, item.ProductID.String(), item.Quantity, item.UnitPrice); err != nil {
			return fmt.Errorf("failed to import item %d of order %d: %w", item.ID, order.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit imported order %d: %w", order.ID, err)
	}
	return nil
}

// AlignSequences moves the postgres id sequences past the largest stored
// ids. SQLite AUTOINCREMENT tracks explicit ids by itself.
func (r *SQLRepository) AlignSequences(ctx context.Context) error {
	if r.driver != DriverPostgres {
		return nil
	}

	for _, table := range []string{"orders", "order_items"} {
		query := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), (SELECT COALESCE(MAX(id), 0) + 1 FROM %[1]s), false)`, table)
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to align %s sequence: %w", table, err)
		}
	}

	r.logger.Info("Order id sequences aligned")
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.WithError(err).Error("Failed to roll back transaction")
	}
}
