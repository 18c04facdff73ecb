package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

// Document is the on-disk layout of the file backend. Both counters only
// grow; ids are never reused after a delete.
type Document struct {
	Orders      []models.Order `json:"orders"`
	NextOrderID int64          `json:"next_order_id"`
	NextItemID  int64          `json:"next_item_id"`
}

func emptyDocument() *Document {
	return &Document{
		Orders:      []models.Order{},
		NextOrderID: 1,
		NextItemID:  1,
	}
}

// LoadDocument reads and validates a document written by FileRepository.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt order document %s: %w", path, err)
	}

	if doc.Orders == nil {
		doc.Orders = []models.Order{}
	}
	// Counters must stay ahead of every id already handed out.
	for i := range doc.Orders {
		order := &doc.Orders[i]
		if order.ID >= doc.NextOrderID {
			doc.NextOrderID = order.ID + 1
		}
		if order.Items == nil {
			order.Items = []models.OrderItem{}
		}
		for _, item := range order.Items {
			if item.ID >= doc.NextItemID {
				doc.NextItemID = item.ID + 1
			}
		}
	}
	if doc.NextOrderID < 1 {
		doc.NextOrderID = 1
	}
	if doc.NextItemID < 1 {
		doc.NextItemID = 1
	}

	return &doc, nil
}

// FileRepository keeps every order in one JSON document. Each operation
// holds mu for its whole read-modify-write cycle and replaces the file
// atomically, so a failed write leaves the previous document intact.
type FileRepository struct {
	path   string
	mu     sync.Mutex
	logger *logrus.Logger
}

func OpenFile(path string, logger *logrus.Logger) (*FileRepository, error) {
	if path == "" {
		return nil, errors.New("order data file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{path: path, logger: logger}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := repo.save(emptyDocument()); err != nil {
			return nil, err
		}
		logger.WithField("path", path).Info("Initialized empty order document")
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat order document: %w", err)
	} else if _, err := LoadDocument(path); err != nil {
		return nil, err
	}

	logger.WithField("path", path).Info("File-backed order store ready")

	return repo, nil
}

func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) load() (*Document, error) {
	doc, err := LoadDocument(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load order document: %w", err)
	}
	return doc, nil
}

func (r *FileRepository) save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode order document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".orders-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write order document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync order document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close order document: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace order document: %w", err)
	}
	return nil
}

func (r *FileRepository) ListOrders(ctx context.Context) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	return doc.Orders, nil
}

func (r *FileRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	index := findOrder(doc, id)
	if index < 0 {
		return nil, ErrOrderNotFound
	}
	order := doc.Orders[index]
	return &order, nil
}

func (r *FileRepository) InsertOrder(ctx context.Context, draft models.OrderDraft) (*models.Order, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := models.Order{
		ID:          doc.NextOrderID,
		CustomerID:  draft.CustomerID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      models.StatusPending,
		TotalAmount: draft.TotalAmount,
		Items:       make([]models.OrderItem, 0, len(draft.Items)),
	}
	nextItemID := doc.NextItemID
	for _, item := range draft.Items {
		order.Items = append(order.Items, models.OrderItem{
			ID:        nextItemID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     models.LineTotal(item.Quantity, item.UnitPrice),
		})
		nextItemID++
	}

	doc.Orders = append(doc.Orders, order)
	doc.NextOrderID++
	doc.NextItemID = nextItemID

	if err := r.save(doc); err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *FileRepository) UpdateStatus(ctx context.Context, id int64, status models.Status) (*models.Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	index := findOrder(doc, id)
	if index < 0 {
		return nil, ErrOrderNotFound
	}

	order := &doc.Orders[index]
	order.Status = status
	order.UpdatedAt = time.Now().UTC()

	if err := r.save(doc); err != nil {
		return nil, err
	}

	updated := *order
	return &updated, nil
}

func (r *FileRepository) DeleteOrder(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	index := findOrder(doc, id)
	if index < 0 {
		return ErrOrderNotFound
	}

	// Items live inside the order entry and go with it.
	doc.Orders = append(doc.Orders[:index], doc.Orders[index+1:]...)

	return r.save(doc)
}

func (r *FileRepository) Ping(ctx context.Context) error {
	_, err := os.Stat(r.path)
	return err
}

func (r *FileRepository) Close() error {
	return nil
}

func findOrder(doc *Document, id int64) int {
	for i := range doc.Orders {
		if doc.Orders[i].ID == id {
			return i
		}
	}
	return -1
}
