package storage

import (
	"io"

	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func bookDraft() models.OrderDraft {
	draft := models.OrderDraft{
		CustomerID: 1,
		Items: []models.DraftItem{
			{ProductID: "BOOK-001", Quantity: 2, UnitPrice: 9.99},
			{ProductID: "3", Quantity: 1, UnitPrice: 29.99},
		},
	}
	draft.TotalAmount = draft.ComputeTotal()
	return draft
}
