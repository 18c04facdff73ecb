package orders

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jogardn/bookstore-orders/pkg/models"
)

var validate = validator.New()

var fieldMessages = map[string]string{
	"CustomerID": "customer_id is required",
	"Items":      "items are required",
	"ProductID":  "product_id is required for each item",
	"Quantity":   "valid quantity is required for each item",
}

// validateCreateRequest reports the first problem with req in field order.
func validateCreateRequest(req models.CreateOrderRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return validationError("Invalid request body")
	}

	first := fieldErrors[0]
	if first.StructField() == "CustomerID" && first.Tag() == "gt" {
		return validationError("customer_id must be a positive integer")
	}
	if message, ok := fieldMessages[first.StructField()]; ok {
		return validationError(message)
	}
	return validationError("Invalid request body")
}
