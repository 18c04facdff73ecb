package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

type productResponse struct {
	Price *float64 `json:"price"`
}

// ProductClient looks up catalog prices.
type ProductClient struct {
	client *retryingClient
	logger *logrus.Logger
}

func NewProductClient(baseURL string, opts Options, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *logrus.Logger) *ProductClient {
	return &ProductClient{
		client: newRetryingClient(ProductService, baseURL, opts, breakers, m, logger),
		logger: logger,
	}
}

// PriceProduct returns the current catalog price. found is false when the
// catalog answered with a non-200, non-5xx status.
func (c *ProductClient) PriceProduct(ctx context.Context, productID models.ProductRef) (price float64, found bool, err error) {
	endpoint := c.client.baseURL + "/products/" + url.PathEscape(productID.String())

	resp, err := c.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return 0, false, err
	}

	if resp.statusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"product_id": productID.String(),
			"status":     resp.statusCode,
		}).Info("Product not found in catalog")
		return 0, false, nil
	}

	var product productResponse
	if err := json.Unmarshal(resp.body, &product); err != nil {
		return 0, false, fmt.Errorf("%w: failed to decode product %s: %v", ErrUnavailable, productID, err)
	}

	if product.Price == nil {
		return 0, true, nil
	}
	if *product.Price < 0 {
		return 0, false, fmt.Errorf("%w: catalog returned negative price %v for product %s", ErrUnavailable, *product.Price, productID)
	}

	return *product.Price, true, nil
}

func (c *ProductClient) BaseURL() string {
	return c.client.baseURL
}
