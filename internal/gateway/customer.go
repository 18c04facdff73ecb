package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/sirupsen/logrus"
)

const getCustomerQuery = `query GetCustomer($id: Int!) {
	getCustomer(id: $id) {
		id
		name
		email
	}
}`

type Customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type getCustomerResponse struct {
	Data struct {
		GetCustomer *Customer `json:"getCustomer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// CustomerClient queries the customer service's GraphQL endpoint.
type CustomerClient struct {
	client *retryingClient
	logger *logrus.Logger
}

func NewCustomerClient(baseURL string, opts Options, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *logrus.Logger) *CustomerClient {
	return &CustomerClient{
		client: newRetryingClient(CustomerService, baseURL, opts, breakers, m, logger),
		logger: logger,
	}
}

// VerifyCustomer reports whether the customer exists. A false result with a
// nil error means the service answered and the customer is absent.
func (c *CustomerClient) VerifyCustomer(ctx context.Context, customerID int64) (bool, error) {
	c.logger.WithField("customer_id", customerID).Debug("Verifying customer")

	payload, err := json.Marshal(graphQLRequest{
		Query:     getCustomerQuery,
		Variables: map[string]interface{}{"id": customerID},
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal customer query: %w", err)
	}

	resp, err := c.client.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.client.baseURL+"/graphql", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return false, err
	}

	if resp.statusCode != http.StatusOK {
		return false, fmt.Errorf("%w: customer service returned status %d", ErrUnavailable, resp.statusCode)
	}

	var result getCustomerResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return false, fmt.Errorf("%w: failed to decode customer service response: %v", ErrUnavailable, err)
	}

	if result.Data.GetCustomer == nil {
		fields := logrus.Fields{"customer_id": customerID}
		if len(result.Errors) > 0 {
			fields["graphql_error"] = result.Errors[0].Message
		}
		c.logger.WithFields(fields).Info("Customer not found")
		return false, nil
	}

	return true, nil
}

func (c *CustomerClient) BaseURL() string {
	return c.client.baseURL
}
