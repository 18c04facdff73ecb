// Package gateway wraps outbound calls to the Customer Lookup and Product
// Catalog services behind a bounded-retry, bounded-timeout HTTP client.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	CustomerService = "customer_service"
	ProductService  = "product_service"

	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 1 * time.Second
	DefaultMaxBackoff  = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// ErrUnavailable means the dependency could not give an answer: transport
// failure, 5xx after every retry, an open breaker or a malformed response.
var ErrUnavailable = errors.New("dependency unavailable")

type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Breaker     circuitbreaker.Config
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = DefaultMaxBackoff
		if o.MaxBackoff < o.Backoff {
			o.MaxBackoff = o.Backoff
		}
	}
	return o
}

type response struct {
	statusCode int
	body       []byte
}

type serverError struct {
	statusCode int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server returned status %d", e.statusCode)
}

type requestBuilder func(ctx context.Context) (*http.Request, error)

// retryingClient performs one logical call as up to MaxAttempts HTTP
// attempts. Transport errors and 5xx responses are retried with exponential
// backoff; any other response is returned to the caller as is.
type retryingClient struct {
	dependency string
	baseURL    string
	httpClient *http.Client
	opts       Options
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

func newRetryingClient(dependency, baseURL string, opts Options, breakers *circuitbreaker.Manager, m *metrics.Metrics, logger *logrus.Logger) *retryingClient {
	opts = opts.withDefaults()

	breakerConfig := opts.Breaker
	breakerConfig.IsFailure = isDependencyFailure

	return &retryingClient{
		dependency: dependency,
		baseURL:    baseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		opts:    opts,
		breaker: breakers.GetOrCreate(dependency, breakerConfig),
		metrics: m,
		logger:  logger,
	}
}

func (c *retryingClient) do(ctx context.Context, build requestBuilder) (*response, error) {
	delay := c.opts.Backoff
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.WithFields(logrus.Fields{
				"dependency": c.dependency,
				"attempt":    attempt,
				"delay":      delay.String(),
			}).Info("Retrying call to dependency")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}

			delay *= 2
			if delay > c.opts.MaxBackoff {
				delay = c.opts.MaxBackoff
			}
		}

		resp, err := c.attempt(ctx, build)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.dependency, err)
		}

		var buildErr *requestBuildError
		if errors.As(err, &buildErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.dependency, err)
		}

		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{
			"dependency": c.dependency,
			"attempt":    attempt,
		}).Warn("Call to dependency failed")
	}

	return nil, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, c.dependency, c.opts.MaxAttempts, lastErr)
}

type requestBuildError struct {
	err error
}

func (e *requestBuildError) Error() string {
	return "failed to build request: " + e.err.Error()
}

func (e *requestBuildError) Unwrap() error {
	return e.err
}

func (c *retryingClient) attempt(ctx context.Context, build requestBuilder) (*response, error) {
	var out *response

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		req, err := build(attemptCtx)
		if err != nil {
			return &requestBuildError{err: err}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveGatewayAttempt(c.dependency, "transport_error")
			return fmt.Errorf("failed to send request to %s: %w", c.dependency, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			c.metrics.ObserveGatewayAttempt(c.dependency, "transport_error")
			return fmt.Errorf("failed to read response from %s: %w", c.dependency, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			c.metrics.ObserveGatewayAttempt(c.dependency, "server_error")
			return &serverError{statusCode: resp.StatusCode}
		}

		outcome := "ok"
		if resp.StatusCode >= http.StatusBadRequest {
			outcome = "client_error"
		}
		c.metrics.ObserveGatewayAttempt(c.dependency, outcome)

		out = &response{statusCode: resp.StatusCode, body: body}
		return nil
	})

	return out, err
}

func isDependencyFailure(err error) bool {
	var buildErr *requestBuildError
	return err != nil && !errors.As(err, &buildErr)
}
