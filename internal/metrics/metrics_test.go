package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCounters(t *testing.T) {
	m := New()

	m.ObserveGatewayAttempt("product_service", "ok")
	m.ObserveGatewayAttempt("product_service", "ok")
	m.ObserveGatewayAttempt("product_service", "server_error")
	m.ObserveOrderOperation("create", "created")
	m.ObserveHTTP(http.MethodPost, "/orders", http.StatusCreated, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayAttempts.WithLabelValues("product_service", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayAttempts.WithLabelValues("product_service", "server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderOperations.WithLabelValues("create", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/orders", "201")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGatewayAttempt("customer_service", "ok")
		m.ObserveOrderOperation("delete", "deleted")
		m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveOrderOperation("update_status", "not_found")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `order_service_orders_operations_total{operation="update_status",result="not_found"} 1`))
}
