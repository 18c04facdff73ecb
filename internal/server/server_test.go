package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/jogardn/bookstore-orders/internal/orders"
	"github.com/jogardn/bookstore-orders/internal/storage"
	"github.com/jogardn/bookstore-orders/internal/websocket"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCustomers struct{}

func (staticCustomers) VerifyCustomer(context.Context, int64) (bool, error) {
	return true, nil
}

type staticProducts struct{}

func (staticProducts) PriceProduct(context.Context, models.ProductRef) (float64, bool, error) {
	return 9.99, true, nil
}

type testServer struct {
	handler  http.Handler
	hub      *websocket.Hub
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo, err := storage.OpenFile(filepath.Join(t.TempDir(), "orders.json"), logger)
	require.NoError(t, err)

	m := metrics.New()
	breakers := circuitbreaker.NewManager(logger)
	hub := websocket.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	service := orders.NewService(orders.Dependencies{
		Customers: staticCustomers{},
		Products:  staticProducts{},
		Backend:   &storage.Backend{Mode: storage.ModeFile, Repository: repo},
		Publisher: hub,
		Breakers:  breakers,
		Metrics:   m,
		Logger:    logger,
	})

	return &testServer{
		handler: NewRouter(Options{
			Orders:   orders.NewHandler(service, logger),
			Hub:      hub,
			Breakers: breakers,
			Metrics:  m,
			Logger:   logger,
		}),
		hub:      hub,
		breakers: breakers,
		metrics:  m,
	}
}

func TestRequestIDIsGeneratedAndEchoed(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/orders/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestMetricsUseRouteTemplates(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/17", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `order_service_http_requests_total{code="404",method="GET",route="/orders/{id:[0-9]+}"} 1`)
	assert.Contains(t, rec.Body.String(), `order_service_orders_operations_total{operation="get",result="not_found"} 1`)
}

func TestNonNumericOrderIDIsNotRouted(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketReceivesCreatedOrders(t *testing.T) {
	srv := newTestServer(t)
	httpServer := httptest.NewServer(srv.handler)
	defer httpServer.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(httpServer.URL+"/orders", "application/json",
		strings.NewReader(`{"customer_id": 1, "items":[{"product_id":"BOOK-001","quantity":2}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"order.created"`)
	assert.Contains(t, string(data), `"total_amount":19.98`)
}

func TestAdminResetsCircuitBreakers(t *testing.T) {
	srv := newTestServer(t)
	breaker := srv.breakers.GetOrCreate("product_service", circuitbreaker.Config{MaxFailures: 1, Timeout: time.Minute})
	failing := func(context.Context) error { return errors.New("connection refused") }
	breaker.Execute(context.Background(), failing)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/circuit-breakers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshots []circuitbreaker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshots))
	require.Len(t, snapshots, 1)
	assert.Equal(t, "open", snapshots[0].State)

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/circuit-breakers/product_service/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/circuit-breakers/billing/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	breaker.Execute(context.Background(), failing)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/circuit-breakers/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}
