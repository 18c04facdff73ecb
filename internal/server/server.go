// Package server assembles the HTTP surface of the order service.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/internal/metrics"
	"github.com/jogardn/bookstore-orders/internal/orders"
	"github.com/jogardn/bookstore-orders/internal/websocket"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Orders   *orders.Handler
	Hub      *websocket.Hub
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics
	Logger   *logrus.Logger
}

func NewRouter(opts Options) http.Handler {
	router := mux.NewRouter()

	opts.Orders.RegisterRoutes(router)
	if opts.Hub != nil {
		router.HandleFunc("/ws", opts.Hub.HandleWebSocket)
	}
	if opts.Breakers != nil {
		(&adminHandler{breakers: opts.Breakers, logger: opts.Logger}).registerRoutes(router)
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(opts.Logger))
	if opts.Metrics != nil {
		router.Use(metricsMiddleware(opts.Metrics))
	}

	return corsMiddleware(router)
}

func New(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
