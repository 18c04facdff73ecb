package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// catalog-mock stands in for the customer directory (GraphQL) and the product
// catalog (REST) during local development.

type customer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type product struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

type catalogStore struct {
	mutex     sync.RWMutex
	customers map[int64]customer
	products  []product
}

func newCatalogStore() *catalogStore {
	return &catalogStore{
		customers: map[int64]customer{
			1: {ID: 1, Name: "John Doe", Email: "john@example.com"},
			2: {ID: 2, Name: "Jane Smith", Email: "jane@example.com"},
			3: {ID: 3, Name: "Bob Johnson", Email: "bob@example.com"},
		},
		products: []product{
			{ID: 1, Name: "The Great Gatsby", SKU: "BOOK-001", Category: "Fiction", Price: 9.99},
			{ID: 2, Name: "To Kill a Mockingbird", SKU: "BOOK-002", Category: "Fiction", Price: 12.99},
			{ID: 3, Name: "Python Programming", SKU: "BOOK-003", Category: "Technology", Price: 29.99},
			{ID: 4, Name: "Data Structures", SKU: "BOOK-004", Category: "Technology", Price: 24.99},
		},
	}
}

// findProduct matches either the numeric id or the SKU.
func (s *catalogStore) findProduct(ref string) (product, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, idErr := strconv.ParseInt(ref, 10, 64)
	for _, p := range s.products {
		if (idErr == nil && p.ID == id) || p.SKU == ref {
			return p, true
		}
	}
	return product{}, false
}

func main() {
	port := flag.String("port", getEnv("CATALOG_PORT", "5000"), "listen port")
	maxDelay := flag.Duration("max-delay", 0, "upper bound of the random latency added to each response")
	failureRate := flag.Float64("failure-rate", 0, "fraction of requests answered with 503")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	store := newCatalogStore()

	router := mux.NewRouter()
	router.Use(chaosMiddleware(*maxDelay, *failureRate, logger))
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/graphql", graphQL(logger, store)).Methods("POST")
	router.HandleFunc("/products", listProducts(store)).Methods("GET")
	router.HandleFunc("/products/{id}", getProduct(logger, store)).Methods("GET")

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("port", *port).Info("Starting catalog mock server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down catalog mock server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server forced to shutdown")
	}
}

// chaosMiddleware simulates a slow or flaky upstream so retries and the
// circuit breaker can be observed locally.
func chaosMiddleware(maxDelay time.Duration, failureRate float64, logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			if maxDelay > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(maxDelay))))
			}
			if failureRate > 0 && rand.Float64() < failureRate {
				logger.WithField("path", r.URL.Path).Warn("Injecting upstream failure")
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "injected failure"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":    "UP",
		"service":   "catalog-mock",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type graphQLRequest struct {
	Query     string `json:"query"`
	Variables struct {
		ID json.Number `json:"id"`
	} `json:"variables"`
}

// graphQL answers the getCustomer query only.
func graphQL(logger *logrus.Logger, store *catalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
				"errors": []map[string]string{{"message": "invalid request body"}},
			})
			return
		}

		id, err := req.Variables.ID.Int64()
		if err != nil {
			respondWithJSON(w, http.StatusOK, map[string]interface{}{
				"errors": []map[string]string{{"message": "variable id must be an integer"}},
			})
			return
		}

		store.mutex.RLock()
		c, ok := store.customers[id]
		store.mutex.RUnlock()

		logger.WithFields(logrus.Fields{
			"customer_id": id,
			"found":       ok,
		}).Info("Customer lookup")

		var payload interface{}
		if ok {
			payload = c
		}
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"getCustomer": payload},
		})
	}
}

func listProducts(store *catalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.mutex.RLock()
		products := append([]product(nil), store.products...)
		store.mutex.RUnlock()
		respondWithJSON(w, http.StatusOK, products)
	}
}

func getProduct(logger *logrus.Logger, store *catalogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := mux.Vars(r)["id"]
		p, ok := store.findProduct(ref)
		if !ok {
			logger.WithField("product_id", ref).Warn("Product not found")
			respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found"})
			return
		}
		respondWithJSON(w, http.StatusOK, p)
	}
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
