package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jogardn/bookstore-orders/internal/circuitbreaker"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

// adminHandler lets an operator inspect the dependency circuit breakers and
// close them once a dependency has recovered, without waiting for the
// half-open probe.
type adminHandler struct {
	breakers *circuitbreaker.Manager
	logger   *logrus.Logger
}

func (h *adminHandler) registerRoutes(router *mux.Router) {
	router.HandleFunc("/admin/circuit-breakers", h.listBreakers).Methods(http.MethodGet)
	router.HandleFunc("/admin/circuit-breakers/reset", h.resetAll).Methods(http.MethodPost)
	router.HandleFunc("/admin/circuit-breakers/{name}/reset", h.resetBreaker).Methods(http.MethodPost)
}

func (h *adminHandler) listBreakers(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.breakers.Snapshots())
}

func (h *adminHandler) resetAll(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	respondWithJSON(w, http.StatusOK, h.breakers.Snapshots())
}

func (h *adminHandler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.breakers.Reset(name) {
		h.logger.WithField("circuit_breaker", name).Warn("Reset requested for unknown circuit breaker")
		respondWithJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Circuit breaker not found"})
		return
	}
	respondWithJSON(w, http.StatusOK, h.breakers.Get(name).Snapshot())
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
