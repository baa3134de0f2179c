package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/juliusbiascan/EduInsight-Project-sub000/device-agent/internal/agent"
	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
)

// StatusProvider reports the agent state. *agent.Agent satisfies it.
type StatusProvider interface {
	Status() agent.Status
}

// HTTPHandler serves the local status endpoints.
type HTTPHandler struct {
	agent StatusProvider
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(a StatusProvider) *HTTPHandler {
	return &HTTPHandler{agent: a}
}

// Router returns the status routes wrapped in request logging.
func (h *HTTPHandler) Router(logger zerolog.Logger) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/status", h.GetStatus).Methods("GET")
	return pkglog.HTTPMiddleware(logger, "/health")(router)
}

// GetStatus handles GET /status
func (h *HTTPHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.agent.Status())
}

// HealthCheck handles GET /health
// Reports 503 once the relay connection has given up.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.agent.Status()

	w.Header().Set("Content-Type", "application/json")
	if st.Connection.Status.Terminal() {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": string(st.Connection.Status)})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
