package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter creates a mux.Router and registers the API handlers.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/connection", h.Connect).Methods(http.MethodPost)
	r.HandleFunc("/v1/connection", h.ConnectionStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/connection", h.CancelConnection).Methods(http.MethodDelete)
	r.HandleFunc("/v1/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/v1/servers", h.CreateServer).Methods(http.MethodPost)
	r.HandleFunc("/v1/servers", h.ListServers).Methods(http.MethodGet)
	r.HandleFunc("/v1/servers/{server_id}/probes", h.ListProbes).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	return r
}
