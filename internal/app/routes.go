package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/handlers"
	"stream-auditor/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, metrics http.Handler, logger logging.Logger) {
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze", h.Analyze).Methods(http.MethodPost)
}
