package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"annotation-orchestrator/api/rest/handlers"
	"annotation-orchestrator/core/monitoring"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, jobHandler *handlers.JobHandler, subscriptionHandler *handlers.SubscriptionHandler, gatherer prometheus.Gatherer) {
	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")

	// Subscription endpoints
	api.HandleFunc("/subscription", subscriptionHandler.Subscribe).Methods("POST")
	api.HandleFunc("/subscription", subscriptionHandler.Unsubscribe).Methods("DELETE")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	r.Handle("/metrics", monitoring.Handler(gatherer)).Methods("GET")
}
