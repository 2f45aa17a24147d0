package routes

import (
	"chunk-transcriber/api/rest/handlers"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, jobHandler *handlers.JobHandler, dashboardHandler *handlers.DashboardHandler) {
	r.HandleFunc("/", dashboardHandler.Index).Methods("GET")
	r.HandleFunc("/health", dashboardHandler.Health).Methods("GET")
	r.HandleFunc("/metrics", dashboardHandler.Metrics).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", jobHandler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/events", jobHandler.GetJobEvents).Methods("GET")
	api.HandleFunc("/jobs/{id}/transcript", jobHandler.DownloadTranscript).Methods("GET")

	// Dashboard endpoints
	api.HandleFunc("/dashboard/summary", dashboardHandler.GetJobSummary).Methods("GET")
}
