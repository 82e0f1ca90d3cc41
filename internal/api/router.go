// Package api exposes the tool interface and job endpoints over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/api/handlers"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/api/middleware"
)

// NewRouter wires the routes and wraps them in the middleware chain.
func NewRouter(tools handlers.Invoker, queue handlers.JobQueue, corsOrigins []string, log zerolog.Logger) http.Handler {
	toolsHandler := handlers.NewToolsHandler(tools, log)
	jobsHandler := handlers.NewJobsHandler(queue, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/tools", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			toolsHandler.Invoke(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		jobID, action, _ := strings.Cut(rest, "/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		switch {
		case action == "" && r.Method == http.MethodGet:
			jobsHandler.GetJob(w, r, jobID)
		case action == "cancel" && r.Method == http.MethodPost:
			jobsHandler.CancelJob(w, r, jobID)
		case action != "" && action != "cancel":
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.CORS(corsOrigins),
	)
}
