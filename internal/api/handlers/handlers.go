package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/api/middleware"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/tools"
)

// MaxBodyBytes bounds a tool invocation body. Larger statements go through
// object storage.
const MaxBodyBytes = 8 << 20

// Invoker is satisfied by *tools.Dispatcher.
type Invoker interface {
	Invoke(ctx context.Context, inv tools.Invocation) *tools.Result
}

// ToolsHandler handles tool invocations.
type ToolsHandler struct {
	tools Invoker
	log   zerolog.Logger
}

// NewToolsHandler creates a new tools handler.
func NewToolsHandler(tools Invoker, log zerolog.Logger) *ToolsHandler {
	return &ToolsHandler{tools: tools, log: log}
}

// Invoke handles POST /api/tools. The body is an invocation; the response
// is always the result envelope, with the HTTP status mirroring its error kind.
func (h *ToolsHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var inv tools.Invocation
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(&inv); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, &tools.Result{
			ErrorKind: domain.KindValidation,
			Message:   "invalid request body: " + err.Error(),
		})
		return
	}

	res := h.tools.Invoke(r.Context(), inv)
	if res.ResetAt != nil {
		secs := int(time.Until(*res.ResetAt).Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	middleware.WriteJSON(w, StatusFor(res), res)
}

// StatusFor maps a result envelope to an HTTP status.
func StatusFor(res *tools.Result) int {
	if res.Success {
		if _, queued := res.Data.(tools.Queued); queued {
			return http.StatusAccepted
		}
		return http.StatusOK
	}
	return statusForKind(res.ErrorKind)
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindCapabilityUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// JobQueue is satisfied by *jobs.Queue.
type JobQueue interface {
	Status(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error)
	List(ctx context.Context, filter jobs.Filter) ([]*jobs.QueueJob, error)
	Cancel(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error)
}

// JobsHandler handles job-related endpoints. Every request names its tenant
// in the tenant_id query parameter.
type JobsHandler struct {
	queue JobQueue
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(queue JobQueue, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		queue: queue,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	job, err := h.queue.Status(r.Context(), tenantID, jobID)
	if err != nil {
		h.writeErr(w, err, "Failed to get job", jobID)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /api/jobs/{id}/cancel
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	job, err := h.queue.Cancel(r.Context(), tenantID, jobID)
	if err != nil {
		h.writeErr(w, err, "Failed to cancel job", jobID)
		return
	}
	h.log.Info().Str("job_id", jobID).Str("tenant_id", tenantID).Str("state", string(job.State)).Msg("Job cancellation requested")
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.Filter{
		TenantID: tenantID,
		State:    jobs.State(query.Get("state")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.queue.List(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.QueueJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func (h *JobsHandler) writeErr(w http.ResponseWriter, err error, msg, jobID string) {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	h.log.Error().Err(err).Str("job_id", jobID).Msg(msg)
	middleware.WriteError(w, statusForKind(domain.KindOf(err)), msg)
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "tenant_id is required")
		return "", false
	}
	return tenantID, true
}
