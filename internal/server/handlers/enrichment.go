package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/partflow/partflow/internal/core"
	"github.com/partflow/partflow/internal/core/queue"
	apperrors "github.com/partflow/partflow/internal/errors"
)

// QueueService is the slice of the queue manager the API uses.
type QueueService interface {
	QueueEnrichment(ctx context.Context, req queue.EnrichmentRequest) (*core.EnrichmentTask, error)
	GetQueueStatus(supplier string) queue.QueueStatus
	GetAllQueueStatus() []queue.QueueStatus
	GetTaskStatus(id string) (*queue.TaskView, error)
	CancelTask(id string) bool
	GetQueueStatistics() queue.Statistics
}

// LimitService is the slice of the rate limit tracker the API uses.
type LimitService interface {
	CheckRateLimit(ctx context.Context, supplier, endpointType string) (*core.RateLimitStatus, error)
	GetUsageStats(ctx context.Context, supplier, window string) (*core.UsageStats, error)
}

var (
	queueService QueueService
	limitService LimitService
)

// SetQueueService injects the queue manager used by the enrichment API.
func SetQueueService(svc QueueService) {
	queueService = svc
}

// SetLimitService injects the rate limit tracker used by the enrichment API.
func SetLimitService(svc LimitService) {
	limitService = svc
}

// enrichmentPayload is the submission wire format. Priority and
// capabilities arrive as labels and are parsed into their typed forms.
type enrichmentPayload struct {
	TaskID       string   `json:"task_id,omitempty"`
	PartID       string   `json:"part_id"`
	PartName     string   `json:"part_name"`
	Supplier     string   `json:"supplier_name"`
	Capabilities []string `json:"capabilities,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
}

// EnqueueEnrichmentHandler accepts a job submission and queues it.
func EnqueueEnrichmentHandler(w http.ResponseWriter, r *http.Request) {
	if queueService == nil {
		respondWithError(w, r, apperrors.NewInternalError("enrichment queue is not available"))
		return
	}

	var payload enrichmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid enrichment request body"))
		return
	}

	req := queue.EnrichmentRequest{
		TaskID:     payload.TaskID,
		PartID:     payload.PartID,
		PartName:   payload.PartName,
		Supplier:   payload.Supplier,
		MaxRetries: payload.MaxRetries,
	}

	priority, err := core.ParsePriority(payload.Priority)
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	req.Priority = priority

	for _, label := range payload.Capabilities {
		capability, err := core.ParseCapability(label)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidInputError(err.Error()))
			return
		}
		req.Capabilities = append(req.Capabilities, capability)
	}

	task, err := queueService.QueueEnrichment(r.Context(), req)
	if err != nil {
		var unknown *core.UnknownSupplierError
		if errors.As(err, &unknown) {
			respondWithError(w, r, apperrors.NewUnknownSupplierError(unknown.Supplier))
			return
		}
		respondWithError(w, r, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	writeJSON(w, http.StatusAccepted, task)
}

// QueueListHandler reports every supplier queue.
func QueueListHandler(w http.ResponseWriter, r *http.Request) {
	if queueService == nil {
		respondWithError(w, r, apperrors.NewInternalError("enrichment queue is not available"))
		return
	}
	writeJSON(w, http.StatusOK, queueService.GetAllQueueStatus())
}

// QueueStatusHandler reports one supplier queue. Unknown suppliers get
// an empty status.
func QueueStatusHandler(w http.ResponseWriter, r *http.Request) {
	if queueService == nil {
		respondWithError(w, r, apperrors.NewInternalError("enrichment queue is not available"))
		return
	}

	supplier := chi.URLParam(r, "supplier")
	writeJSON(w, http.StatusOK, queueService.GetQueueStatus(supplier))
}

// QueueStatisticsHandler reports aggregate task counts across queues.
func QueueStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	if queueService == nil {
		respondWithError(w, r, apperrors.NewInternalError("enrichment queue is not available"))
		return
	}
	writeJSON(w, http.StatusOK, queueService.GetQueueStatistics())
}

// TaskStatusHandler reports one task with its derived progress.
func TaskStatusHandler(w http.ResponseWriter, r *http.Request) {
	if queueService == nil {
		respondWithError(w, r, apperrors.NewInternalError("enrichment queue is not available"))
		return
	}

	id := chi.URLParam(r, "id")
	view, err := queueService.GetTaskStatus(id)
	if err != nil {
		respondWithError(w, r, apperrors.NewNotFoundError("unknown task: "+id))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// TaskCancelHandler cancels a pending or running task.
func TaskCancelHandler(w http.ResponseWriter, r *http.Request) {
	if queueService == nil {
		respondWithError(w, r, apperrors.NewInternalError("enrichment queue is not available"))
		return
	}

	id := chi.URLParam(r, "id")
	if !queueService.CancelTask(id) {
		respondWithError(w, r, apperrors.NewConflictError("task cannot be cancelled: "+id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}

// RateLimitStatusHandler answers "may I call this supplier now?".
func RateLimitStatusHandler(w http.ResponseWriter, r *http.Request) {
	if limitService == nil {
		respondWithError(w, r, apperrors.NewInternalError("rate limit tracker is not available"))
		return
	}

	supplier := chi.URLParam(r, "supplier")
	endpointType := strings.TrimSpace(r.URL.Query().Get("endpoint"))
	if endpointType == "" {
		endpointType = "api_check"
	}

	status, err := limitService.CheckRateLimit(r.Context(), supplier, endpointType)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "rate limit check failed"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// UsageStatsHandler summarizes recorded supplier requests over a window.
func UsageStatsHandler(w http.ResponseWriter, r *http.Request) {
	if limitService == nil {
		respondWithError(w, r, apperrors.NewInternalError("rate limit tracker is not available"))
		return
	}

	supplier := chi.URLParam(r, "supplier")
	window := strings.TrimSpace(r.URL.Query().Get("window"))
	if window == "" {
		window = "24h"
	}

	stats, err := limitService.GetUsageStats(r.Context(), supplier, window)
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
