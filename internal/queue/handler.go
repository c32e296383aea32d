package queue

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/bissquit/notifyq/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrEmptyPayload, Status: http.StatusBadRequest, Message: "payload text is required"},
	{Error: ErrMissingTenant, Status: http.StatusBadRequest, Message: "tenant id is required"},
	{Error: ErrMissingOrigin, Status: http.StatusBadRequest, Message: "origin id is required"},
	{Error: ErrEntryNotFound, Status: http.StatusNotFound, Message: "queue entry not found"},
}

// Handler handles HTTP requests for the queue module.
type Handler struct {
	core      *Core
	validator *validator.Validate
}

// NewHandler creates a new queue handler.
func NewHandler(core *Core) *Handler {
	return &Handler{
		core:      core,
		validator: validator.New(),
	}
}

// RegisterRoutes registers queue routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tenants/{tenantID}/queue", h.Enqueue)
	r.Get("/tenants/{tenantID}/queue/stats", h.Stats)
	r.Get("/tenants/{tenantID}/queue/entries/{queueID}", h.GetEntry)
}

// EnqueueRequest represents request body for enqueueing a notification.
type EnqueueRequest struct {
	Text        string            `json:"text" validate:"required"`
	Fields      map[string]string `json:"fields"`
	OriginID    string            `json:"origin_id" validate:"required"`
	OriginClass string            `json:"origin_class"`
	MaxRetries  *int              `json:"max_retries" validate:"omitempty,min=0"`
}

// EnqueueResponse represents the accepted entry.
type EnqueueResponse struct {
	QueueID  string `json:"queue_id"`
	Priority int    `json:"priority"`
	Status   Status `json:"status"`
}

// Enqueue handles POST /tenants/{tenantID}/queue.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	entry, err := h.core.Normalize(r.Context(),
		RawMessage{Text: req.Text, Fields: req.Fields},
		Origin{TenantID: tenantID, OriginID: req.OriginID, OriginClass: req.OriginClass},
	)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if req.MaxRetries != nil {
		entry.MaxRetries = *req.MaxRetries
	}

	queueID, err := h.core.Enqueue(r.Context(), entry)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, EnqueueResponse{
		QueueID:  queueID,
		Priority: entry.Priority,
		Status:   entry.Status,
	})
}

// Stats handles GET /tenants/{tenantID}/queue/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	stats, err := h.core.Stats(r.Context(), tenantID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// GetEntry handles GET /tenants/{tenantID}/queue/entries/{queueID}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	queueID := chi.URLParam(r, "queueID")

	entry, err := h.core.Get(r.Context(), tenantID, queueID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entry)
}
