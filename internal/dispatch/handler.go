package dispatch

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bissquit/notifyq/internal/pkg/httputil"
)

// Handler exposes the manual dispatch trigger for operators.
type Handler struct {
	schedulers map[string]*Scheduler
}

// NewHandler creates a dispatch handler for the given schedulers.
func NewHandler(schedulers ...*Scheduler) *Handler {
	byTenant := make(map[string]*Scheduler, len(schedulers))
	for _, s := range schedulers {
		byTenant[s.TenantID()] = s
	}
	return &Handler{schedulers: byTenant}
}

// RegisterRoutes registers dispatch routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tenants/{tenantID}/dispatch", h.Trigger)
}

// Trigger handles POST /tenants/{tenantID}/dispatch. It runs one dispatch
// cycle immediately and returns its summary. A cycle already in progress is
// reported as skipped, not queued.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	sched, ok := h.schedulers[tenantID]
	if !ok {
		httputil.Error(w, http.StatusNotFound, "no dispatcher for tenant")
		return
	}

	result, err := sched.RunCycle(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
