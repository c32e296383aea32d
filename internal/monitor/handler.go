package monitor

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bissquit/notifyq/internal/pkg/httputil"
)

// Handler exposes monitoring samples over HTTP.
type Handler struct {
	monitor *Monitor
}

// NewHandler creates a monitor handler.
func NewHandler(monitor *Monitor) *Handler {
	return &Handler{monitor: monitor}
}

// RegisterRoutes registers monitor routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tenants/{tenantID}/queue/monitor", h.Sample)
}

// Sample handles GET /tenants/{tenantID}/queue/monitor.
func (h *Handler) Sample(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	snapshot, err := h.monitor.Sample(r.Context(), tenantID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, snapshot)
}
