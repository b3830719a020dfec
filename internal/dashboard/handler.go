package dashboard

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/invoicely/invoicely/internal/platform/httpx"
)

// Handler serves the dashboard endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.overview)
	r.Get("/dashboard/activity", h.activity)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Overview(r.Context())
	if err != nil {
		h.fail(w, "dashboard overview failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.service.Activity(r.Context(), limit)
	if err != nil {
		h.fail(w, "dashboard activity failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"activity": events})
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !errors.Is(err, httpx.ErrUnauthorized) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
