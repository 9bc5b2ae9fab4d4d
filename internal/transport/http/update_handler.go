package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	licenseErrors "keyline/internal/errors"
	"keyline/internal/infrastructure"
	"keyline/internal/services"
)

// UpdateHandler serves the update-check endpoint.
type UpdateHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewUpdateHandler creates a new update handler.
func NewUpdateHandler(service services.LicenseService, logger *slog.Logger) *UpdateHandler {
	return &UpdateHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "update")),
	}
}

// Routes returns a chi router for update endpoints.
func (h *UpdateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/check", h.CheckUpdate)
	return r
}

// CheckUpdate handles GET /api/update/check. An up-to-date install
// returns update_available=false with no update object.
func (h *UpdateHandler) CheckUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "update_handler.check")
	defer span.End()

	info, err := h.service.CheckForUpdates(ctx)
	if err != nil {
		span.RecordError(err)
		renderUpdateError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("update.available", info != nil))

	if info == nil {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, map[string]any{
			"update_available": false,
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"update_available": true,
		"update":           info,
	})
}

func renderUpdateError(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, licenseErrors.MapLicenseError(err, infrastructure.GetTraceID(r.Context())))
}
