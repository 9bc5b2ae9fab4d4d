package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "keyline/internal/errors"
	"keyline/internal/infrastructure"
	"keyline/internal/services"
	"keyline/pkg/contracts/domain"
)

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// activationRequest is the activation payload with render binding.
type activationRequest struct {
	domain.LicenseActivationRequest
}

// Bind implements render.Binder for activation requests.
func (a *activationRequest) Bind(r *http.Request) error {
	return validate.Struct(&a.LicenseActivationRequest)
}

// usageReportRequest is the usage report payload with render binding.
type usageReportRequest struct {
	domain.UsageReport
}

// Bind implements render.Binder for usage reports.
func (u *usageReportRequest) Bind(r *http.Request) error {
	return validate.Struct(&u.UsageReport)
}

// Routes returns a chi router for license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/validate", h.Validate)
	r.Get("/features", h.GetFeatures)
	r.Post("/usage", h.ReportUsage)
	r.Post("/invalidate-cache", h.InvalidateCache)
	r.Get("/metrics", h.GetMetrics)

	return r
}

// GetStatus handles GET /api/license/status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license_handler.get_status",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/status"),
		),
	)
	defer span.End()

	response, err := h.service.GetStatus(ctx)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("license.status", response.LicenseStatus))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.route", "/api/license/activate"),
		),
	)
	defer span.End()

	req := &activationRequest{}
	if err := render.Bind(r, req); err != nil {
		h.logger.WarnContext(ctx, "activation request rejected",
			slog.String("request_id", middleware.GetReqID(ctx)),
			slog.String("error", err.Error()),
		)
		problem := licenseErrors.NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-request",
			"Invalid Request",
			err.Error(),
			r.URL.Path,
		).WithExtension("trace_id", infrastructure.GetTraceID(ctx))
		render.Render(w, r, problem)
		return
	}

	response, err := h.service.Activate(ctx, req.LicenseActivationRequest)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Deactivate handles POST /api/license/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license_handler.deactivate")
	defer span.End()

	if err := h.service.Deactivate(ctx); err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"success":  true,
		"message":  "License deactivated",
		"trace_id": infrastructure.GetTraceID(ctx),
	})
}

// Validate handles POST /api/license/validate. The verdict is always
// HTTP 200 with a boolean; an invalid license is a state, not an error.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license_handler.validate")
	defer span.End()

	valid, err := h.service.ValidateWithContext(ctx)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Bool("license.valid", valid))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"valid":    valid,
		"trace_id": infrastructure.GetTraceID(ctx),
	})
}

// GetFeatures handles GET /api/license/features.
func (h *LicenseHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license_handler.get_features")
	defer span.End()

	features, err := h.service.Features(ctx)
	if err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"features": features,
	})
}

// ReportUsage handles POST /api/license/usage.
func (h *LicenseHandler) ReportUsage(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "license_handler.report_usage")
	defer span.End()

	req := &usageReportRequest{}
	if err := render.Bind(r, req); err != nil {
		problem := licenseErrors.NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-request",
			"Invalid Request",
			err.Error(),
			r.URL.Path,
		).WithExtension("trace_id", infrastructure.GetTraceID(ctx))
		render.Render(w, r, problem)
		return
	}

	if err := h.service.ReportUsage(ctx, req.UsageReport); err != nil {
		span.RecordError(err)
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{
		"success": true,
	})
}

// InvalidateCache handles POST /api/license/invalidate-cache.
func (h *LicenseHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.service.InvalidateCache(ctx); err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"success": true,
		"message": "Validation cache invalidated",
	})
}

// GetMetrics handles GET /api/license/metrics.
func (h *LicenseHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.service.GetOperationMetrics(r.Context()))
}

// renderError translates a service error into an RFC 7807 problem.
func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	h.logger.ErrorContext(ctx, "license request failed",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("trace_id", traceID),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	render.Render(w, r, licenseErrors.MapLicenseError(err, traceID))
}
