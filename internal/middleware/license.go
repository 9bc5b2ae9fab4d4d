// Package middleware provides HTTP middleware for hosts that embed the
// license manager and want to gate their own routes on license
// validity. The keyline server itself does not mount the gate; a host
// wires it onto its own router:
//
//	gate := middleware.NewLicenseGate(app.LicenseService, logger)
//	r.Use(gate.Handler)
//
// The local license API itself is never gated: activation and status
// endpoints must stay reachable with an invalid license.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	licenseErrors "keyline/internal/errors"
	"keyline/internal/infrastructure"
	"keyline/internal/services"
)

// LicenseGate rejects requests when the license is not valid. The
// underlying manager caches validation results, so the per-request
// cost is a local cache read in the steady state.
type LicenseGate struct {
	service services.LicenseService
	logger  *slog.Logger

	excludePaths    map[string]struct{}
	excludePrefixes []string
}

// GateOption customizes a LicenseGate.
type GateOption func(*LicenseGate)

// WithExcludedPaths exempts exact paths from the gate.
func WithExcludedPaths(paths ...string) GateOption {
	return func(g *LicenseGate) {
		for _, p := range paths {
			g.excludePaths[p] = struct{}{}
		}
	}
}

// WithExcludedPrefixes exempts path prefixes from the gate.
func WithExcludedPrefixes(prefixes ...string) GateOption {
	return func(g *LicenseGate) {
		g.excludePrefixes = append(g.excludePrefixes, prefixes...)
	}
}

// NewLicenseGate creates a gate over the given license service. The
// license API and health endpoints are excluded by default so an
// invalid license can always be fixed through the API it would
// otherwise block.
func NewLicenseGate(service services.LicenseService, logger *slog.Logger, opts ...GateOption) *LicenseGate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &LicenseGate{
		service:      service,
		logger:       logger.With(slog.String("component", "license_gate")),
		excludePaths: map[string]struct{}{"/healthz": {}},
		excludePrefixes: []string{
			"/api/license",
			"/api/update",
			"/metrics",
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler is the chi-compatible middleware.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		valid, err := g.service.ValidateWithContext(ctx)
		if err == nil && valid {
			next.ServeHTTP(w, r)
			return
		}

		traceID := infrastructure.GetTraceID(ctx)
		g.logger.WarnContext(ctx, "request blocked by license gate",
			slog.String("path", r.URL.Path),
			slog.String("trace_id", traceID),
			slog.Bool("valid", valid),
		)

		problem := licenseErrors.NewProblemDetails(
			http.StatusForbidden,
			"/errors/license-invalid",
			"License Invalid",
			"A valid license is required to access this resource.",
			r.URL.Path,
		).WithExtension("trace_id", traceID)
		render.Render(w, r, problem)
	})
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
