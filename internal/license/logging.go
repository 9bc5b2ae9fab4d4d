package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keyline/internal/infrastructure"
)

// logAction logs a specific action with structured data and trace
// correlation.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := m.logger
	if logger == nil {
		logger = infrastructure.LoggerWithContext(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	allAttrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
		slog.String("result", result),
	}
	allAttrs = append(allAttrs, attrs...)

	logger.LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction logs license-specific actions with the key masked.
// Raw license keys never reach the log stream.
func (m *Manager) logLicenseAction(ctx context.Context, level slog.Level, action, result, licenseKey string, attrs ...slog.Attr) {
	licenseAttrs := []slog.Attr{
		slog.String("license_key_masked", maskLicenseKey(licenseKey)),
		slog.String("license_key_hash", hashLicenseKey(licenseKey)),
	}
	licenseAttrs = append(licenseAttrs, attrs...)

	m.logAction(ctx, level, action, result, licenseAttrs...)
}

// maskLicenseKey masks the license key for logging.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey creates a short hash of the license key for audit
// correlation without exposing the key itself.
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}

// cacheScope derives the cache key scope from the license key and
// domain. Validation cache entries are scoped per (key, domain) so a
// host managing multiple licenses never sees entries collide.
func cacheScope(key, domainName string) string {
	h := sha256.Sum256([]byte(key + "|" + strings.ToLower(domainName)))
	return fmt.Sprintf("%x", h)[:16]
}

// Helper methods for specific log levels
func (m *Manager) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}
