package license

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// MeterName identifies the license manager instrumentation scope.
const MeterName = "keyline/license"

// Metrics holds the license-specific OpenTelemetry instruments.
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter

	ValidationAttempts    metric.Int64Counter
	ValidationSuccess     metric.Int64Counter
	ValidationFailures    metric.Int64Counter
	ValidationCacheHits   metric.Int64Counter
	ValidationCacheMisses metric.Int64Counter

	Deactivations metric.Int64Counter
	UpdateChecks  metric.Int64Counter
	RateLimitHits metric.Int64Counter
}

// NewMetrics creates the license instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)

	m := &Metrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter("license_activation_attempts_total",
		metric.WithDescription("Total license activation attempts")); err != nil {
		return nil, err
	}
	if m.ActivationSuccess, err = meter.Int64Counter("license_activation_success_total",
		metric.WithDescription("Successful license activations")); err != nil {
		return nil, err
	}
	if m.ActivationFailures, err = meter.Int64Counter("license_activation_failures_total",
		metric.WithDescription("Failed license activations")); err != nil {
		return nil, err
	}
	if m.ValidationAttempts, err = meter.Int64Counter("license_validation_attempts_total",
		metric.WithDescription("Total license validation attempts")); err != nil {
		return nil, err
	}
	if m.ValidationSuccess, err = meter.Int64Counter("license_validation_success_total",
		metric.WithDescription("Successful license validations")); err != nil {
		return nil, err
	}
	if m.ValidationFailures, err = meter.Int64Counter("license_validation_failures_total",
		metric.WithDescription("Failed license validations")); err != nil {
		return nil, err
	}
	if m.ValidationCacheHits, err = meter.Int64Counter("license_validation_cache_hits_total",
		metric.WithDescription("Validation results served from cache")); err != nil {
		return nil, err
	}
	if m.ValidationCacheMisses, err = meter.Int64Counter("license_validation_cache_misses_total",
		metric.WithDescription("Validation cache misses requiring a remote call")); err != nil {
		return nil, err
	}
	if m.Deactivations, err = meter.Int64Counter("license_deactivations_total",
		metric.WithDescription("License deactivations")); err != nil {
		return nil, err
	}
	if m.UpdateChecks, err = meter.Int64Counter("license_update_checks_total",
		metric.WithDescription("Update checks performed against the remote service")); err != nil {
		return nil, err
	}
	if m.RateLimitHits, err = meter.Int64Counter("license_rate_limit_hits_total",
		metric.WithDescription("Activation attempts refused by the local rate limiter")); err != nil {
		return nil, err
	}

	return m, nil
}
