package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"keyline/internal/infrastructure"
	"keyline/pkg/contracts/domain"
)

// LicenseManager is the manager surface the service layer depends on.
// license.Manager satisfies it; tests substitute fakes.
type LicenseManager interface {
	Activate(ctx context.Context, key string, opts domain.ActivationOptions) (*domain.LicenseRecord, error)
	Validate(ctx context.Context) bool
	Deactivate(ctx context.Context) error
	IsValid(ctx context.Context) bool
	Status(ctx context.Context) domain.LicenseStatusSnapshot
	Feature(name string) (domain.FeatureValue, bool)
	GetFeature(name string, fallback any) any
	CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error)
	ReportUsage(ctx context.Context, report domain.UsageReport) error
	InvalidateCache(ctx context.Context)
}

// LicenseService provides business logic for license operations.
type LicenseService interface {
	GetStatus(ctx context.Context) (*LicenseStatusResponse, error)
	Activate(ctx context.Context, req domain.LicenseActivationRequest) (*LicenseStatusResponse, error)
	Deactivate(ctx context.Context) error
	ValidateWithContext(ctx context.Context) (bool, error)
	Features(ctx context.Context) (domain.FeatureMap, error)
	CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error)
	ReportUsage(ctx context.Context, report domain.UsageReport) error
	InvalidateCache(ctx context.Context) error
	GetOperationMetrics(ctx context.Context) *OperationMetrics
}

// LicenseStatusResponse is the standardized license status payload
// served by the local API and the CLI.
type LicenseStatusResponse struct {
	LicenseStatus string            `json:"license_status"` // active|warning|critical|expired|suspended|revoked|not_activated
	Message       string            `json:"message"`
	Activated     bool              `json:"activated"`
	DaysLeft      int               `json:"days_left,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	TierCode      string            `json:"tier_code,omitempty"`
	Features      domain.FeatureMap `json:"features,omitempty"`
	TraceID       string            `json:"trace_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// OperationMetrics is a per-process view of service activity.
type OperationMetrics struct {
	TotalValidations      int64         `json:"total_validations"`
	SuccessfulValidations int64         `json:"successful_validations"`
	FailedValidations     int64         `json:"failed_validations"`
	LastValidationTime    time.Time     `json:"last_validation_time"`
	Uptime                time.Duration `json:"uptime"`
}

type licenseService struct {
	manager LicenseManager
	logger  *slog.Logger

	startTime time.Time

	// Counters are read and written from concurrent requests.
	validationCount atomic.Int64
	successCount    atomic.Int64
	errorCount      atomic.Int64
	lastValidation  atomic.Int64 // unix nanos, zero before the first validation
}

// NewLicenseService creates a new license service.
func NewLicenseService(manager LicenseManager, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager:   manager,
		logger:    logger.With(slog.String("service", "license")),
		startTime: time.Now(),
	}
}

// GetStatus returns the current license status from local state.
func (s *licenseService) GetStatus(ctx context.Context) (*LicenseStatusResponse, error) {
	traceID := s.traceID(ctx)

	snapshot := s.manager.Status(ctx)

	if !snapshot.Activated {
		return &LicenseStatusResponse{
			LicenseStatus: "not_activated",
			Message:       "No license activated. Activate a license to unlock licensed features.",
			TraceID:       traceID,
			Timestamp:     time.Now(),
		}, nil
	}

	daysLeft := daysUntil(snapshot.ExpiresAt)
	bucket := statusBucket(snapshot.Status, snapshot.ExpiresAt, daysLeft)

	s.logger.DebugContext(ctx, "license status resolved",
		slog.String("trace_id", traceID),
		slog.String("status", string(snapshot.Status)),
		slog.String("bucket", bucket),
		slog.Int("days_left", daysLeft),
	)

	return &LicenseStatusResponse{
		LicenseStatus: bucket,
		Message:       statusMessage(bucket, daysLeft),
		Activated:     true,
		DaysLeft:      daysLeft,
		ExpiresAt:     snapshot.ExpiresAt,
		TierCode:      snapshot.TierCode,
		Features:      snapshot.Features,
		TraceID:       traceID,
		Timestamp:     time.Now(),
	}, nil
}

// Activate activates a license and returns the resulting status.
func (s *licenseService) Activate(ctx context.Context, req domain.LicenseActivationRequest) (*LicenseStatusResponse, error) {
	start := time.Now()
	traceID := s.traceID(ctx)

	s.logger.InfoContext(ctx, "license activation started",
		slog.String("trace_id", traceID),
		slog.String("operation", "activate"),
	)

	_, err := s.manager.Activate(ctx, req.LicenseKey, domain.ActivationOptions{
		SiteName: req.SiteName,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "license activation succeeded",
		slog.String("trace_id", traceID),
		slog.Duration("latency", time.Since(start)),
	)

	return s.GetStatus(ctx)
}

// Deactivate releases the activation and clears local state.
func (s *licenseService) Deactivate(ctx context.Context) error {
	traceID := s.traceID(ctx)

	s.logger.InfoContext(ctx, "license deactivation started",
		slog.String("trace_id", traceID),
		slog.String("operation", "deactivate"),
	)

	if err := s.manager.Deactivate(ctx); err != nil {
		return fmt.Errorf("deactivation failed: %w", err)
	}
	return nil
}

// ValidateWithContext validates the current license, honoring context
// cancellation while the remote call is in flight.
func (s *licenseService) ValidateWithContext(ctx context.Context) (bool, error) {
	start := time.Now()
	traceID := s.traceID(ctx)

	s.validationCount.Add(1)

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- s.manager.Validate(ctx)
	}()

	select {
	case <-ctx.Done():
		s.errorCount.Add(1)
		s.logger.WarnContext(ctx, "license validation cancelled",
			slog.String("trace_id", traceID),
			slog.Duration("latency", time.Since(start)),
		)
		return false, ctx.Err()

	case valid := <-resultCh:
		s.lastValidation.Store(time.Now().UnixNano())
		if valid {
			s.successCount.Add(1)
		} else {
			s.errorCount.Add(1)
		}

		s.logger.DebugContext(ctx, "license validation completed",
			slog.String("trace_id", traceID),
			slog.Duration("latency", time.Since(start)),
			slog.Bool("valid", valid),
		)
		return valid, nil
	}
}

// Features returns the locally persisted entitlement map.
func (s *licenseService) Features(ctx context.Context) (domain.FeatureMap, error) {
	snapshot := s.manager.Status(ctx)
	if !snapshot.Activated {
		return domain.FeatureMap{}, nil
	}
	if snapshot.Features == nil {
		return domain.FeatureMap{}, nil
	}
	return snapshot.Features, nil
}

// CheckForUpdates checks for a newer product version.
func (s *licenseService) CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error) {
	return s.manager.CheckForUpdates(ctx)
}

// ReportUsage forwards period metrics to the licensing service.
func (s *licenseService) ReportUsage(ctx context.Context, report domain.UsageReport) error {
	return s.manager.ReportUsage(ctx, report)
}

// InvalidateCache drops cached validation results.
func (s *licenseService) InvalidateCache(ctx context.Context) error {
	s.logger.InfoContext(ctx, "invalidating license cache",
		slog.String("trace_id", s.traceID(ctx)),
		slog.String("operation", "invalidate_cache"),
	)
	s.manager.InvalidateCache(ctx)
	return nil
}

// GetOperationMetrics returns per-process service counters.
func (s *licenseService) GetOperationMetrics(ctx context.Context) *OperationMetrics {
	var last time.Time
	if nanos := s.lastValidation.Load(); nanos != 0 {
		last = time.Unix(0, nanos)
	}
	return &OperationMetrics{
		TotalValidations:      s.validationCount.Load(),
		SuccessfulValidations: s.successCount.Load(),
		FailedValidations:     s.errorCount.Load(),
		LastValidationTime:    last,
		Uptime:                time.Since(s.startTime),
	}
}

func (s *licenseService) traceID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.GetTraceID(ctx)
}

// daysUntil converts an expiry into whole days from today, truncating
// both sides to day precision to avoid off-by-one drift near midnight.
func daysUntil(expiresAt *time.Time) int {
	if expiresAt == nil {
		return 0
	}
	now := time.Now()
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	expiryDay := time.Date(expiresAt.Year(), expiresAt.Month(), expiresAt.Day(), 0, 0, 0, 0, expiresAt.Location())
	return int(expiryDay.Sub(nowDay).Hours() / 24)
}

// statusBucket maps the durable status plus remaining days onto the
// presentation bucket used by the UI and CLI.
func statusBucket(status domain.LicenseStatus, expiresAt *time.Time, daysLeft int) string {
	switch status {
	case domain.LicenseStatusExpired:
		return "expired"
	case domain.LicenseStatusRevoked:
		return "revoked"
	case domain.LicenseStatusSuspended:
		return "suspended"
	case domain.LicenseStatusActive:
		if expiresAt == nil {
			return "active"
		}
		switch {
		case daysLeft <= 0:
			return "expired"
		case daysLeft <= 7:
			return "critical"
		case daysLeft <= 30:
			return "warning"
		default:
			return "active"
		}
	default:
		return "not_activated"
	}
}

// statusMessage generates a user-facing message for a status bucket.
func statusMessage(bucket string, daysLeft int) string {
	switch bucket {
	case "expired":
		return "Your license has expired. Renew to continue using licensed features."
	case "revoked":
		return "Your license has been revoked. Contact your license provider."
	case "suspended":
		return "Your license is suspended. Contact your license provider."
	case "critical":
		return fmt.Sprintf("Your license expires in %d days. Renew soon to avoid interruption.", daysLeft)
	case "warning":
		return fmt.Sprintf("Your license expires in %d days. Consider renewing.", daysLeft)
	case "active":
		if daysLeft > 0 {
			return fmt.Sprintf("License is active. %d days remaining.", daysLeft)
		}
		return "License is active."
	default:
		return "No license activated."
	}
}
