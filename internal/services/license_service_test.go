package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "keyline/internal/errors"
	"keyline/pkg/contracts/domain"
)

type fakeManager struct {
	activateFn func(ctx context.Context, key string, opts domain.ActivationOptions) (*domain.LicenseRecord, error)
	validateFn func(ctx context.Context) bool
	statusFn   func(ctx context.Context) domain.LicenseStatusSnapshot
	updateFn   func(ctx context.Context) (*domain.UpdateInfo, error)

	deactivateCalls int
	invalidateCalls int
	usageReports    []domain.UsageReport
}

func (f *fakeManager) Activate(ctx context.Context, key string, opts domain.ActivationOptions) (*domain.LicenseRecord, error) {
	if f.activateFn != nil {
		return f.activateFn(ctx, key, opts)
	}
	return &domain.LicenseRecord{LicenseKey: key, Status: domain.LicenseStatusActive}, nil
}

func (f *fakeManager) Validate(ctx context.Context) bool {
	if f.validateFn != nil {
		return f.validateFn(ctx)
	}
	return true
}

func (f *fakeManager) Deactivate(ctx context.Context) error {
	f.deactivateCalls++
	return nil
}

func (f *fakeManager) IsValid(ctx context.Context) bool { return f.Validate(ctx) }

func (f *fakeManager) Status(ctx context.Context) domain.LicenseStatusSnapshot {
	if f.statusFn != nil {
		return f.statusFn(ctx)
	}
	return domain.LicenseStatusSnapshot{Status: domain.LicenseStatusInactive, CheckedAt: time.Now()}
}

func (f *fakeManager) Feature(name string) (domain.FeatureValue, bool) {
	return domain.FeatureValue{}, false
}

func (f *fakeManager) GetFeature(name string, fallback any) any { return fallback }

func (f *fakeManager) CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx)
	}
	return nil, nil
}

func (f *fakeManager) ReportUsage(ctx context.Context, report domain.UsageReport) error {
	f.usageReports = append(f.usageReports, report)
	return nil
}

func (f *fakeManager) InvalidateCache(ctx context.Context) { f.invalidateCalls++ }

func newTestService(manager LicenseManager) LicenseService {
	return NewLicenseService(manager, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func snapshotWithExpiry(daysFromNow int) domain.LicenseStatusSnapshot {
	expiry := time.Now().AddDate(0, 0, daysFromNow)
	return domain.LicenseStatusSnapshot{
		Activated: true,
		Status:    domain.LicenseStatusActive,
		ExpiresAt: &expiry,
		TierCode:  "01",
		CheckedAt: time.Now(),
	}
}

func TestLicenseServiceGetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("not activated", func(t *testing.T) {
		svc := newTestService(&fakeManager{})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "not_activated", resp.LicenseStatus)
		assert.False(t, resp.Activated)
	})

	t.Run("active with long runway", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot { return snapshotWithExpiry(365) },
		})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "active", resp.LicenseStatus)
		assert.True(t, resp.Activated)
		assert.Equal(t, "01", resp.TierCode)
		assert.Greater(t, resp.DaysLeft, 300)
	})

	t.Run("warning within thirty days", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot { return snapshotWithExpiry(15) },
		})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "warning", resp.LicenseStatus)
	})

	t.Run("critical within seven days", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot { return snapshotWithExpiry(3) },
		})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "critical", resp.LicenseStatus)
	})

	t.Run("expired by date", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot { return snapshotWithExpiry(-2) },
		})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "expired", resp.LicenseStatus)
	})

	t.Run("suspended status passes through", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot {
				return domain.LicenseStatusSnapshot{Activated: true, Status: domain.LicenseStatusSuspended}
			},
		})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "suspended", resp.LicenseStatus)
	})

	t.Run("active with no expiry", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot {
				return domain.LicenseStatusSnapshot{Activated: true, Status: domain.LicenseStatusActive}
			},
		})

		resp, err := svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, "active", resp.LicenseStatus)
		assert.Zero(t, resp.DaysLeft)
	})
}

func TestLicenseServiceActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("success returns fresh status", func(t *testing.T) {
		manager := &fakeManager{}
		manager.statusFn = func(context.Context) domain.LicenseStatusSnapshot { return snapshotWithExpiry(365) }
		svc := newTestService(manager)

		resp, err := svc.Activate(ctx, domain.LicenseActivationRequest{LicenseKey: "a.b"})
		require.NoError(t, err)
		assert.Equal(t, "active", resp.LicenseStatus)
	})

	t.Run("propagates typed failures", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			activateFn: func(context.Context, string, domain.ActivationOptions) (*domain.LicenseRecord, error) {
				return nil, apierrors.ClassifiedFailure(apierrors.CodeLicenseExpired, "license expired", 403, nil)
			},
		})

		_, err := svc.Activate(ctx, domain.LicenseActivationRequest{LicenseKey: "a.b"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apierrors.ErrLicenseExpired)
	})
}

func TestLicenseServiceValidateWithContext(t *testing.T) {
	t.Run("returns manager verdict", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			validateFn: func(context.Context) bool { return true },
		})

		valid, err := svc.ValidateWithContext(context.Background())
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("cancelled context", func(t *testing.T) {
		blocked := make(chan struct{})
		defer close(blocked)
		svc := newTestService(&fakeManager{
			validateFn: func(ctx context.Context) bool {
				<-blocked
				return true
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := svc.ValidateWithContext(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLicenseServiceFeatures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty map when not activated", func(t *testing.T) {
		svc := newTestService(&fakeManager{})

		features, err := svc.Features(ctx)
		require.NoError(t, err)
		assert.Empty(t, features)
	})

	t.Run("returns persisted entitlements", func(t *testing.T) {
		svc := newTestService(&fakeManager{
			statusFn: func(context.Context) domain.LicenseStatusSnapshot {
				return domain.LicenseStatusSnapshot{
					Activated: true,
					Status:    domain.LicenseStatusActive,
					Features: domain.FeatureMap{
						"max_sites": domain.NumberFeature(5),
					},
				}
			},
		})

		features, err := svc.Features(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(5), features["max_sites"].Number)
	})
}

func TestLicenseServiceDeactivateAndCache(t *testing.T) {
	ctx := context.Background()
	manager := &fakeManager{}
	svc := newTestService(manager)

	require.NoError(t, svc.Deactivate(ctx))
	assert.Equal(t, 1, manager.deactivateCalls)

	require.NoError(t, svc.InvalidateCache(ctx))
	assert.Equal(t, 1, manager.invalidateCalls)
}

func TestLicenseServiceReportUsage(t *testing.T) {
	manager := &fakeManager{}
	svc := newTestService(manager)

	err := svc.ReportUsage(context.Background(), domain.UsageReport{
		Period:  "2026-08",
		Metrics: map[string]float64{"requests": 120},
	})
	require.NoError(t, err)
	require.Len(t, manager.usageReports, 1)
	assert.Equal(t, "2026-08", manager.usageReports[0].Period)
}

func TestLicenseServiceOperationMetrics(t *testing.T) {
	svc := newTestService(&fakeManager{})

	_, err := svc.ValidateWithContext(context.Background())
	require.NoError(t, err)

	metrics := svc.GetOperationMetrics(context.Background())
	assert.Equal(t, int64(1), metrics.TotalValidations)
	assert.Equal(t, int64(1), metrics.SuccessfulValidations)
	assert.GreaterOrEqual(t, metrics.Uptime, time.Duration(0))
}

func TestLicenseServiceConcurrentValidations(t *testing.T) {
	valid := make(chan bool, 64)
	svc := newTestService(&fakeManager{
		validateFn: func(ctx context.Context) bool { return <-valid },
	})

	const workers = 16
	for i := 0; i < workers; i++ {
		valid <- i%2 == 0
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ValidateWithContext(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	metrics := svc.GetOperationMetrics(context.Background())
	assert.Equal(t, int64(workers), metrics.TotalValidations)
	assert.Equal(t, int64(workers/2), metrics.SuccessfulValidations)
	assert.Equal(t, int64(workers/2), metrics.FailedValidations)
	assert.False(t, metrics.LastValidationTime.IsZero())
}
