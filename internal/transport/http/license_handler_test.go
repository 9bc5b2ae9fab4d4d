package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "keyline/internal/errors"
	"keyline/internal/services"
	"keyline/pkg/contracts/domain"
)

type fakeLicenseService struct {
	statusFn   func(ctx context.Context) (*services.LicenseStatusResponse, error)
	activateFn func(ctx context.Context, req domain.LicenseActivationRequest) (*services.LicenseStatusResponse, error)
	validateFn func(ctx context.Context) (bool, error)
	updateFn   func(ctx context.Context) (*domain.UpdateInfo, error)
	featuresFn func(ctx context.Context) (domain.FeatureMap, error)

	deactivateErr error
	usageErr      error
}

func (f *fakeLicenseService) GetStatus(ctx context.Context) (*services.LicenseStatusResponse, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx)
	}
	return &services.LicenseStatusResponse{LicenseStatus: "not_activated", Timestamp: time.Now()}, nil
}

func (f *fakeLicenseService) Activate(ctx context.Context, req domain.LicenseActivationRequest) (*services.LicenseStatusResponse, error) {
	if f.activateFn != nil {
		return f.activateFn(ctx, req)
	}
	return &services.LicenseStatusResponse{LicenseStatus: "active", Activated: true}, nil
}

func (f *fakeLicenseService) Deactivate(ctx context.Context) error { return f.deactivateErr }

func (f *fakeLicenseService) ValidateWithContext(ctx context.Context) (bool, error) {
	if f.validateFn != nil {
		return f.validateFn(ctx)
	}
	return true, nil
}

func (f *fakeLicenseService) Features(ctx context.Context) (domain.FeatureMap, error) {
	if f.featuresFn != nil {
		return f.featuresFn(ctx)
	}
	return domain.FeatureMap{}, nil
}

func (f *fakeLicenseService) CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx)
	}
	return nil, nil
}

func (f *fakeLicenseService) ReportUsage(ctx context.Context, report domain.UsageReport) error {
	return f.usageErr
}

func (f *fakeLicenseService) InvalidateCache(ctx context.Context) error { return nil }

func (f *fakeLicenseService) GetOperationMetrics(ctx context.Context) *services.OperationMetrics {
	return &services.OperationMetrics{TotalValidations: 7}
}

func newTestServer(svc services.LicenseService) *httptest.Server {
	router := NewRouter(RouterOptions{
		Service: svc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return httptest.NewServer(router)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestLicenseHandlerGetStatus(t *testing.T) {
	t.Run("not activated", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/api/license/status")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "not_activated", body["license_status"])
	})

	t.Run("active license", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{
			statusFn: func(context.Context) (*services.LicenseStatusResponse, error) {
				return &services.LicenseStatusResponse{
					LicenseStatus: "active",
					Activated:     true,
					DaysLeft:      120,
					TierCode:      "02",
				}, nil
			},
		})
		defer server.Close()

		resp, err := http.Get(server.URL + "/api/license/status")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "active", body["license_status"])
		assert.Equal(t, float64(120), body["days_left"])
		assert.Equal(t, "02", body["tier_code"])
	})
}

func TestLicenseHandlerActivate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
			strings.NewReader(`{"license_key":"eyJwcm9kdWN0IjoicHJvIn0.c2ln","domain":"example.com"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "active", body["license_status"])
	})

	t.Run("missing key returns problem document", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{})
		defer server.Close()

		resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
			strings.NewReader(`{"domain":"example.com"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, float64(http.StatusBadRequest), body["status"])
	})

	t.Run("expired license maps to 403", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{
			activateFn: func(context.Context, domain.LicenseActivationRequest) (*services.LicenseStatusResponse, error) {
				return nil, apierrors.ClassifiedFailure(apierrors.CodeLicenseExpired, "license expired", 403, nil)
			},
		})
		defer server.Close()

		resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
			strings.NewReader(`{"license_key":"eyJwcm9kdWN0IjoicHJvIn0.c2ln"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("activation limit maps to 409", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{
			activateFn: func(context.Context, domain.LicenseActivationRequest) (*services.LicenseStatusResponse, error) {
				return nil, apierrors.ClassifiedFailure(apierrors.CodeActivationLimitExceeded, "activation limit reached", 409, nil)
			},
		})
		defer server.Close()

		resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
			strings.NewReader(`{"license_key":"eyJwcm9kdWN0IjoicHJvIn0.c2ln"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("network failure maps to 503", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{
			activateFn: func(context.Context, domain.LicenseActivationRequest) (*services.LicenseStatusResponse, error) {
				return nil, apierrors.NetworkFailure(context.DeadlineExceeded, nil)
			},
		})
		defer server.Close()

		resp, err := http.Post(server.URL+"/api/license/activate", "application/json",
			strings.NewReader(`{"license_key":"eyJwcm9kdWN0IjoicHJvIn0.c2ln"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestLicenseHandlerValidate(t *testing.T) {
	server := newTestServer(&fakeLicenseService{
		validateFn: func(context.Context) (bool, error) { return false, nil },
	})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/license/validate", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["valid"])
}

func TestLicenseHandlerFeatures(t *testing.T) {
	server := newTestServer(&fakeLicenseService{
		featuresFn: func(context.Context) (domain.FeatureMap, error) {
			return domain.FeatureMap{
				"max_sites": domain.NumberFeature(5),
				"api":       domain.BoolFeature(true),
			}, nil
		},
	})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/license/features")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	features, ok := body["features"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), features["max_sites"])
	assert.Equal(t, true, features["api"])
}

func TestLicenseHandlerDeactivate(t *testing.T) {
	server := newTestServer(&fakeLicenseService{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/license/deactivate", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
}

func TestUpdateHandlerCheck(t *testing.T) {
	t.Run("up to date", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{})
		defer server.Close()

		resp, err := http.Get(server.URL + "/api/update/check")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, false, body["update_available"])
		_, hasUpdate := body["update"]
		assert.False(t, hasUpdate)
	})

	t.Run("update available", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{
			updateFn: func(context.Context) (*domain.UpdateInfo, error) {
				return &domain.UpdateInfo{Version: "2.1.0", DownloadURL: "https://downloads.example.com/keyline-2.1.0.zip"}, nil
			},
		})
		defer server.Close()

		resp, err := http.Get(server.URL + "/api/update/check")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, true, body["update_available"])
		update, ok := body["update"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "2.1.0", update["version"])
	})

	t.Run("not activated maps to 428", func(t *testing.T) {
		server := newTestServer(&fakeLicenseService{
			updateFn: func(context.Context) (*domain.UpdateInfo, error) {
				return nil, apierrors.ErrLicenseNotActivated
			},
		})
		defer server.Close()

		resp, err := http.Get(server.URL + "/api/update/check")
		require.NoError(t, err)
		assert.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestRouterHealthz(t *testing.T) {
	server := newTestServer(&fakeLicenseService{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}
