package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLicenseStatus(t *testing.T) {
	testCases := []struct {
		input string
		want  LicenseStatus
	}{
		{"active", LicenseStatusActive},
		{"ACTIVE", LicenseStatusActive},
		{"  expired ", LicenseStatusExpired},
		{"revoked", LicenseStatusRevoked},
		{"suspended", LicenseStatusSuspended},
		{"inactive", LicenseStatusInactive},
		{"", LicenseStatusInactive},
		{"banana", LicenseStatusInactive},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLicenseStatus(tc.input))
		})
	}
}

func TestFeatureValueJSON(t *testing.T) {
	t.Run("decodes mixed feature map", func(t *testing.T) {
		var features FeatureMap
		payload := `{"max_sites":5,"api_access":true,"support_level":"priority"}`
		require.NoError(t, json.Unmarshal([]byte(payload), &features))

		assert.Equal(t, FeatureKindNumber, features["max_sites"].Kind)
		assert.Equal(t, float64(5), features["max_sites"].Number)

		assert.Equal(t, FeatureKindBool, features["api_access"].Kind)
		assert.True(t, features["api_access"].Bool)

		assert.Equal(t, FeatureKindString, features["support_level"].Kind)
		assert.Equal(t, "priority", features["support_level"].Str)
	})

	t.Run("round trips scalars", func(t *testing.T) {
		features := FeatureMap{
			"max_sites": NumberFeature(5),
			"api":       BoolFeature(false),
			"tier":      StringFeature("Pro"),
		}

		encoded, err := json.Marshal(features)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.Equal(t, float64(5), decoded["max_sites"])
		assert.Equal(t, false, decoded["api"])
		assert.Equal(t, "Pro", decoded["tier"])
	})

	t.Run("rejects structured values", func(t *testing.T) {
		var v FeatureValue
		assert.Error(t, json.Unmarshal([]byte(`{"nested":true}`), &v))
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &v))
	})

	t.Run("interface conversion", func(t *testing.T) {
		assert.Equal(t, true, BoolFeature(true).Interface())
		assert.Equal(t, float64(3), NumberFeature(3).Interface())
		assert.Equal(t, "x", StringFeature("x").Interface())
	})
}

func TestLicenseRecordExpired(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	t.Run("nil expiry never expires", func(t *testing.T) {
		r := &LicenseRecord{Status: LicenseStatusActive}
		assert.False(t, r.Expired(now))
	})

	t.Run("future expiry", func(t *testing.T) {
		expiry := now.Add(24 * time.Hour)
		r := &LicenseRecord{ExpiresAt: &expiry}
		assert.False(t, r.Expired(now))
	})

	t.Run("past expiry", func(t *testing.T) {
		expiry := now.Add(-time.Minute)
		r := &LicenseRecord{ExpiresAt: &expiry}
		assert.True(t, r.Expired(now))
	})
}

func TestActivationOptionsOmitsEmptyFields(t *testing.T) {
	encoded, err := json.Marshal(ActivationOptions{SiteName: "HQ"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"site_name":"HQ"}`, string(encoded))
}
