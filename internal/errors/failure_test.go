package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		code       string
		httpStatus int
		want       Kind
	}{
		{"expired code wins regardless of status", CodeLicenseExpired, http.StatusOK, KindLicenseExpired},
		{"expired code with 403", CodeLicenseExpired, http.StatusForbidden, KindLicenseExpired},
		{"activation limit with 409", CodeActivationLimitExceeded, http.StatusConflict, KindActivationLimit},
		{"activation limit with 500", CodeActivationLimitExceeded, http.StatusInternalServerError, KindActivationLimit},
		{"not found with 404", CodeLicenseNotFound, http.StatusNotFound, KindLicenseNotFound},
		{"not found with 200", CodeLicenseNotFound, http.StatusOK, KindLicenseNotFound},
		{"unknown code with 400", "SOMETHING_ELSE", http.StatusBadRequest, KindValidation},
		{"unknown code with 500", "SOMETHING_ELSE", http.StatusInternalServerError, KindAPI},
		{"empty code with 400", "", http.StatusBadRequest, KindValidation},
		{"empty code with 502", "", http.StatusBadGateway, KindAPI},
		{"case sensitive match", "license_expired", http.StatusForbidden, KindAPI},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.code, tc.httpStatus))
		})
	}
}

func TestFailureUnwrap(t *testing.T) {
	testCases := []struct {
		kind     Kind
		sentinel error
	}{
		{KindLicenseExpired, ErrLicenseExpired},
		{KindActivationLimit, ErrActivationLimitExceeded},
		{KindLicenseNotFound, ErrLicenseNotFound},
		{KindValidation, ErrValidationRejected},
		{KindNetwork, ErrNetwork},
		{KindRateLimited, ErrRateLimited},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			f := NewFailure(tc.kind, "", "boom", 500, nil)
			assert.ErrorIs(t, f, tc.sentinel)
		})
	}

	t.Run("api kind has no sentinel", func(t *testing.T) {
		f := NewFailure(KindAPI, "X", "boom", 500, nil)
		assert.NotErrorIs(t, f, ErrLicenseExpired)
		assert.NotErrorIs(t, f, ErrNetwork)
	})

	t.Run("wrapped failure survives fmt.Errorf", func(t *testing.T) {
		f := ClassifiedFailure(CodeLicenseExpired, "license expired", 403, nil)
		wrapped := fmt.Errorf("activation failed: %w", f)

		assert.ErrorIs(t, wrapped, ErrLicenseExpired)

		extracted, ok := AsFailure(wrapped)
		require.True(t, ok)
		assert.Equal(t, KindLicenseExpired, extracted.Kind)
	})
}

func TestNetworkFailure(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	f := NetworkFailure(cause, []byte("<html>bad gateway</html>"))

	assert.Equal(t, KindNetwork, f.Kind)
	assert.ErrorIs(t, f, ErrNetwork)
	assert.Contains(t, f.Error(), "connection refused")
	assert.Equal(t, []byte("<html>bad gateway</html>"), f.Raw)
}

func TestFailureError(t *testing.T) {
	withCode := ClassifiedFailure(CodeLicenseNotFound, "no such license", 404, nil)
	assert.Contains(t, withCode.Error(), CodeLicenseNotFound)
	assert.Contains(t, withCode.Error(), "no such license")

	withoutCode := NewFailure(KindNetwork, "", "timeout", 0, nil)
	assert.Contains(t, withoutCode.Error(), "timeout")
}

func TestAsFailure(t *testing.T) {
	_, ok := AsFailure(errors.New("plain error"))
	assert.False(t, ok)

	f, ok := AsFailure(NewFailure(KindAPI, "E", "m", 500, nil))
	require.True(t, ok)
	assert.Equal(t, "E", f.Code)
}
