// Package domain contains the core domain models for Keyline.
// These types serve as the Single Source of Truth (SSOT) for all layers:
// the protocol client, the license manager, the state store, and the
// local HTTP transport all exchange these shapes.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Limits imposed on caller-supplied identity fields. Keys are opaque
// "payload.signature" strings and are never parsed client-side.
const (
	MaxLicenseKeyLength = 1000
	MaxDomainLength     = 255
)

// LicenseStatus represents the lifecycle status of a license.
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusInactive  LicenseStatus = "inactive"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusRevoked   LicenseStatus = "revoked"
	LicenseStatusSuspended LicenseStatus = "suspended"
)

// ParseLicenseStatus normalizes a wire status string. Unknown values map
// to inactive so a misbehaving server can never grant access by accident.
func ParseLicenseStatus(s string) LicenseStatus {
	switch LicenseStatus(strings.ToLower(strings.TrimSpace(s))) {
	case LicenseStatusActive:
		return LicenseStatusActive
	case LicenseStatusExpired:
		return LicenseStatusExpired
	case LicenseStatusRevoked:
		return LicenseStatusRevoked
	case LicenseStatusSuspended:
		return LicenseStatusSuspended
	default:
		return LicenseStatusInactive
	}
}

// FeatureKind discriminates the value held by a FeatureValue.
type FeatureKind int

const (
	FeatureKindBool FeatureKind = iota
	FeatureKindNumber
	FeatureKindString
)

// FeatureValue is a tagged union over the value types a license feature
// may carry on the wire: boolean, number, or string. It preserves the
// source polymorphism of the feature map without giving up type safety.
type FeatureValue struct {
	Kind   FeatureKind
	Bool   bool
	Number float64
	Str    string
}

// BoolFeature builds a boolean feature value.
func BoolFeature(v bool) FeatureValue { return FeatureValue{Kind: FeatureKindBool, Bool: v} }

// NumberFeature builds a numeric feature value.
func NumberFeature(v float64) FeatureValue { return FeatureValue{Kind: FeatureKindNumber, Number: v} }

// StringFeature builds a string feature value.
func StringFeature(v string) FeatureValue { return FeatureValue{Kind: FeatureKindString, Str: v} }

// MarshalJSON emits the underlying scalar, not the union wrapper.
func (f FeatureValue) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FeatureKindBool:
		return json.Marshal(f.Bool)
	case FeatureKindNumber:
		return json.Marshal(f.Number)
	case FeatureKindString:
		return json.Marshal(f.Str)
	default:
		return nil, fmt.Errorf("unknown feature kind %d", f.Kind)
	}
}

// UnmarshalJSON accepts a boolean, number, or string scalar.
func (f *FeatureValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = BoolFeature(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = NumberFeature(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = StringFeature(s)
		return nil
	}
	return fmt.Errorf("feature value must be a boolean, number, or string: %s", string(data))
}

// Interface returns the underlying scalar as an any, for callers that
// compare against untyped defaults.
func (f FeatureValue) Interface() any {
	switch f.Kind {
	case FeatureKindBool:
		return f.Bool
	case FeatureKindNumber:
		return f.Number
	default:
		return f.Str
	}
}

// String implements fmt.Stringer for logging.
func (f FeatureValue) String() string {
	switch f.Kind {
	case FeatureKindBool:
		return fmt.Sprintf("%t", f.Bool)
	case FeatureKindNumber:
		return fmt.Sprintf("%g", f.Number)
	default:
		return f.Str
	}
}

// FeatureMap maps feature names to their entitlement values.
type FeatureMap map[string]FeatureValue

// LicenseRecord represents the locally persisted license state produced
// by a successful activate or validate call. ExpiresAt may be nil: an
// active license with no known expiry is valid, not an error.
type LicenseRecord struct {
	LicenseKey string        `json:"license_key" validate:"required,max=1000"`
	Status     LicenseStatus `json:"status" validate:"required"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	TierCode   string        `json:"tier_code,omitempty"`
	Features   FeatureMap    `json:"features,omitempty"`
}

// Expired reports whether the record carries an expiry in the past.
// A missing expiry is treated as "no known expiry".
func (r *LicenseRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// ActivationOptions carries the optional metadata an activation may
// attach. Absent fields are omitted from the request body entirely;
// null placeholders are never sent.
type ActivationOptions struct {
	SiteName      string `json:"site_name,omitempty"`
	OS            string `json:"os,omitempty"`
	Region        string `json:"region,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	DeviceHash    string `json:"device_hash,omitempty"`
}

// UpdateQuery identifies the installed artifact a version check is for.
type UpdateQuery struct {
	Slug           string `json:"slug" validate:"required"`
	CurrentVersion string `json:"current_version" validate:"required"`
}

// UpdateInfo describes an available upgrade for a slug/version pair.
// A nil UpdateInfo from a successful check means "up to date".
type UpdateInfo struct {
	Version           string `json:"version"`
	DownloadURL       string `json:"download_url"`
	Changelog         string `json:"changelog,omitempty"`
	MinHostVersion    string `json:"min_host_version,omitempty"`
	TestedHostVersion string `json:"tested_host_version,omitempty"`
}

// UsageReport aggregates the metrics a host may report for a period.
// Failures reporting usage are advisory and may be ignored by callers.
type UsageReport struct {
	Period  string             `json:"period" validate:"required"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// LicenseActivationRequest is the payload accepted by the local
// activation endpoint.
type LicenseActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=1000"`
	Domain     string `json:"domain,omitempty" validate:"omitempty,max=255"`
	SiteName   string `json:"site_name,omitempty"`
}

// LicenseStatusSnapshot is the durable state surfaced to callers. It is
// always served from local state so the UI is never blocked on network
// availability.
type LicenseStatusSnapshot struct {
	Activated bool          `json:"activated"`
	Status    LicenseStatus `json:"status"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	TierCode  string        `json:"tier_code,omitempty"`
	Features  FeatureMap    `json:"features,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}
