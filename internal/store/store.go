// Package store provides the durable key-value facade for license
// state and the TTL-bounded cache guarding remote validation calls.
// Storage engines are pluggable: the manager only depends on the two
// interfaces defined here.
package store

import "time"

// State keys written and cleared together by the license manager.
const (
	KeyLicenseKey = "license_key"
	KeyStatus     = "license_status"
	KeyExpiresAt  = "license_expires_at"
	KeyTierCode   = "license_tier_code"
	KeyFeatures   = "license_features"
)

// StateStore is a plain get/set/delete key-value store with no TTL,
// used for the durable license record.
type StateStore interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set writes the value for key.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// CacheStore is a get/set/delete key-value store with TTL support,
// used for validation and update-check memoization. An expired entry
// behaves identically to a missing one.
type CacheStore interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string)
}
