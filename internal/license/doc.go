// Package license implements the client-side license lifecycle for
// Keyline: activation, validation, and deactivation against the remote
// licensing service, with a TTL-bounded validation cache and local
// entitlement lookups.
//
// # Architecture Overview
//
// The license system consists of several components:
//
//	- Manager: the license status state machine and single point of
//	  truth combining cache, durable store, and protocol client
//	- Protocol client (internal/client): one HTTP request per remote
//	  operation, typed failures
//	- State store (internal/store): durable key-value license record
//	- Validation cache (internal/store): TTL-bounded positive and
//	  negative memoization of validate outcomes
//
// # Validation Flow
//
// The validation process follows these steps:
//
//	1. Resolve the license key (parameter or stored record)
//	2. Consult the validation cache; a fresh entry short-circuits
//	   the remote call entirely
//	3. On miss, call the remote validate endpoint once
//	4. Success refreshes the durable record and caches "valid"
//	5. Failure caches "invalid" and forces durable status to inactive
//
// Both outcomes are cached: remote validation is metered
// infrastructure, and a failing license must not hammer the server on
// every request.
//
// # Consistency
//
// The durable store and the validation cache are updated atomically
// relative to each other: every successful activate or validate clears
// the stale cache entry before writing the new state, and deactivation
// always clears all durable fields and the cache entry even when the
// remote deactivate call fails. Local consistency takes priority over
// remote confirmation.
//
// # Error Handling
//
// Activate propagates every typed failure kind to its caller. Validate
// never propagates: all failure kinds collapse to a boolean false plus
// a negative cache write. Deactivate swallows remote failures and
// always completes its local cleanup. IsValid and GetFeature are pure
// reads over local state and cannot fail.
package license
