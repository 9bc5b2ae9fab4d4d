package license

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	apierrors "keyline/internal/errors"
	"keyline/internal/infrastructure"
	"keyline/internal/store"
	"keyline/pkg/contracts/domain"
)

// Validation cache values. The cache stores the outcome, not the
// record: the record lives in the durable state store.
const (
	cacheValueValid   = "valid"
	cacheValueInvalid = "invalid"
	// updateCacheNone marks a completed check that found no update.
	updateCacheNone = "none"
)

// Default cache TTLs, overridable via Options.
const (
	DefaultValidTTL   = time.Hour
	DefaultInvalidTTL = time.Hour
	DefaultUpdateTTL  = 24 * time.Hour
)

// RemoteClient is the protocol-client surface the manager depends on.
// internal/client.Client satisfies it; tests substitute fakes.
type RemoteClient interface {
	Activate(ctx context.Context, key, domainName string, opts domain.ActivationOptions) (*domain.LicenseRecord, error)
	Validate(ctx context.Context, key, domainName string) (*domain.LicenseRecord, error)
	Deactivate(ctx context.Context, key, domainName string) error
	FetchFeatures(ctx context.Context, key string) (domain.FeatureMap, error)
	CheckUpdate(ctx context.Context, key, domainName string, query domain.UpdateQuery) (*domain.UpdateInfo, error)
	ReportUsage(ctx context.Context, key, domainName string, report domain.UsageReport) (json.RawMessage, error)
}

// Options configures a Manager. Client, State, and Cache are required;
// everything else has sensible defaults.
type Options struct {
	Client RemoteClient
	State  store.StateStore
	Cache  store.CacheStore

	// Domain is the activation scope identity. DomainResolver, when
	// set, is consulted whenever Domain is empty (host integration
	// point for multi-site embeddings).
	Domain         string
	DomainResolver func() string

	SiteName         string
	SiteNameResolver func() string

	ProductSlug    string
	ProductVersion string

	ValidTTL   time.Duration
	InvalidTTL time.Duration
	UpdateTTL  time.Duration

	// Activation attempt limiter. Zero RPS disables the guard.
	ActivationRPS   float64
	ActivationBurst int

	Logger  *slog.Logger
	Metrics *Metrics
}

// Manager owns the license status state machine and is the single
// point of truth combining the validation cache, the durable store,
// and the protocol client. Each public operation issues at most one
// network call; concurrency is supplied by the embedding host.
type Manager struct {
	client RemoteClient
	state  store.StateStore
	cache  store.CacheStore

	domain           string
	domainResolver   func() string
	siteName         string
	siteNameResolver func() string

	productSlug    string
	productVersion string

	validTTL   time.Duration
	invalidTTL time.Duration
	updateTTL  time.Duration

	limiter *rate.Limiter
	group   singleflight.Group

	logger  *slog.Logger
	metrics *Metrics

	// mu serializes state+cache writes so the durable status and the
	// cache never disagree for longer than one manager call.
	mu sync.Mutex

	now func() time.Time
}

// NewManager creates a license manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("license: remote client is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("license: state store is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("license: cache store is required")
	}

	m := &Manager{
		client:           opts.Client,
		state:            opts.State,
		cache:            opts.Cache,
		domain:           opts.Domain,
		domainResolver:   opts.DomainResolver,
		siteName:         opts.SiteName,
		siteNameResolver: opts.SiteNameResolver,
		productSlug:      opts.ProductSlug,
		productVersion:   opts.ProductVersion,
		validTTL:         opts.ValidTTL,
		invalidTTL:       opts.InvalidTTL,
		updateTTL:        opts.UpdateTTL,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		now:              time.Now,
	}

	if m.validTTL == 0 {
		m.validTTL = DefaultValidTTL
	}
	if m.invalidTTL == 0 {
		m.invalidTTL = DefaultInvalidTTL
	}
	if m.updateTTL == 0 {
		m.updateTTL = DefaultUpdateTTL
	}
	if m.logger == nil {
		m.logger = infrastructure.GetLogger().With(slog.String("component", "license_manager"))
	}
	if opts.ActivationRPS > 0 {
		burst := opts.ActivationBurst
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(opts.ActivationRPS), burst)
	}

	return m, nil
}

// ValidateKeyFormat checks the shape of a license key: non-blank,
// bounded length, and two dot-separated base64url segments. The key is
// never decoded or verified client-side.
func ValidateKeyFormat(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("license key is required")
	}
	if len(key) > domain.MaxLicenseKeyLength {
		return fmt.Errorf("license key exceeds %d characters", domain.MaxLicenseKeyLength)
	}
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("license key must be two dot-separated segments")
	}
	for _, part := range parts {
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return fmt.Errorf("license key segments must be base64url encoded")
		}
	}
	return nil
}

// Activate binds the key to this installation's domain on the remote
// service. On success the full record is persisted with the status
// taken verbatim from the response and the validation cache is reset;
// an active record also seeds the positive cache so the next Validate
// is served locally. On failure the typed failure propagates and no
// local state is written.
func (m *Manager) Activate(ctx context.Context, key string, opts domain.ActivationOptions) (*domain.LicenseRecord, error) {
	if m.metrics != nil {
		m.metrics.ActivationAttempts.Add(ctx, 1)
	}

	if err := ValidateKeyFormat(key); err != nil {
		if m.metrics != nil {
			m.metrics.ActivationFailures.Add(ctx, 1)
		}
		return nil, apierrors.NewFailure(apierrors.KindValidation, "", err.Error(), 0, nil)
	}

	if m.limiter != nil && !m.limiter.Allow() {
		if m.metrics != nil {
			m.metrics.RateLimitHits.Add(ctx, 1)
		}
		m.logWarn(ctx, "activation_rate_limited", "Activation attempt refused by local rate limiter")
		return nil, apierrors.NewFailure(apierrors.KindRateLimited, "", "too many activation attempts", 0, nil)
	}

	domainName := m.resolveDomain()
	if opts.SiteName == "" {
		opts.SiteName = m.resolveSiteName()
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = m.productVersion
	}

	m.logLicenseAction(ctx, slog.LevelInfo, "activation_start", "Activating license", key,
		slog.String("domain", domainName),
	)

	record, err := m.client.Activate(ctx, key, domainName, opts)
	if err != nil {
		if m.metrics != nil {
			m.metrics.ActivationFailures.Add(ctx, 1)
		}
		m.logLicenseAction(ctx, slog.LevelWarn, "activation_failed", "License activation failed", key,
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scope := cacheScope(key, domainName)
	m.cache.Delete(validationCacheKey(scope))

	if err := m.saveRecord(record); err != nil {
		m.logError(ctx, "activation_persist", "Failed to persist activated license",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// Seed the positive cache only for a usable license; any other
	// status leaves the cache empty so the next Validate re-checks.
	if record.Status == domain.LicenseStatusActive && !record.Expired(m.now()) {
		m.cache.Set(validationCacheKey(scope), cacheValueValid, m.validTTL)
	}

	if m.metrics != nil {
		m.metrics.ActivationSuccess.Add(ctx, 1)
	}
	m.logLicenseAction(ctx, slog.LevelInfo, "activation_complete", "License activated", key,
		slog.String("status", string(record.Status)),
		slog.String("tier_code", record.TierCode),
	)

	return record, nil
}

// Validate checks the stored license. The outcome is a plain boolean:
// every remote failure kind collapses to false plus a negative cache
// write, and a fresh cache entry short-circuits the remote call.
func (m *Manager) Validate(ctx context.Context) bool {
	key, ok := m.storedKey()
	if !ok {
		m.logDebug(ctx, "validation_skipped", "No license key stored; nothing to validate")
		return false
	}
	return m.ValidateKey(ctx, key)
}

// ValidateKey checks a specific key against the validation cache and,
// on a miss, the remote service. Concurrent misses for the same key
// are collapsed into a single remote call.
func (m *Manager) ValidateKey(ctx context.Context, key string) bool {
	if m.metrics != nil {
		m.metrics.ValidationAttempts.Add(ctx, 1)
	}

	domainName := m.resolveDomain()
	scope := cacheScope(key, domainName)

	if value, ok := m.cache.Get(validationCacheKey(scope)); ok {
		if m.metrics != nil {
			m.metrics.ValidationCacheHits.Add(ctx, 1)
		}
		m.logDebug(ctx, "validation_cache_hit", "Validation served from cache",
			slog.String("cached_value", value),
		)
		return value == cacheValueValid
	}

	if m.metrics != nil {
		m.metrics.ValidationCacheMisses.Add(ctx, 1)
	}

	result, _, _ := m.group.Do(scope, func() (any, error) {
		return m.validateRemote(ctx, key, domainName, scope), nil
	})
	valid, _ := result.(bool)
	return valid
}

// validateRemote performs the remote validate call and reconciles the
// durable store and the cache with its outcome.
func (m *Manager) validateRemote(ctx context.Context, key, domainName, scope string) bool {
	record, err := m.client.Validate(ctx, key, domainName)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// Negative outcome: cache it and force the durable status to
		// inactive so pure-local reads agree with the cache.
		m.cache.Set(validationCacheKey(scope), cacheValueInvalid, m.invalidTTL)
		if serr := m.state.Set(store.KeyStatus, string(domain.LicenseStatusInactive)); serr != nil {
			m.logError(ctx, "validation_persist", "Failed to persist inactive status",
				slog.String("error", serr.Error()),
			)
		}
		if m.metrics != nil {
			m.metrics.ValidationFailures.Add(ctx, 1)
		}
		m.logLicenseAction(ctx, slog.LevelWarn, "validation_failed", "License validation failed", key,
			slog.String("error", err.Error()),
		)
		return false
	}

	m.cache.Delete(validationCacheKey(scope))
	if serr := m.saveRecord(record); serr != nil {
		m.logError(ctx, "validation_persist", "Failed to persist validated license",
			slog.String("error", serr.Error()),
		)
	}
	m.cache.Set(validationCacheKey(scope), cacheValueValid, m.validTTL)

	if m.metrics != nil {
		m.metrics.ValidationSuccess.Add(ctx, 1)
	}
	m.logLicenseAction(ctx, slog.LevelInfo, "validation_complete", "License validated", key,
		slog.String("status", string(record.Status)),
	)
	return true
}

// Deactivate releases the activation remotely (best effort) and always
// clears all durable fields and the validation cache entry, even when
// the remote call fails. Calling it with no stored key is a no-op.
func (m *Manager) Deactivate(ctx context.Context) error {
	key, ok := m.storedKey()
	if !ok {
		m.logDebug(ctx, "deactivation_skipped", "No license key stored; nothing to deactivate")
		return nil
	}

	domainName := m.resolveDomain()

	if err := m.client.Deactivate(ctx, key, domainName); err != nil {
		// Local cleanup proceeds regardless: local consistency takes
		// priority over remote confirmation.
		m.logLicenseAction(ctx, slog.LevelWarn, "deactivation_remote_failed", "Remote deactivate failed; clearing local state anyway", key,
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Delete(validationCacheKey(cacheScope(key, domainName)))

	var firstErr error
	for _, stateKey := range []string{store.KeyLicenseKey, store.KeyStatus, store.KeyExpiresAt, store.KeyTierCode, store.KeyFeatures} {
		if err := m.state.Delete(stateKey); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if m.metrics != nil {
		m.metrics.Deactivations.Add(ctx, 1)
	}
	m.logLicenseAction(ctx, slog.LevelInfo, "deactivation_complete", "License deactivated and local state cleared", key)

	return firstErr
}

// IsValid reports whether the stored license is usable. A durable
// status other than active short-circuits to false without consulting
// the cache or the network: a stale positive cache entry can never
// override an inactive, expired, revoked, or suspended durable status.
func (m *Manager) IsValid(ctx context.Context) bool {
	key, ok := m.storedKey()
	if !ok {
		return false
	}

	status, ok, err := m.state.Get(store.KeyStatus)
	if err != nil || !ok {
		return false
	}
	if domain.LicenseStatus(status) != domain.LicenseStatusActive {
		return false
	}

	return m.ValidateKey(ctx, key)
}

// Feature returns the entitlement value for name from the durable
// feature map. Pure local lookup; never performs I/O.
func (m *Manager) Feature(name string) (domain.FeatureValue, bool) {
	raw, ok, err := m.state.Get(store.KeyFeatures)
	if err != nil || !ok || raw == "" {
		return domain.FeatureValue{}, false
	}

	var features domain.FeatureMap
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		return domain.FeatureValue{}, false
	}

	value, ok := features[name]
	return value, ok
}

// GetFeature returns the entitlement value for name, or fallback when
// no license is stored or the feature is absent.
func (m *Manager) GetFeature(name string, fallback any) any {
	if value, ok := m.Feature(name); ok {
		return value.Interface()
	}
	return fallback
}

// Status returns a snapshot of the durable license state. It never
// touches the network so UI surfaces are never blocked on
// availability of the licensing service.
func (m *Manager) Status(ctx context.Context) domain.LicenseStatusSnapshot {
	snapshot := domain.LicenseStatusSnapshot{
		Status:    domain.LicenseStatusInactive,
		CheckedAt: m.now(),
	}

	record, ok := m.loadRecord()
	if !ok {
		return snapshot
	}

	snapshot.Activated = true
	snapshot.Status = record.Status
	snapshot.ExpiresAt = record.ExpiresAt
	snapshot.TierCode = record.TierCode
	snapshot.Features = record.Features
	return snapshot
}

// CheckForUpdates asks the remote service whether a newer version of
// the configured product exists, memoizing the answer with the update
// TTL. A nil result with nil error means "up to date".
func (m *Manager) CheckForUpdates(ctx context.Context) (*domain.UpdateInfo, error) {
	key, ok := m.storedKey()
	if !ok {
		return nil, apierrors.ErrLicenseNotActivated
	}

	cacheKey := updateCacheKey(m.productSlug, m.productVersion)
	if value, ok := m.cache.Get(cacheKey); ok {
		if value == updateCacheNone {
			return nil, nil
		}
		var info domain.UpdateInfo
		if err := json.Unmarshal([]byte(value), &info); err == nil {
			return &info, nil
		}
		// Unreadable cached payload: fall through to a fresh check.
		m.cache.Delete(cacheKey)
	}

	if m.metrics != nil {
		m.metrics.UpdateChecks.Add(ctx, 1)
	}

	info, err := m.client.CheckUpdate(ctx, key, m.resolveDomain(), domain.UpdateQuery{
		Slug:           m.productSlug,
		CurrentVersion: m.productVersion,
	})
	if err != nil {
		m.logWarn(ctx, "update_check_failed", "Update check failed",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if info == nil {
		m.cache.Set(cacheKey, updateCacheNone, m.updateTTL)
		return nil, nil
	}

	if encoded, err := json.Marshal(info); err == nil {
		m.cache.Set(cacheKey, string(encoded), m.updateTTL)
	}

	m.logInfo(ctx, "update_available", "Newer version available",
		slog.String("current_version", m.productVersion),
		slog.String("latest_version", info.Version),
	)
	return info, nil
}

// ReportUsage submits period metrics for the stored license. Failures
// are advisory: the error is returned for callers that care but local
// state is never touched.
func (m *Manager) ReportUsage(ctx context.Context, report domain.UsageReport) error {
	key, ok := m.storedKey()
	if !ok {
		return apierrors.ErrLicenseNotActivated
	}

	if _, err := m.client.ReportUsage(ctx, key, m.resolveDomain(), report); err != nil {
		m.logWarn(ctx, "usage_report_failed", "Usage report failed",
			slog.String("period", report.Period),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// InvalidateCache drops the validation cache entry for the stored
// license, forcing the next Validate to hit the remote service.
func (m *Manager) InvalidateCache(ctx context.Context) {
	key, ok := m.storedKey()
	if !ok {
		return
	}
	m.cache.Delete(validationCacheKey(cacheScope(key, m.resolveDomain())))
	m.logInfo(ctx, "cache_invalidated", "Validation cache entry dropped")
}

// storedKey returns the durable license key, if any.
func (m *Manager) storedKey() (string, bool) {
	key, ok, err := m.state.Get(store.KeyLicenseKey)
	if err != nil || !ok || key == "" {
		return "", false
	}
	return key, true
}

// resolveDomain returns the configured domain, consulting the host
// resolver when none is configured statically.
func (m *Manager) resolveDomain() string {
	if m.domain != "" {
		return m.domain
	}
	if m.domainResolver != nil {
		return m.domainResolver()
	}
	return ""
}

func (m *Manager) resolveSiteName() string {
	if m.siteName != "" {
		return m.siteName
	}
	if m.siteNameResolver != nil {
		return m.siteNameResolver()
	}
	return ""
}

// saveRecord writes all five durable fields. Caller holds m.mu.
func (m *Manager) saveRecord(record *domain.LicenseRecord) error {
	expiresAt := ""
	if record.ExpiresAt != nil {
		expiresAt = record.ExpiresAt.Format(time.RFC3339)
	}

	features := ""
	if len(record.Features) > 0 {
		encoded, err := json.Marshal(record.Features)
		if err != nil {
			return fmt.Errorf("failed to encode features: %w", err)
		}
		features = string(encoded)
	}

	if err := m.state.Set(store.KeyLicenseKey, record.LicenseKey); err != nil {
		return err
	}
	if err := m.state.Set(store.KeyStatus, string(record.Status)); err != nil {
		return err
	}
	if err := m.state.Set(store.KeyExpiresAt, expiresAt); err != nil {
		return err
	}
	if err := m.state.Set(store.KeyTierCode, record.TierCode); err != nil {
		return err
	}
	return m.state.Set(store.KeyFeatures, features)
}

// loadRecord reconstructs the durable record from the state store.
func (m *Manager) loadRecord() (*domain.LicenseRecord, bool) {
	key, ok, err := m.state.Get(store.KeyLicenseKey)
	if err != nil || !ok || key == "" {
		return nil, false
	}

	record := &domain.LicenseRecord{
		LicenseKey: key,
		Status:     domain.LicenseStatusInactive,
	}

	if status, ok, err := m.state.Get(store.KeyStatus); err == nil && ok {
		record.Status = domain.ParseLicenseStatus(status)
	}
	if expiresAt, ok, err := m.state.Get(store.KeyExpiresAt); err == nil && ok && expiresAt != "" {
		if t, perr := time.Parse(time.RFC3339, expiresAt); perr == nil {
			record.ExpiresAt = &t
		}
	}
	if tierCode, ok, err := m.state.Get(store.KeyTierCode); err == nil && ok {
		record.TierCode = tierCode
	}
	if features, ok, err := m.state.Get(store.KeyFeatures); err == nil && ok && features != "" {
		var parsed domain.FeatureMap
		if perr := json.Unmarshal([]byte(features), &parsed); perr == nil {
			record.Features = parsed
		}
	}

	return record, true
}

// SetClock overrides the manager clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func validationCacheKey(scope string) string {
	return "license:validation:" + scope
}

func updateCacheKey(slug, version string) string {
	return "updates:check:" + slug + ":" + version
}
