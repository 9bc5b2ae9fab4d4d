// Package client implements the protocol client for the remote
// licensing service: it builds requests for each remote operation,
// parses the JSON envelopes, and raises typed failures.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "keyline/internal/errors"
	"keyline/internal/infrastructure"
	"keyline/pkg/contracts/domain"
)

const (
	apiPrefix        = "/api/v1"
	defaultUserAgent = "Keyline-License-Client/1.0"
	defaultTimeout   = 15 * time.Second
)

// Client talks to the remote licensing service. Every operation issues
// exactly one request and blocks until it returns or times out; there
// is no retry loop.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	tracer     trace.Tracer

	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a protocol client for the licensing service rooted at
// baseURL (without the /api/v1 suffix).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     infrastructure.GetLogger().With(slog.String("component", "license_client")),
		userAgent:  defaultUserAgent,
		tracer:     otel.Tracer("keyline/client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter("keyline/client")
	c.requests, _ = meter.Int64Counter("license_client_requests_total",
		metric.WithDescription("Total remote licensing requests by operation and outcome"))
	c.requestDuration, _ = meter.Float64Histogram("license_client_request_duration_seconds",
		metric.WithDescription("Remote licensing request duration in seconds"),
		metric.WithUnit("s"))

	return c
}

// envelope is the JSON wrapper every licensing response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Update  json.RawMessage `json:"update,omitempty"`
	Error   *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// licensePayload is the wire shape of a license record inside the
// success envelope.
type licensePayload struct {
	Status    string            `json:"status"`
	ExpiresAt string            `json:"expires_at,omitempty"`
	TierCode  string            `json:"tier_code,omitempty"`
	Features  domain.FeatureMap `json:"features,omitempty"`
}

// activateRequest is the activation payload. Optional fields are
// omitted entirely when absent; null placeholders are never sent.
type activateRequest struct {
	LicenseKey    string `json:"license_key"`
	Domain        string `json:"domain"`
	SiteName      string `json:"site_name,omitempty"`
	OS            string `json:"os,omitempty"`
	Region        string `json:"region,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	DeviceHash    string `json:"device_hash,omitempty"`
}

type validateRequest struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
}

type updateCheckRequest struct {
	LicenseKey     string `json:"license_key"`
	Domain         string `json:"domain"`
	Slug           string `json:"slug"`
	CurrentVersion string `json:"current_version"`
}

// Activate binds the license key to the given domain on the remote
// service and returns the resulting record.
func (c *Client) Activate(ctx context.Context, key, domainName string, opts domain.ActivationOptions) (*domain.LicenseRecord, error) {
	req := activateRequest{
		LicenseKey:    key,
		Domain:        domainName,
		SiteName:      opts.SiteName,
		OS:            opts.OS,
		Region:        opts.Region,
		ClientVersion: opts.ClientVersion,
		DeviceHash:    opts.DeviceHash,
	}

	env, status, raw, err := c.do(ctx, "activate", http.MethodPost, "/licenses/activate", req)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, classifiedFailure(env, status, raw)
	}

	return parseRecord(key, env.Data, raw)
}

// Validate checks the license key against the remote service and
// returns the refreshed record.
func (c *Client) Validate(ctx context.Context, key, domainName string) (*domain.LicenseRecord, error) {
	req := validateRequest{LicenseKey: key, Domain: domainName}

	env, status, raw, err := c.do(ctx, "validate", http.MethodPost, "/licenses/validate", req)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, classifiedFailure(env, status, raw)
	}

	return parseRecord(key, env.Data, raw)
}

// Deactivate releases the activation for the given domain. Failures
// are not classified beyond the generic API kind; callers are expected
// to treat the call as best-effort.
func (c *Client) Deactivate(ctx context.Context, key, domainName string) error {
	req := validateRequest{LicenseKey: key, Domain: domainName}

	env, status, raw, err := c.do(ctx, "deactivate", http.MethodPost, "/licenses/deactivate", req)
	if err != nil {
		return err
	}
	if !env.Success {
		code, message := envelopeErrorParts(env)
		return apierrors.NewFailure(apierrors.KindAPI, code, message, status, raw)
	}
	return nil
}

// GetLicense fetches the current remote record for a key.
func (c *Client) GetLicense(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	env, status, raw, err := c.do(ctx, "get_license", http.MethodGet, "/licenses/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, classifiedFailure(env, status, raw)
	}
	return parseRecord(key, env.Data, raw)
}

// FetchFeatures returns the entitlement map for a key. An unknown key
// fails with the license-not-found kind; other failures are generic.
func (c *Client) FetchFeatures(ctx context.Context, key string) (domain.FeatureMap, error) {
	env, status, raw, err := c.do(ctx, "fetch_features", http.MethodGet, "/licenses/"+url.PathEscape(key)+"/features", nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		code, message := envelopeErrorParts(env)
		if code == apierrors.CodeLicenseNotFound || status == http.StatusNotFound {
			return nil, apierrors.NewFailure(apierrors.KindLicenseNotFound, code, message, status, raw)
		}
		return nil, apierrors.NewFailure(apierrors.KindAPI, code, message, status, raw)
	}

	var features domain.FeatureMap
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &features); err != nil {
			return nil, apierrors.NetworkFailure(fmt.Errorf("invalid features payload: %w", err), raw)
		}
	}
	return features, nil
}

// CheckUpdate asks the service whether a newer version exists for the
// slug/version pair. A successful envelope with a null update payload
// is not an error: it returns (nil, nil), meaning "up to date".
func (c *Client) CheckUpdate(ctx context.Context, key, domainName string, query domain.UpdateQuery) (*domain.UpdateInfo, error) {
	req := updateCheckRequest{
		LicenseKey:     key,
		Domain:         domainName,
		Slug:           query.Slug,
		CurrentVersion: query.CurrentVersion,
	}

	env, status, raw, err := c.do(ctx, "check_update", http.MethodPost, "/updates/check", req)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, classifiedFailure(env, status, raw)
	}

	if len(env.Update) == 0 || string(env.Update) == "null" {
		return nil, nil
	}

	var info domain.UpdateInfo
	if err := json.Unmarshal(env.Update, &info); err != nil {
		return nil, apierrors.NetworkFailure(fmt.Errorf("invalid update payload: %w", err), raw)
	}
	return &info, nil
}

// ReportUsage submits period metrics. No error classification is
// performed; the raw envelope is returned for callers that care.
func (c *Client) ReportUsage(ctx context.Context, key, domainName string, report domain.UsageReport) (json.RawMessage, error) {
	body := map[string]any{
		"license_key": key,
		"domain":      domainName,
		"period":      report.Period,
	}
	for name, value := range report.Metrics {
		body[name] = value
	}

	env, status, raw, err := c.do(ctx, "report_usage", http.MethodPost, "/licenses/usage", body)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		code, message := envelopeErrorParts(env)
		return raw, apierrors.NewFailure(apierrors.KindAPI, code, message, status, raw)
	}
	return raw, nil
}

// do performs one HTTP round trip and decodes the JSON envelope.
// Transport failures and non-JSON bodies surface as network-kind
// failures carrying the raw body for diagnostics.
func (c *Client) do(ctx context.Context, operation, method, path string, body any) (*envelope, int, []byte, error) {
	ctx, span := c.tracer.Start(ctx, "license."+operation,
		trace.WithAttributes(attribute.String("license.operation", operation)))
	defer span.End()

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, 0, nil, fmt.Errorf("failed to prepare request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.record(ctx, operation, "network_error", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.LogAttrs(ctx, slog.LevelError, "License request failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return nil, 0, nil, apierrors.NetworkFailure(err, nil)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(ctx, operation, "network_error", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, resp.StatusCode, nil, apierrors.NetworkFailure(fmt.Errorf("failed to read response: %w", err), nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.record(ctx, operation, "malformed_body", duration)
		span.SetStatus(codes.Error, "malformed response body")
		c.logger.LogAttrs(ctx, slog.LevelError, "License response body is not valid JSON",
			slog.String("operation", operation),
			slog.Int("status_code", resp.StatusCode),
			slog.Int("body_bytes", len(raw)),
		)
		return nil, resp.StatusCode, raw, apierrors.NetworkFailure(fmt.Errorf("malformed response body: %w", err), raw)
	}

	outcome := "success"
	if !env.Success {
		outcome = "api_error"
	}
	c.record(ctx, operation, outcome, duration)
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Bool("license.success", env.Success),
	)
	span.SetStatus(codes.Ok, "")

	c.logger.LogAttrs(ctx, slog.LevelDebug, "License request completed",
		slog.String("operation", operation),
		slog.Int("status_code", resp.StatusCode),
		slog.Bool("success", env.Success),
		slog.Duration("duration", duration),
	)

	return &env, resp.StatusCode, raw, nil
}

func (c *Client) record(ctx context.Context, operation, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	if c.requests != nil {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.requestDuration != nil {
		c.requestDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// classifiedFailure maps an error envelope onto its failure kind using
// the server code first and the HTTP status as fallback.
func classifiedFailure(env *envelope, status int, raw []byte) *apierrors.Failure {
	code, message := envelopeErrorParts(env)
	return apierrors.ClassifiedFailure(code, message, status, raw)
}

func envelopeErrorParts(env *envelope) (code, message string) {
	if env.Error != nil {
		code = env.Error.Code
		message = env.Error.Message
	}
	if message == "" {
		message = "license server reported an error"
	}
	return code, message
}

// parseRecord decodes a license payload into a LicenseRecord. A
// missing or blank expiry means "no known expiry", not an error.
func parseRecord(key string, data json.RawMessage, raw []byte) (*domain.LicenseRecord, error) {
	if len(data) == 0 {
		return nil, apierrors.NetworkFailure(fmt.Errorf("success envelope missing data payload"), raw)
	}

	var payload licensePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apierrors.NetworkFailure(fmt.Errorf("invalid license payload: %w", err), raw)
	}

	record := &domain.LicenseRecord{
		LicenseKey: key,
		Status:     domain.ParseLicenseStatus(payload.Status),
		TierCode:   payload.TierCode,
		Features:   payload.Features,
	}

	if strings.TrimSpace(payload.ExpiresAt) != "" {
		if t, err := time.Parse(time.RFC3339, payload.ExpiresAt); err == nil {
			record.ExpiresAt = &t
		} else if t, err := time.Parse("2006-01-02", payload.ExpiresAt); err == nil {
			record.ExpiresAt = &t
		}
	}

	return record, nil
}
