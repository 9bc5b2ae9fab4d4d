// Package config loads and validates the Keyline configuration from
// environment variables (prefix KEYLINE_) with an optional YAML file
// overlay. Environment wins over file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the environment variable prefix for all settings.
const EnvPrefix = "KEYLINE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains the local status API server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8090"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LicensingConfig contains the license service client configuration
type LicensingConfig struct {
	// APIBaseURL is the root of the remote licensing service, without
	// the /api/v1 suffix.
	APIBaseURL string `yaml:"api_base_url" envconfig:"API_BASE_URL" default:"https://licenses.keyline.dev" validate:"required,url"`

	// Domain is the activation scope identity for this installation.
	// When empty the manager falls back to the host-supplied resolver.
	Domain   string `yaml:"domain" envconfig:"DOMAIN" validate:"omitempty,max=255"`
	SiteName string `yaml:"site_name" envconfig:"SITE_NAME"`

	// ProductSlug and ProductVersion identify the artifact for update
	// checks and usage reports.
	ProductSlug    string `yaml:"product_slug" envconfig:"PRODUCT_SLUG" default:"keyline"`
	ProductVersion string `yaml:"product_version" envconfig:"PRODUCT_VERSION" default:"1.0.0"`

	// RequestTimeout bounds every remote call. There is exactly one
	// request per manager operation; no retries.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"15s"`

	// Validation cache TTLs. Both positive and negative outcomes are
	// cached so a failing license cannot hammer the metered validate
	// endpoint on every request.
	ValidTTL   time.Duration `yaml:"valid_ttl" envconfig:"VALID_TTL" default:"1h"`
	InvalidTTL time.Duration `yaml:"invalid_ttl" envconfig:"INVALID_TTL" default:"1h"`
	UpdateTTL  time.Duration `yaml:"update_ttl" envconfig:"UPDATE_TTL" default:"24h"`

	// UpdateInterval drives the scheduled update-check hook.
	UpdateInterval time.Duration `yaml:"update_interval" envconfig:"UPDATE_INTERVAL" default:"24h"`

	// StateFile is where durable license state is persisted. Empty
	// keeps state in memory only.
	StateFile string `yaml:"state_file" envconfig:"STATE_FILE" default:"license.dat"`

	// StatePassphrase, when set, encrypts the state file at rest with
	// AES-256-GCM using a PBKDF2-derived key.
	StatePassphrase string `yaml:"state_passphrase" envconfig:"STATE_PASSPHRASE"`

	// Activation attempt limiter.
	ActivationRPS   float64 `yaml:"activation_rps" envconfig:"ACTIVATION_RPS" default:"0.2"`
	ActivationBurst int     `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"3"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output    string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath  string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/keyline.log"`
	AddSource bool   `yaml:"add_source" envconfig:"ADD_SOURCE" default:"false"`
}

// Load loads configuration from environment variables and, when
// present, the config file at KEYLINE_CONFIG or ./keyline.yml.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = merge(*fileCfg, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays env values on top of file values. Env wins whenever
// it differs from the zero value.
func merge(file, env Config) Config {
	out := file

	if env.Server.Port != 0 {
		out.Server.Port = env.Server.Port
	}
	if env.Server.ReadTimeout != 0 {
		out.Server.ReadTimeout = env.Server.ReadTimeout
	}
	if env.Server.WriteTimeout != 0 {
		out.Server.WriteTimeout = env.Server.WriteTimeout
	}
	if env.Server.IdleTimeout != 0 {
		out.Server.IdleTimeout = env.Server.IdleTimeout
	}
	if env.Server.ShutdownTimeout != 0 {
		out.Server.ShutdownTimeout = env.Server.ShutdownTimeout
	}

	if env.Licensing.APIBaseURL != "" {
		out.Licensing.APIBaseURL = env.Licensing.APIBaseURL
	}
	if env.Licensing.Domain != "" {
		out.Licensing.Domain = env.Licensing.Domain
	}
	if env.Licensing.SiteName != "" {
		out.Licensing.SiteName = env.Licensing.SiteName
	}
	if env.Licensing.ProductSlug != "" {
		out.Licensing.ProductSlug = env.Licensing.ProductSlug
	}
	if env.Licensing.ProductVersion != "" {
		out.Licensing.ProductVersion = env.Licensing.ProductVersion
	}
	if env.Licensing.RequestTimeout != 0 {
		out.Licensing.RequestTimeout = env.Licensing.RequestTimeout
	}
	if env.Licensing.ValidTTL != 0 {
		out.Licensing.ValidTTL = env.Licensing.ValidTTL
	}
	if env.Licensing.InvalidTTL != 0 {
		out.Licensing.InvalidTTL = env.Licensing.InvalidTTL
	}
	if env.Licensing.UpdateTTL != 0 {
		out.Licensing.UpdateTTL = env.Licensing.UpdateTTL
	}
	if env.Licensing.UpdateInterval != 0 {
		out.Licensing.UpdateInterval = env.Licensing.UpdateInterval
	}
	if env.Licensing.StateFile != "" {
		out.Licensing.StateFile = env.Licensing.StateFile
	}
	if env.Licensing.StatePassphrase != "" {
		out.Licensing.StatePassphrase = env.Licensing.StatePassphrase
	}
	if env.Licensing.ActivationRPS != 0 {
		out.Licensing.ActivationRPS = env.Licensing.ActivationRPS
	}
	if env.Licensing.ActivationBurst != 0 {
		out.Licensing.ActivationBurst = env.Licensing.ActivationBurst
	}

	if env.Logging.Level != "" {
		out.Logging.Level = env.Logging.Level
	}
	if env.Logging.Output != "" {
		out.Logging.Output = env.Logging.Output
	}
	if env.Logging.FilePath != "" {
		out.Logging.FilePath = env.Logging.FilePath
	}
	if env.Logging.AddSource {
		out.Logging.AddSource = true
	}

	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	u, err := url.Parse(c.Licensing.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("licensing.api_base_url %q is not an absolute URL", c.Licensing.APIBaseURL)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Licensing.ValidTTL < 0 || c.Licensing.InvalidTTL < 0 || c.Licensing.UpdateTTL < 0 {
		return fmt.Errorf("cache TTLs must be non-negative")
	}

	return nil
}

// configFilePath resolves the optional YAML config location.
func configFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return "keyline.yml"
}
