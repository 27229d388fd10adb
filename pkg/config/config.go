// Package config provides configuration structures and loading logic for the gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/komikgate/komikgate/pkg/domain"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Image     ImageConfig     `yaml:"image"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	AdminAddress   string `yaml:"admin_address"`
	GatewayAddress string `yaml:"gateway_address"`
}

// UpstreamConfig describes the single comic-catalog API being proxied.
type UpstreamConfig struct {
	// BaseURL is the fixed prefix outbound paths are appended to,
	// e.g. "https://komikstation.org/comic/".
	BaseURL string `yaml:"base_url"`
	// PathPrefix is the mandatory prefix of the client-supplied rest path.
	PathPrefix string `yaml:"path_prefix"`
	// RequestTimeout bounds a complete content-endpoint exchange.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// GatewayConfig holds limits for the content endpoint.
type GatewayConfig struct {
	// MaxJSONBytes caps how much of an upstream JSON body is buffered for
	// rewriting. Larger bodies fail with 502 instead of being parsed.
	MaxJSONBytes int64 `yaml:"max_json_bytes"`
}

// ImageConfig holds limits and policy for the image endpoint.
type ImageConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
	// AllowedHosts restricts image fetches to these exact hostnames.
	// Empty means unrestricted.
	AllowedHosts []string `yaml:"allowed_hosts"`
	// PlaceholderURL is where image-expecting clients are redirected on error.
	PlaceholderURL string `yaml:"placeholder_url"`
	// CacheMaxAge is emitted as Cache-Control: public, max-age=<seconds>.
	CacheMaxAge int `yaml:"cache_max_age"`
	// FetchTimeout bounds the whole image fetch including streaming.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// IdleTimeout is the maximum time between bytes while streaming.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RateLimitConfig holds the sliding-window limiter settings shared by both endpoints.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	// SweepInterval controls how often stale identifier windows are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file or overrides
// are supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AdminAddress:   ":19090",
			GatewayAddress: ":8090",
		},
		Upstream: UpstreamConfig{
			BaseURL:        "https://komikstation.org/comic/",
			PathPrefix:     "komikstation/",
			RequestTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			MaxJSONBytes: 2 << 20, // 2 MiB
		},
		Image: ImageConfig{
			MaxBytes:       10 << 20, // 10 MiB
			PlaceholderURL: "https://placehold.co/400x600?text=Image+Unavailable",
			CacheMaxAge:    86400,
			FetchTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Limit:         60,
			Window:        60 * time.Second,
			SweepInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEWAY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("GATEWAY_LISTEN_ADDR"); val != "" {
		cfg.Server.GatewayAddress = val
	}

	if val := os.Getenv("UPSTREAM_BASE_URL"); val != "" {
		cfg.Upstream.BaseURL = val
	}

	if val, ok := envInt64("MAX_JSON_SIZE_BYTES"); ok {
		cfg.Gateway.MaxJSONBytes = val
	}
	if val, ok := envInt64("IMAGE_MAX_BYTES"); ok {
		cfg.Image.MaxBytes = val
	}
	if val := os.Getenv("ALLOWED_IMAGE_HOSTS"); val != "" {
		cfg.Image.AllowedHosts = splitHosts(val)
	}
	if val := os.Getenv("IMAGE_PLACEHOLDER_URL"); val != "" {
		cfg.Image.PlaceholderURL = val
	}

	if val, ok := envInt64("RATE_LIMIT"); ok {
		cfg.RateLimit.Limit = int(val)
	}
	if val, ok := envInt64("RATE_WINDOW_MS"); ok {
		cfg.RateLimit.Window = time.Duration(val) * time.Millisecond
	}

	if val := os.Getenv("GATEWAY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GATEWAY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	base, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return fmt.Errorf("%w: upstream.base_url %q is not an absolute URL", domain.ErrConfigInvalid, c.Upstream.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return fmt.Errorf("%w: upstream.base_url scheme must be http or https, got %q", domain.ErrConfigInvalid, base.Scheme)
	}
	if c.Upstream.PathPrefix == "" {
		return fmt.Errorf("%w: upstream.path_prefix must not be empty", domain.ErrConfigInvalid)
	}
	if c.Gateway.MaxJSONBytes <= 0 {
		return fmt.Errorf("%w: gateway.max_json_bytes must be positive", domain.ErrConfigInvalid)
	}
	if c.Image.MaxBytes <= 0 {
		return fmt.Errorf("%w: image.max_bytes must be positive", domain.ErrConfigInvalid)
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("%w: rate_limit.limit must be positive", domain.ErrConfigInvalid)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: rate_limit.window must be positive", domain.ErrConfigInvalid)
	}
	return nil
}

// UpstreamOrigin returns the scheme://host part of the upstream base URL.
// Relative image paths found in responses are resolved against it.
func (c *Config) UpstreamOrigin() string {
	base, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return ""
	}
	return base.Scheme + "://" + base.Host
}

func envInt64(key string) (int64, bool) {
	val := os.Getenv(key)
	if val == "" {
		return 0, false
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func splitHosts(raw string) []string {
	var hosts []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	return hosts
}
