package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/komikgate/komikgate/pkg/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8090", cfg.Server.GatewayAddress)
	assert.Equal(t, "https://komikstation.org/comic/", cfg.Upstream.BaseURL)
	assert.Equal(t, "komikstation/", cfg.Upstream.PathPrefix)
	assert.Equal(t, int64(2<<20), cfg.Gateway.MaxJSONBytes)
	assert.Equal(t, int64(10<<20), cfg.Image.MaxBytes)
	assert.Equal(t, 60, cfg.RateLimit.Limit)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	data := `
server:
  gateway_address: ":9000"
upstream:
  base_url: "https://catalog.example.com/api/"
  path_prefix: "catalog/"
rate_limit:
  limit: 5
  window: 10s
image:
  allowed_hosts:
    - cdn.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.GatewayAddress)
	assert.Equal(t, "https://catalog.example.com/api/", cfg.Upstream.BaseURL)
	assert.Equal(t, "catalog/", cfg.Upstream.PathPrefix)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"cdn.example.com"}, cfg.Image.AllowedHosts)

	// Unspecified fields keep their defaults.
	assert.Equal(t, int64(10<<20), cfg.Image.MaxBytes)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "https://mirror.example.com/comic/")
	t.Setenv("RATE_LIMIT", "7")
	t.Setenv("RATE_WINDOW_MS", "5000")
	t.Setenv("ALLOWED_IMAGE_HOSTS", "a.example.com, b.example.com ,")
	t.Setenv("MAX_JSON_SIZE_BYTES", "1024")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://mirror.example.com/comic/", cfg.Upstream.BaseURL)
	assert.Equal(t, 7, cfg.RateLimit.Limit)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.Image.AllowedHosts)
	assert.Equal(t, int64(1024), cfg.Gateway.MaxJSONBytes)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.Upstream.BaseURL = "/comic/" }},
		{"non-http scheme", func(c *Config) { c.Upstream.BaseURL = "ftp://example.com/" }},
		{"empty path prefix", func(c *Config) { c.Upstream.PathPrefix = "" }},
		{"zero json cap", func(c *Config) { c.Gateway.MaxJSONBytes = 0 }},
		{"zero image cap", func(c *Config) { c.Image.MaxBytes = 0 }},
		{"zero rate limit", func(c *Config) { c.RateLimit.Limit = 0 }},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrConfigInvalid)
		})
	}
}

func TestUpstreamOrigin(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "https://komikstation.org", cfg.UpstreamOrigin())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 3\n"), 0o600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 9\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.RateLimit.Limit)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked")
	}
}

func TestWatcherKeepsPreviousConfigOnInvalidWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 3\n"), 0o600))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, nil, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Broken config: the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte("rate_limit: ["), 0o600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("callback invoked for invalid config: %+v", cfg)
	case <-time.After(700 * time.Millisecond):
	}
}
