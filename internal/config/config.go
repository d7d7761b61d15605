// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	// Env selects the runtime profile; "development" shortens the
	// discovery cache so doc authors see listing changes quickly.
	Env string `env:"APP_ENV" envDefault:"production"`

	Upstream  UpstreamConfig  `envPrefix:"UPSTREAM_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Discovery DiscoveryConfig `envPrefix:"DISCOVERY_"`
	Warm      WarmConfig      `envPrefix:"WARM_"`
}

// UpstreamConfig describes the remote document source.
type UpstreamConfig struct {
	// ContentBaseURL is the root under which per-type directories of raw
	// documents live (e.g. <base>/risks/9_data-poisoning.md).
	ContentBaseURL string `env:"CONTENT_BASE_URL" envDefault:"https://raw.githubusercontent.com/aisecdocs/content/main/docs"`
	// ListingBaseURL is the root of the directory-listing API, one
	// sub-path per document category.
	ListingBaseURL string `env:"LISTING_BASE_URL" envDefault:"https://api.github.com/repos/aisecdocs/content/contents/docs"`
	// APIToken, when set, is sent as a bearer credential and switches the
	// accepted listing media type to the API-specific one.
	APIToken string `env:"API_TOKEN"`
}

// CacheConfig tunes the in-memory document cache.
type CacheConfig struct {
	MaxSize         int           `env:"MAX_SIZE" envDefault:"1000"`
	DefaultTTL      time.Duration `env:"DEFAULT_TTL" envDefault:"30m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	Compression     bool          `env:"COMPRESSION" envDefault:"true"`
}

// HTTPConfig tunes the resilient HTTP client.
type HTTPConfig struct {
	Timeout            time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`
	BreakerThreshold   int           `env:"BREAKER_THRESHOLD" envDefault:"5"`
	BreakerRecovery    time.Duration `env:"BREAKER_RECOVERY" envDefault:"60s"`
	PoolMin            int           `env:"POOL_MIN" envDefault:"10"`
	PoolMax            int           `env:"POOL_MAX" envDefault:"100"`
	PoolInitial        int           `env:"POOL_INITIAL" envDefault:"20"`
	PoolAdjustInterval time.Duration `env:"POOL_ADJUST_INTERVAL" envDefault:"30s"`
	PoolHighWater      float64       `env:"POOL_HIGH_WATER" envDefault:"0.8"`
	PoolLowWater       float64       `env:"POOL_LOW_WATER" envDefault:"0.3"`
}

// DiscoveryConfig tunes the remote-listing discovery service.
type DiscoveryConfig struct {
	CacheDir         string        `env:"CACHE_DIR" envDefault:".docpipe"`
	CacheDuration    time.Duration `env:"CACHE_DURATION" envDefault:"24h"`
	DevCacheDuration time.Duration `env:"DEV_CACHE_DURATION" envDefault:"1h"`
}

// WarmConfig tunes the optional cache-warming loop.
type WarmConfig struct {
	Enabled     bool          `env:"ENABLED" envDefault:"false"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"15m"`
	Concurrency int64         `env:"CONCURRENCY" envDefault:"3"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CacheDuration returns the discovery cache lifetime for the active profile.
func (c *Config) CacheDuration() time.Duration {
	if c.Env == "development" {
		return c.Discovery.DevCacheDuration
	}
	return c.Discovery.CacheDuration
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", c.Cache.MaxSize)
	}
	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("HTTP_MAX_ATTEMPTS must be at least 1, got %d", c.HTTP.MaxAttempts)
	}
	if c.HTTP.PoolMin <= 0 || c.HTTP.PoolMax < c.HTTP.PoolMin {
		return fmt.Errorf("pool bounds invalid: min=%d max=%d", c.HTTP.PoolMin, c.HTTP.PoolMax)
	}
	if c.HTTP.PoolInitial < c.HTTP.PoolMin || c.HTTP.PoolInitial > c.HTTP.PoolMax {
		return fmt.Errorf("HTTP_POOL_INITIAL %d outside [%d, %d]", c.HTTP.PoolInitial, c.HTTP.PoolMin, c.HTTP.PoolMax)
	}
	if c.HTTP.PoolLowWater <= 0 || c.HTTP.PoolHighWater >= 1 || c.HTTP.PoolLowWater >= c.HTTP.PoolHighWater {
		return fmt.Errorf("pool watermarks invalid: low=%.2f high=%.2f", c.HTTP.PoolLowWater, c.HTTP.PoolHighWater)
	}
	if c.Upstream.ContentBaseURL == "" || c.Upstream.ListingBaseURL == "" {
		return fmt.Errorf("upstream base URLs must not be empty")
	}
	return nil
}
