package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (GRUP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (GRUP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (GRUP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig controls the product cache and the shared rate limit store.
type RedisConfig struct {
	URL      string        `usage:"Redis URL, e.g. redis://localhost:6379/0 (GRUP_REDIS_URL or REDIS_URL); empty disables Redis" flag:"redis-url"`
	CacheTTL time.Duration `default:"5m" usage:"Product cache entry lifetime" flag:"product-cache-ttl"`
}

// RateLimitConfig holds the general tier, applied to every request, and the
// stricter checkout tier applied to quotes and orders.
type RateLimitConfig struct {
	General  TierConfig
	Checkout TierConfig
	// Shared keeps the counters in Redis so every replica sees the same
	// windows. Requires Redis.URL.
	Shared bool `default:"false" usage:"Store rate limit counters in Redis" flag:"rate-limit-shared"`
}

// TierConfig configures one sliding window. Max <= 0 disables the tier.
type TierConfig struct {
	Max    int           `usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "GRUP",
		Files:     []string{"config.yaml", "/etc/grup/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)
	cfg.applyTierDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set GRUP_DATABASE_URL or DATABASE_URL")
	}
	if c.RateLimit.Shared && c.Redis.URL == "" {
		return errors.New("shared rate limiting requires a Redis URL")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's GRUP_-prefixed configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.DatabaseURL == "" {
		c.DatabaseURL = getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = getenv("REDIS_URL")
	}
	if port := getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// applyTierDefaults fills the request budgets of the two tiers, which share
// TierConfig and so cannot carry per-tier default tags. A negative Max keeps
// the tier disabled.
func (c *Config) applyTierDefaults() {
	if c.RateLimit.General.Max == 0 {
		c.RateLimit.General.Max = 100
	}
	if c.RateLimit.Checkout.Max == 0 {
		c.RateLimit.Checkout.Max = 20
	}
}
