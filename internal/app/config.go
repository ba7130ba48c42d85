package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (DEAL_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (DEAL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (DEAL_API_KEY_PEPPER)" flag:"api-key-pepper"`
	BaseCurrency string `default:"AED" usage:"Base currency for exchange rate conversion" flag:"base-currency"`
	Rates        RatesConfig
	Quotation    QuotationConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RatesConfig controls the external exchange rate provider and its cache.
type RatesConfig struct {
	ProviderURL  string        `usage:"Exchange rate provider base URL (DEAL_RATES_PROVIDER_URL)" flag:"rates-provider-url"`
	TTL          time.Duration `default:"15m" usage:"Cached exchange rate time-to-live"`
	FetchTimeout time.Duration `default:"5s"  usage:"Timeout for one rate provider request" flag:"rates-fetch-timeout"`
}

// QuotationConfig controls quotation lifecycle timing.
type QuotationConfig struct {
	Validity      time.Duration `default:"336h" usage:"Default validity window for new quotations"`
	SweepInterval time.Duration `default:"1m"   usage:"Interval between expiry sweeps" flag:"sweep-interval"`
	SweepBatch    int           `default:"100"  usage:"Max quotations expired per sweep" flag:"sweep-batch"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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
		EnvPrefix: "DEAL",
		Files:     []string{"config.yaml", "/etc/dealdesk/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set DEAL_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Rates.ProviderURL == "" {
		return nil, errors.New("rate provider URL is required: set DEAL_RATES_PROVIDER_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DEAL_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
