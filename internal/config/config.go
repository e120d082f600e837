package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// External preview server (PACS-compatible REST API).
	PACSURL             string `mapstructure:"PACS_URL"`
	PACSTimeoutSeconds  int    `mapstructure:"PACS_TIMEOUT_SECONDS"`
	PACSRetryAttempts   int    `mapstructure:"PACS_RETRY_ATTEMPTS"`
	PACSRetryDelayMs    int    `mapstructure:"PACS_RETRY_DELAY_MS"`
	PACSFallbackEnabled bool   `mapstructure:"PACS_FALLBACK_ENABLED"`

	// Internal legacy renderer. Empty means no legacy path is available
	// and external failures surface as errors instead of falling back.
	LegacyRenderURL            string `mapstructure:"LEGACY_RENDER_URL"`
	LegacyRenderTimeoutSeconds int    `mapstructure:"LEGACY_RENDER_TIMEOUT_SECONDS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PACS_TIMEOUT_SECONDS", 30)
	v.SetDefault("PACS_RETRY_ATTEMPTS", 3)
	v.SetDefault("PACS_RETRY_DELAY_MS", 500)
	v.SetDefault("PACS_FALLBACK_ENABLED", true)
	v.SetDefault("LEGACY_RENDER_TIMEOUT_SECONDS", 30)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PACS_URL")
	v.BindEnv("PACS_TIMEOUT_SECONDS")
	v.BindEnv("PACS_RETRY_ATTEMPTS")
	v.BindEnv("PACS_RETRY_DELAY_MS")
	v.BindEnv("PACS_FALLBACK_ENABLED")
	v.BindEnv("LEGACY_RENDER_URL")
	v.BindEnv("LEGACY_RENDER_TIMEOUT_SECONDS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.PACSURL == "" {
		return nil, fmt.Errorf("PACS_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PACSTimeout returns the preview server request timeout as a duration.
func (c *Config) PACSTimeout() time.Duration {
	return time.Duration(c.PACSTimeoutSeconds) * time.Second
}

// PACSRetryDelay returns the delay between preview server retries.
func (c *Config) PACSRetryDelay() time.Duration {
	return time.Duration(c.PACSRetryDelayMs) * time.Millisecond
}

// LegacyRenderTimeout returns the legacy renderer request timeout.
func (c *Config) LegacyRenderTimeout() time.Duration {
	return time.Duration(c.LegacyRenderTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to run the full server.
// The validate subcommand only needs PACS_URL, which Load enforces; serve
// additionally needs a database and sane retry settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	u, err := url.Parse(c.PACSURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("PACS_URL must be an http(s) URL, got %q", c.PACSURL)
	}
	if c.LegacyRenderURL != "" {
		lu, err := url.Parse(c.LegacyRenderURL)
		if err != nil || (lu.Scheme != "http" && lu.Scheme != "https") {
			return fmt.Errorf("LEGACY_RENDER_URL must be an http(s) URL, got %q", c.LegacyRenderURL)
		}
	}

	if c.PACSRetryAttempts < 1 || c.PACSRetryAttempts > 10 {
		return fmt.Errorf("PACS_RETRY_ATTEMPTS must be between 1 and 10, got %d", c.PACSRetryAttempts)
	}
	if c.PACSRetryDelayMs < 0 {
		return fmt.Errorf("PACS_RETRY_DELAY_MS must not be negative, got %d", c.PACSRetryDelayMs)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
