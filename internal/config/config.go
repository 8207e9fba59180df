// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Source   SourceConfig
	Updater  UpdaterConfig
	Parser   ParserConfig
	Server   ServerConfig
	DNS      DNSConfig
	History  HistoryConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// SourceConfig holds settings for fetching the range table.
type SourceConfig struct {
	// URL is the table location: http(s)://, file:// or a local path
	URL string `env:"IPTOASN_SOURCE_URL" envAlt:"SOURCE_URL" default:"https://iptoasn.com/data/ip2asn-combined.tsv.gz"`

	// CacheDir holds the decompressed copy and its metadata (default: ./cache)
	CacheDir string `env:"IPTOASN_CACHE_DIR" envAlt:"CACHE_DIR" default:"./cache"`

	// HTTPTimeout bounds a single download (default: 60s)
	HTTPTimeout time.Duration `env:"IPTOASN_HTTP_TIMEOUT" default:"60s"`

	// MaxDownloadSize caps the decompressed table in bytes (default: 512MB)
	MaxDownloadSize int64 `env:"IPTOASN_MAX_DOWNLOAD_SIZE" default:"536870912"`
}

// UpdaterConfig holds refresh scheduling settings.
type UpdaterConfig struct {
	// IntervalMinutes is the time between scheduled checks (default: 60)
	IntervalMinutes int `env:"IPTOASN_UPDATE_INTERVAL_MINUTES" default:"60"`

	// AutoStart schedules checks as soon as the initial load succeeds (default: true)
	AutoStart bool `env:"IPTOASN_AUTO_UPDATE" default:"true"`

	// ForceTimeout bounds how long POST /api/update waits (default: 2m)
	ForceTimeout time.Duration `env:"IPTOASN_FORCE_UPDATE_TIMEOUT" default:"2m"`
}

// ParserConfig holds table parsing settings.
type ParserConfig struct {
	// MalformedPolicy is "skip" (count and warn) or "abort" (default: skip)
	MalformedPolicy string `env:"IPTOASN_MALFORMED_POLICY" default:"skip"`

	// MaxWarnings caps per-row warnings logged for one parse (default: 10)
	MaxWarnings int `env:"IPTOASN_PARSE_MAX_WARNINGS" default:"10"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 150s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"150s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for lookup requests (default: 10s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"10s"`

	// MaxBatchSize caps the addresses in one POST /api/lookup (default: 1000)
	MaxBatchSize int `env:"SERVER_MAX_BATCH_SIZE" default:"1000"`

	// MaxConcurrentBatches is the number of batch lookups served at once (default: 4)
	MaxConcurrentBatches int `env:"SERVER_MAX_CONCURRENT_BATCHES" default:"4"`
}

// DNSConfig holds the optional DNS TXT frontend settings.
type DNSConfig struct {
	// Enabled starts the DNS listener (default: false)
	Enabled bool `env:"DNS_ENABLED" default:"false"`

	// Addr is the UDP and TCP listen address (default: :5353)
	Addr string `env:"DNS_ADDR" default:":5353"`

	// Zone is the suffix answered for, e.g. 8.8.8.8.origin.asn.local (default: origin.asn.local.)
	Zone string `env:"DNS_ZONE" default:"origin.asn.local."`

	// TTL is the answer TTL in seconds (default: 300)
	TTL int `env:"DNS_TTL" default:"300"`
}

// HistoryConfig holds refresh history settings.
type HistoryConfig struct {
	// DatabaseURL selects the Postgres recorder; empty keeps history in memory
	DatabaseURL string `env:"HISTORY_DATABASE_URL" envAlt:"DATABASE_URL"`

	// Capacity is the number of events retained (default: 100)
	Capacity int `env:"HISTORY_CAPACITY" default:"100"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 600)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"600"`

	// UpdateLimit is requests per minute for POST /api/update (default: 6)
	UpdateLimit int `env:"RATE_LIMIT_UPDATE" default:"6"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys is a comma-separated list of keys accepted in X-API-Key
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey protects the admin endpoints (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File also writes logs to a rotating file when set
	File string `env:"LOG_FILE"`

	// MaxSizeMB is the size at which the log file rotates (default: 100)
	MaxSizeMB int `env:"LOG_MAX_SIZE_MB" default:"100"`

	// MaxBackups is the number of rotated files kept (default: 5)
	MaxBackups int `env:"LOG_MAX_BACKUPS" default:"5"`

	// MaxAgeDays is how long rotated files are kept (default: 30)
	MaxAgeDays int `env:"LOG_MAX_AGE_DAYS" default:"30"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
