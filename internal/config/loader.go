package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/daviddyess/iptoasn/internal/parser"
)

// Load reads the configuration from the environment, fills in defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := fromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	listType     = reflect.TypeOf([]string(nil))
)

// fromEnv fills the env-tagged fields of v, descending into the section
// structs. Every bad value is reported, not only the first.
func fromEnv(v reflect.Value) error {
	var errs []error
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		sf, f := t.Field(i), v.Field(i)

		if sf.Type.Kind() == reflect.Struct {
			if err := fromEnv(f); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		name, ok := sf.Tag.Lookup("env")
		if !ok || !f.CanSet() {
			continue
		}
		raw := envValue(name, sf.Tag.Get("envAlt"), sf.Tag.Get("default"))
		if raw == "" {
			continue
		}
		if err := decode(f, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
		}
	}

	return errors.Join(errs...)
}

// envValue returns the primary variable, else the alternate, else the
// default. An empty variable counts as unset.
func envValue(name, alt, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v
		}
	}
	return def
}

// decode parses raw into f. Sections only hold strings, integers, byte
// sizes, durations, booleans and comma-separated lists.
func decode(f reflect.Value, raw string) error {
	switch {
	case f.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	case f.Type() == listType:
		f.Set(reflect.ValueOf(splitList(raw)))
	case f.Kind() == reflect.String:
		f.SetString(raw)
	case f.Kind() == reflect.Int, f.Kind() == reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetInt(n)
	case f.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

// splitList splits "a, b,,c" into [a b c].
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Source validation
	if strings.TrimSpace(c.Source.URL) == "" {
		errs = append(errs, "IPTOASN_SOURCE_URL must not be empty")
	}
	if c.Source.HTTPTimeout <= 0 {
		errs = append(errs, "IPTOASN_HTTP_TIMEOUT must be positive")
	}
	if c.Source.MaxDownloadSize <= 0 {
		errs = append(errs, "IPTOASN_MAX_DOWNLOAD_SIZE must be positive")
	}

	// Updater validation
	if c.Updater.IntervalMinutes <= 0 {
		errs = append(errs, fmt.Sprintf("IPTOASN_UPDATE_INTERVAL_MINUTES (%d) must be positive", c.Updater.IntervalMinutes))
	}
	if c.Updater.ForceTimeout <= 0 {
		errs = append(errs, "IPTOASN_FORCE_UPDATE_TIMEOUT must be positive")
	}

	// Parser validation
	if _, err := parser.ParseMalformedPolicy(c.Parser.MalformedPolicy); err != nil {
		errs = append(errs, fmt.Sprintf("IPTOASN_MALFORMED_POLICY (%q) must be one of: skip, abort", c.Parser.MalformedPolicy))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxBatchSize <= 0 {
		errs = append(errs, "SERVER_MAX_BATCH_SIZE must be positive")
	}
	if c.Server.MaxConcurrentBatches <= 0 {
		errs = append(errs, "SERVER_MAX_CONCURRENT_BATCHES must be positive")
	}

	// DNS validation
	if c.DNS.Enabled {
		if c.DNS.Addr == "" {
			errs = append(errs, "DNS_ADDR is required when DNS_ENABLED is true")
		}
		if !strings.HasSuffix(c.DNS.Zone, ".") {
			errs = append(errs, fmt.Sprintf("DNS_ZONE (%q) must be fully qualified (end with a dot)", c.DNS.Zone))
		}
		if c.DNS.TTL < 0 {
			errs = append(errs, "DNS_TTL must be non-negative")
		}
	}

	// History validation
	if c.History.Capacity <= 0 {
		errs = append(errs, "HISTORY_CAPACITY must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.UpdateLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPDATE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, "LOG_MAX_SIZE_MB must be positive when LOG_FILE is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Source: {URL: %q, CacheDir: %q}, ", c.Source.URL, c.Source.CacheDir))
	b.WriteString(fmt.Sprintf("Updater: {IntervalMinutes: %d, AutoStart: %v}, ",
		c.Updater.IntervalMinutes, c.Updater.AutoStart))
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("DNS: {Enabled: %v, Addr: %q, Zone: %q}, ", c.DNS.Enabled, c.DNS.Addr, c.DNS.Zone))
	if c.History.DatabaseURL != "" {
		b.WriteString("History: {DatabaseURL: [MASKED], ")
	} else {
		b.WriteString("History: {DatabaseURL: \"\", ")
	}
	b.WriteString(fmt.Sprintf("Capacity: %d}, ", c.History.Capacity))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Security: {APIKeys: %d configured, RequireAPIKey: %v}, ",
		len(c.Security.APIKeys), c.Security.RequireAPIKey))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

// Policy returns the parsed malformed-row policy. Validate has already
// rejected unknown values.
func (c *ParserConfig) Policy() parser.MalformedPolicy {
	p, _ := parser.ParseMalformedPolicy(c.MalformedPolicy)
	return p
}
