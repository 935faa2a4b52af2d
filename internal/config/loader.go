package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrNoTargets is returned by RequireTargets when no publish target is configured.
var ErrNoTargets = errors.New("no publish targets configured")

// Load reads configuration from environment variables and the targets file.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	targets, err := LoadTargets(cfg.Publish.TargetsFile)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	cfg.Targets = targets

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
// Every missing required variable is reported, not just the first.
func loadStruct(v reflect.Value) error {
	var missing []string
	if err := loadFields(v, &missing); err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

func loadFields(v reflect.Value, missing *[]string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadFields(fieldVal, missing); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		if value == "" {
			if required {
				*missing = append(*missing, envName)
				continue
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(strings.TrimSpace(value))

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Registry validation
	if c.Registry.File == "" && !isHTTPURL(c.Registry.URL) {
		errs = append(errs, fmt.Sprintf("REGISTRY_URL (%q) must be an absolute http(s) URL when REGISTRY_FILE is not set", c.Registry.URL))
	}
	if c.Registry.NameColumn == "" {
		errs = append(errs, "REGISTRY_NAME_COLUMN must not be empty")
	}
	if c.Registry.CodeColumn == "" {
		errs = append(errs, "REGISTRY_CODE_COLUMN must not be empty")
	}

	// Dataset validation
	if !isHTTPURL(c.Dataset.URL) {
		errs = append(errs, fmt.Sprintf("HDX_URL (%q) must be an absolute http(s) URL", c.Dataset.URL))
	}
	if c.Dataset.ResourceName == "" {
		errs = append(errs, "HDX_RESOURCE_NAME must not be empty")
	}
	if c.Dataset.Path == "" {
		errs = append(errs, "PCODES_PATH must not be empty")
	}

	// Output validation
	if c.Output.Dir == "" {
		errs = append(errs, "XLSFORM_DIR must not be empty")
	}

	// Publish validation
	switch strings.ToLower(c.Publish.SettleMode) {
	case SettleSleep:
	case SettlePoll:
		if c.Publish.PollInterval <= 0 {
			errs = append(errs, "PUBLISH_POLL_INTERVAL must be positive in poll mode")
		}
		if c.Publish.PollTimeout <= 0 {
			errs = append(errs, "PUBLISH_POLL_TIMEOUT must be positive in poll mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("PUBLISH_SETTLE_MODE (%q) must be one of: sleep, poll", c.Publish.SettleMode))
	}
	if c.Publish.SettleInterval < 0 {
		errs = append(errs, "PUBLISH_SETTLE_INTERVAL must be non-negative")
	}
	if c.Publish.MaxParallel <= 0 {
		errs = append(errs, "PUBLISH_MAX_PARALLEL must be positive")
	}

	// HTTP validation
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, "HTTP_TIMEOUT must be positive")
	}

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Schedule validation
	if c.Schedule.Interval < 0 {
		errs = append(errs, "SYNC_INTERVAL must be non-negative")
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

	// Target validation
	errs = append(errs, validateTargets(c.Targets)...)

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// RequireTargets returns ErrNoTargets when nothing can be published.
func (c *Config) RequireTargets() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w (TARGETS_FILE=%q)", ErrNoTargets, c.Publish.TargetsFile)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// String returns a safe string representation of the config for logging.
// Tokens and the database URL are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Registry: {URL: %q, Token: %s, File: %q}, ",
		c.Registry.URL, mask(c.Registry.Token), c.Registry.File)
	fmt.Fprintf(&b, "Dataset: {URL: %q, Query: %q, Path: %q}, ",
		c.Dataset.URL, c.Dataset.Query, c.Dataset.Path)
	fmt.Fprintf(&b, "Output: {Dir: %q}, ", c.Output.Dir)
	fmt.Fprintf(&b, "Publish: {SettleMode: %q, SettleInterval: %s, MaxParallel: %d}, ",
		c.Publish.SettleMode, c.Publish.SettleInterval, c.Publish.MaxParallel)
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d, APIKeys: %d configured}, ", c.Server.Host, c.Server.Port, len(c.Server.APIKeys))
	fmt.Fprintf(&b, "Schedule: {Interval: %s, OnStart: %v}, ", c.Schedule.Interval, c.Schedule.OnStart)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}, ", c.Logging.Level, c.Logging.Format)
	b.WriteString("Targets: [")
	for i, t := range c.Targets {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "{Name: %q, URL: %q, Token: %s, CollectionUID: %q}",
			t.Name, t.URL, mask(t.Token), t.CollectionUID)
	}
	b.WriteString("]}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[UNSET]"
	}
	return "[MASKED]"
}
