// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Settle modes for the publish step.
const (
	SettleSleep = "sleep"
	SettlePoll  = "poll"
)

// Config holds all application configuration.
// All settings can be configured via environment variables; publish targets
// come from the file named by TARGETS_FILE.
type Config struct {
	Registry RegistryConfig
	Dataset  DatasetConfig
	Output   OutputConfig
	Publish  PublishConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Server   ServerConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig

	// Targets is populated from Publish.TargetsFile by Load.
	Targets []Target
}

// RegistryConfig holds settings for the country code registry (NDX).
type RegistryConfig struct {
	// URL is the registry extract download URL
	URL string `env:"REGISTRY_URL" envAlt:"NDX_URL" default:"https://exchange.nrc.no/dataset/8f884a61-506f-4d0a-9347-2d069378c574/resource/d03c944d-d2b3-4679-a9d7-3efce6715271/download/countries-and-territories.csv"`

	// Token is sent verbatim in the Authorization header
	Token string `env:"REGISTRY_TOKEN" envAlt:"NDX_API_TOKEN"`

	// File reads the extract from disk instead of URL when set
	File string `env:"REGISTRY_FILE"`

	// NameColumn holds the display name (default: Countries and Territories)
	NameColumn string `env:"REGISTRY_NAME_COLUMN" default:"Countries and Territories"`

	// CodeColumn holds the country code (default: ISO3)
	CodeColumn string `env:"REGISTRY_CODE_COLUMN" default:"ISO3"`
}

// DatasetConfig holds settings for the pcode dataset download (HDX).
type DatasetConfig struct {
	// URL is the CKAN base URL (default: https://data.humdata.org)
	URL string `env:"HDX_URL" default:"https://data.humdata.org"`

	// Query is the package_search query (default: global_pcodes.csv)
	Query string `env:"HDX_QUERY" default:"global_pcodes.csv"`

	// ResourceName is matched as a substring of resource names (default: global_pcodes.csv)
	ResourceName string `env:"HDX_RESOURCE_NAME" default:"global_pcodes.csv"`

	// UserAgent identifies this client to HDX (default: Kobo_pcodes)
	UserAgent string `env:"HDX_USER_AGENT" default:"Kobo_pcodes"`

	// Path is where the downloaded dataset is stored (default: /tmp/global_pcodes.csv)
	Path string `env:"PCODES_PATH" default:"/tmp/global_pcodes.csv"`
}

// OutputConfig holds settings for generated forms.
type OutputConfig struct {
	// Dir is the XLSForm output directory (default: /tmp/xlsforms)
	Dir string `env:"XLSFORM_DIR" default:"/tmp/xlsforms"`
}

// PublishConfig holds settings for publishing forms to targets.
type PublishConfig struct {
	// TargetsFile is a YAML or JSON file listing publish targets
	TargetsFile string `env:"TARGETS_FILE" default:"targets.yaml"`

	// SettleMode is how to wait for imports to finish: sleep or poll (default: sleep)
	SettleMode string `env:"PUBLISH_SETTLE_MODE" default:"sleep"`

	// SettleInterval is the fixed wait in sleep mode, and the minimum extra wait in poll mode (default: 30s)
	SettleInterval time.Duration `env:"PUBLISH_SETTLE_INTERVAL" default:"30s"`

	// PollInterval is the delay between import status checks (default: 2s)
	PollInterval time.Duration `env:"PUBLISH_POLL_INTERVAL" default:"2s"`

	// PollTimeout bounds the total time spent polling (default: 5m)
	PollTimeout time.Duration `env:"PUBLISH_POLL_TIMEOUT" default:"5m"`

	// MaxParallel is how many targets publish at once (default: 1)
	MaxParallel int `env:"PUBLISH_MAX_PARALLEL" default:"1"`
}

// HTTPConfig holds outbound HTTP client settings.
type HTTPConfig struct {
	// Timeout applies to every outbound request (default: 5m)
	Timeout time.Duration `env:"HTTP_TIMEOUT" default:"5m"`
}

// DatabaseConfig holds run history database settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string; run history is kept in memory when empty
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// APIKeys guard the endpoints that start runs. Empty leaves them open.
	APIKeys []string `env:"SERVER_API_KEYS"`

	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For headers are honored.
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// ScheduleConfig holds settings for the serve loop.
type ScheduleConfig struct {
	// Interval between scheduled runs; 0 disables the schedule (default: 24h)
	Interval time.Duration `env:"SYNC_INTERVAL" default:"24h"`

	// OnStart runs a sync as soon as the server starts (default: false)
	OnStart bool `env:"SYNC_ON_START" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UseDatabase reports whether run history should be kept in PostgreSQL.
func (c *DatabaseConfig) UseDatabase() bool {
	return c.URL != ""
}
