// Package config provides centralized configuration management for the
// application. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Queue    QueueConfig
	Storage  StorageConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response. Must leave
	// room for the synchronous wait budget (default: 90s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"90s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ExchangeConfig holds import/export engine settings.
type ExchangeConfig struct {
	// MaxFileSize is the maximum allowed import file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"EXCHANGE_MAX_FILE_SIZE" default:"104857600"`

	// SyncRecordCeiling is the largest record count an export may have and
	// still run within the request (default: 1000)
	SyncRecordCeiling int `env:"EXCHANGE_SYNC_RECORD_CEILING" default:"1000"`

	// SyncImportByteCeiling is the largest import file that still runs
	// within the request (default: 1MB)
	SyncImportByteCeiling int64 `env:"EXCHANGE_SYNC_IMPORT_BYTE_CEILING" default:"1048576"`

	// SyncWaitBudget is how long a synchronous request blocks on its job
	// before falling back to the task record (default: 60s)
	SyncWaitBudget time.Duration `env:"EXCHANGE_SYNC_WAIT_BUDGET" default:"60s"`

	// TempDir receives disk-located export files. Empty means the OS temp dir.
	TempDir string `env:"EXCHANGE_TEMP_DIR"`

	// DefaultDialingCode prefixes phone numbers that arrive without a
	// country code when the request does not supply one.
	DefaultDialingCode string `env:"EXCHANGE_DEFAULT_DIALING_CODE"`
}

// QueueConfig holds worker pool settings.
type QueueConfig struct {
	// Workers is the number of concurrent job workers (default: 4)
	Workers int `env:"QUEUE_WORKERS" default:"4"`

	// Buffer is the submission buffer size (default: 64)
	Buffer int `env:"QUEUE_BUFFER" default:"64"`

	// MaxAttempts is the attempt ceiling per job, retries included (default: 3)
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" default:"3"`

	// RetryBackoff is the delay before the first retry; it doubles per
	// attempt (default: 2s)
	RetryBackoff time.Duration `env:"QUEUE_RETRY_BACKOFF" default:"2s"`
}

// StorageConfig holds external object storage settings. External storage is
// optional: when the bucket is empty, EXTERNAL-located exports are rejected.
type StorageConfig struct {
	// S3Bucket enables external storage when set.
	S3Bucket string `env:"STORAGE_S3_BUCKET"`

	// S3Region is the bucket's region (default: us-east-1)
	S3Region string `env:"STORAGE_S3_REGION" default:"us-east-1"`

	// S3Prefix is prepended to every object key.
	S3Prefix string `env:"STORAGE_S3_PREFIX" default:"exports"`

	// S3Endpoint targets an S3-compatible service; empty means AWS.
	S3Endpoint string `env:"STORAGE_S3_ENDPOINT"`

	// S3AccessKey and S3SecretKey are static credentials. Empty falls back
	// to the SDK's default credential chain.
	S3AccessKey string `env:"STORAGE_S3_ACCESS_KEY"`
	S3SecretKey string `env:"STORAGE_S3_SECRET_KEY"`

	// AlwaysExternal mirrors every export to external storage regardless of
	// the requested location (default: false)
	AlwaysExternal bool `env:"STORAGE_ALWAYS_EXTERNAL" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ExternalEnabled reports whether external object storage is configured.
func (c *StorageConfig) ExternalEnabled() bool {
	return c.S3Bucket != ""
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
