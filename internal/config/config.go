package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"    validate:"required"`
	Blob     BlobConfig     `mapstructure:"blob"     validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Upload   UploadConfig   `mapstructure:"upload"   validate:"required"`
	Lookup   LookupConfig   `mapstructure:"lookup"   validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`

	// RunMigrations controls whether embedded goose migrations run at startup.
	RunMigrations bool `mapstructure:"run_migrations"`
}

// RedisConfig contains the connection settings for the job queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"   validate:"gte=0"`
}

// BlobConfig contains the settings for the S3-compatible blob store.
type BlobConfig struct {
	Endpoint  string `mapstructure:"endpoint"   validate:"required"`
	Bucket    string `mapstructure:"bucket"     validate:"required"`
	AccessKey string `mapstructure:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" validate:"required"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// AuthConfig contains all authentication and authorization settings.
// The service only verifies tokens; issuing them belongs to an external
// identity service sharing the same secret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// QueueConfig tunes the worker pool and the at-least-once delivery machinery.
type QueueConfig struct {
	// WorkerCount determines how many concurrent workers process jobs.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// MaxAttempts is the retry ceiling: once a job has been claimed this
	// many times, the next retryable failure forces it to failed.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// VisibilityTimeout is how long a dequeued-but-unacknowledged job stays
	// invisible before the reaper makes it redeliverable.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"required"`

	// ReapInterval is how often the reaper scans for stale in-flight jobs.
	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"required"`
}

// UploadConfig bounds what the upload-process pipeline accepts.
type UploadConfig struct {
	// MaxBytes is the largest accepted raw image, in bytes.
	MaxBytes int64 `mapstructure:"max_bytes" validate:"required,gt=0"`

	// MaxDimension caps output width and height; larger images are
	// downscaled to fit while preserving aspect ratio.
	MaxDimension int `mapstructure:"max_dimension" validate:"required,gt=0"`
}

// LookupConfig configures the external product-image lookup service client.
type LookupConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout"  validate:"required"`
}
