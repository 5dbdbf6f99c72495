package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables consumed by Load,
// e.g. IMAGEWORKS_SERVER_PORT, IMAGEWORKS_DATABASE_URL.
const envPrefix = "IMAGEWORKS"

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables alone can carry
		// the full configuration.
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the documented defaults. Retry ceiling and
// visibility timeout are deliberately configuration, not constants.
// Required settings without a sensible default register an empty one so
// viper binds their environment variables; validation catches them when
// they stay empty.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.run_migrations", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.use_ssl", false)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("queue.worker_count", 4)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.visibility_timeout", 30*time.Second)
	v.SetDefault("queue.reap_interval", 10*time.Second)

	v.SetDefault("upload.max_bytes", int64(10*1024*1024))
	v.SetDefault("upload.max_dimension", 2048)

	v.SetDefault("lookup.base_url", "")
	v.SetDefault("lookup.timeout", 20*time.Second)
}
