package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config file and from environment
// variables. Environment variables use the DISPATCH_ prefix with underscores
// replacing dots (e.g. DISPATCH_SERVER_PORT for server.port) and take
// precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory. A missing file is fine;
	// any other read error is not.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env-only keys through Unmarshal,
	// so bind every key we declared a default for.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct validation over a Config. It is exposed separately so
// runtime reconfiguration endpoints can re-check range rules before applying
// a change.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// setDefaults declares every configuration key along with its default value.
// Declaring a key here is what makes it reachable through environment
// variables, so even keys without a sensible default are listed.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("execution.base_url", "")
	v.SetDefault("execution.connect_timeout_seconds", 30)
	v.SetDefault("execution.response_timeout_seconds", 300)

	v.SetDefault("submission.interval_seconds", 15)
	v.SetDefault("submission.batch_size", 50)
	v.SetDefault("submission.max_retries", 3)
	v.SetDefault("submission.recovery_failure_threshold", 3)

	v.SetDefault("polling.interval_seconds", 30)
	v.SetDefault("polling.batch_size", 100)
	v.SetDefault("polling.staleness_minutes", 30)
	v.SetDefault("polling.recovery_failure_threshold", 3)

	v.SetDefault("consistency.interval_seconds", 300)
	v.SetDefault("consistency.auto_fix", false)

	v.SetDefault("recovery.max_concurrent", 3)
	v.SetDefault("recovery.timeout_ms", 60000)
	v.SetDefault("recovery.max_retry_attempts", 3)
	v.SetDefault("recovery.history_size", 100)
}
