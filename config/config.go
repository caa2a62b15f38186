// Package config loads runtime settings from an optional .env file, an
// optional config file and REPAIRFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Valkey   ValkeyConfig
	Outbox   OutboxConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int32
	MigrateOnStart bool
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// ValkeyConfig configures the notification bus. An empty Addr disables it.
type ValkeyConfig struct {
	Addr    string
	Channel string
}

type OutboxConfig struct {
	Schedule    string
	BatchSize   int
	MaxAttempts int
}

type LogConfig struct {
	Level       string
	Development bool
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REPAIRFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			RequestTimeout:  v.GetDuration("http.request_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:            v.GetString("database.url"),
			MaxConns:       v.GetInt32("database.max_conns"),
			MigrateOnStart: v.GetBool("database.migrate_on_start"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		Valkey: ValkeyConfig{
			Addr:    v.GetString("valkey.addr"),
			Channel: v.GetString("valkey.channel"),
		},
		Outbox: OutboxConfig{
			Schedule:    v.GetString("outbox.schedule"),
			BatchSize:   v.GetInt("outbox.batch_size"),
			MaxAttempts: v.GetInt("outbox.max_attempts"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}

	// DATABASE_URL is honoured for parity with common hosting setups.
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 16)
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("valkey.addr", "")
	v.SetDefault("valkey.channel", "repairflow.notifications")
	v.SetDefault("outbox.schedule", "@every 5s")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}
	if c.Outbox.MaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox.max_attempts must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
