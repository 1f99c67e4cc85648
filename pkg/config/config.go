package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appErrors "github.com/noah-isme/auth-api/pkg/errors"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type Config struct {
	Env             string
	Port            int
	APIPrefix       string
	ShutdownTimeout time.Duration

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Events   EventsConfig
	Reaper   ReaperConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig configures the optional role cache backend.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	RoleTTL  time.Duration
}

// JWTConfig holds signing material for both token kinds. Secrets must differ.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EventsConfig controls auth event publishing to Kafka.
type EventsConfig struct {
	Enabled    bool
	Brokers    []string
	Topic      string
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// ReaperConfig schedules removal of expired refresh token rows.
type ReaperConfig struct {
	Enabled   bool
	Schedule  string
	Retention time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.ShutdownTimeout = parseDuration(v.GetString("SHUTDOWN_TIMEOUT"), 10*time.Second)

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		RoleTTL:  parseDuration(v.GetString("ROLE_CACHE_TTL"), time.Hour),
	}

	accessTTL, err := ParseTTL(v.GetString("JWT_ACCESS_EXPIRATION"))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "invalid JWT_ACCESS_EXPIRATION")
	}
	refreshTTL, err := ParseTTL(v.GetString("JWT_REFRESH_EXPIRATION"))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "invalid JWT_REFRESH_EXPIRATION")
	}

	cfg.JWT = JWTConfig{
		AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
		Issuer:        v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Events = EventsConfig{
		Enabled:    v.GetBool("KAFKA_ENABLED"),
		Brokers:    splitAndTrim(v.GetString("KAFKA_BROKERS")),
		Topic:      v.GetString("KAFKA_TOPIC"),
		Workers:    v.GetInt("EVENTS_WORKERS"),
		MaxRetries: v.GetInt("EVENTS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("EVENTS_RETRY_DELAY"), time.Second),
	}

	cfg.Reaper = ReaperConfig{
		Enabled:   v.GetBool("TOKEN_REAPER_ENABLED"),
		Schedule:  v.GetString("TOKEN_REAPER_SCHEDULE"),
		Retention: parseDuration(v.GetString("TOKEN_REAPER_RETENTION"), 24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the token engine cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.JWT.AccessSecret == "":
		return appErrors.Clone(appErrors.ErrConfiguration, "JWT_ACCESS_SECRET is required")
	case c.JWT.RefreshSecret == "":
		return appErrors.Clone(appErrors.ErrConfiguration, "JWT_REFRESH_SECRET is required")
	case c.JWT.AccessSecret == c.JWT.RefreshSecret:
		return appErrors.Clone(appErrors.ErrConfiguration, "access and refresh secrets must differ")
	case c.JWT.AccessTTL <= 0:
		return appErrors.Clone(appErrors.ErrConfiguration, "JWT_ACCESS_EXPIRATION must be positive")
	case c.JWT.RefreshTTL <= 0:
		return appErrors.Clone(appErrors.ErrConfiguration, "JWT_REFRESH_EXPIRATION must be positive")
	case c.Events.Enabled && len(c.Events.Brokers) == 0:
		return appErrors.Clone(appErrors.ErrConfiguration, "KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/auth")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "auth_api")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ROLE_CACHE_TTL", "1h")

	v.SetDefault("JWT_ACCESS_EXPIRATION", "15m")
	v.SetDefault("JWT_REFRESH_EXPIRATION", "7d")
	v.SetDefault("JWT_ISSUER", "auth-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "auth_events")
	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_MAX_RETRIES", 3)
	v.SetDefault("EVENTS_RETRY_DELAY", "1s")

	v.SetDefault("TOKEN_REAPER_ENABLED", true)
	v.SetDefault("TOKEN_REAPER_SCHEDULE", "0 4 * * *")
	v.SetDefault("TOKEN_REAPER_RETENTION", "24h")
}

// ParseTTL parses a duration string, additionally accepting a "d" (days) suffix
// such as "7d".
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", raw, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := ParseTTL(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
