package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Booking       BookingConfig
	Sweeper       SweeperConfig
	Notifications NotificationConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BookingConfig tunes the scheduling core.
type BookingConfig struct {
	TimeZone             string
	MinSlotDuration      time.Duration
	AvailabilityCacheTTL time.Duration
}

// Location resolves the configured reference time zone, falling back to the host zone.
func (b BookingConfig) Location() *time.Location {
	if b.TimeZone == "" || strings.EqualFold(b.TimeZone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(b.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SweeperConfig controls the periodic removal of expired, never-booked slots.
type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

// NotificationConfig configures the asynchronous booking event dispatcher.
type NotificationConfig struct {
	Workers      int
	MaxRetries   int
	RetryDelay   time.Duration
	RedisChannel string
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Issuer:     v.GetString("JWT_ISSUER"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Booking = BookingConfig{
		TimeZone:             v.GetString("BOOKING_TIMEZONE"),
		MinSlotDuration:      parseDuration(v.GetString("BOOKING_MIN_SLOT_DURATION"), 30*time.Minute),
		AvailabilityCacheTTL: parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), time.Minute),
	}

	cfg.Sweeper = SweeperConfig{
		Enabled:  v.GetBool("ENABLE_SLOT_SWEEPER"),
		Interval: parseDuration(v.GetString("SLOT_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.Notifications = NotificationConfig{
		Workers:      v.GetInt("NOTIFY_WORKERS"),
		MaxRetries:   v.GetInt("NOTIFY_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 2*time.Second),
		RedisChannel: v.GetString("NOTIFY_REDIS_CHANNEL"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "counseling")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "counseling-booking-api")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BOOKING_TIMEZONE", "Local")
	v.SetDefault("BOOKING_MIN_SLOT_DURATION", "30m")
	v.SetDefault("AVAILABILITY_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_SLOT_SWEEPER", false)
	v.SetDefault("SLOT_SWEEP_INTERVAL", "1h")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFY_REDIS_CHANNEL", "booking.events")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// isMissingFile covers viper returning a raw *fs.PathError when an explicit
// config file path is set but absent.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
