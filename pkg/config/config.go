package config

import (
	"errors"
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
	Settings      SettingsConfig
	Discipline    DisciplineConfig
	Notifications NotificationsConfig
	Evidence      EvidenceConfig
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

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SettingsConfig tunes the cached settings store.
type SettingsConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// DisciplineConfig governs violation recording behaviour.
type DisciplineConfig struct {
	// EditWindow is how long the recording staff member may still edit
	// or correct a violation record they created.
	EditWindow time.Duration
}

// NotificationsConfig tunes the async dispatch queue.
type NotificationsConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// EvidenceConfig controls evidence file storage and signed download links.
type EvidenceConfig struct {
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
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
		if !errors.As(err, &notFound) {
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Settings = SettingsConfig{
		CacheEnabled: v.GetBool("SETTINGS_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("SETTINGS_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Discipline = DisciplineConfig{
		EditWindow: parseDuration(v.GetString("VIOLATION_EDIT_WINDOW"), 72*time.Hour),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFICATIONS"),
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
		BufferSize: v.GetInt("NOTIFICATION_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFICATION_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFICATION_RETRY_DELAY"), time.Second),
	}

	maxEvidenceSize := v.GetInt64("EVIDENCE_MAX_FILE_SIZE")
	if maxEvidenceSize <= 0 {
		maxEvidenceSize = 5 * 1024 * 1024
	}
	cfg.Evidence = EvidenceConfig{
		StorageDir:       v.GetString("EVIDENCE_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("EVIDENCE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("EVIDENCE_SIGNED_URL_TTL"), 30*time.Minute),
		MaxFileSizeBytes: maxEvidenceSize,
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
	v.SetDefault("DB_NAME", "tatib_sma")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SETTINGS_CACHE_ENABLED", true)
	v.SetDefault("SETTINGS_CACHE_TTL", "5m")

	v.SetDefault("VIOLATION_EDIT_WINDOW", "72h")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "1s")

	v.SetDefault("EVIDENCE_STORAGE_DIR", "./evidence")
	v.SetDefault("EVIDENCE_SIGNED_URL_SECRET", "dev_evidence_secret")
	v.SetDefault("EVIDENCE_SIGNED_URL_TTL", "30m")
	v.SetDefault("EVIDENCE_MAX_FILE_SIZE", 5*1024*1024)
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
