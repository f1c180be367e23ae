package config

import (
	"errors"
	"os"
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

	Tracker  TrackerConfig
	Reports  ReportsConfig
	History  HistoryConfig
	Database DatabaseConfig
	Lock     LockConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Worker   WorkerConfig
}

// TrackerConfig points at the DHIS2 instance holding the tracker program.
type TrackerConfig struct {
	URL         string
	Username    string
	Password    string
	Timeout     time.Duration
	FixOrgUnits bool
	LookupChunk int
}

// ReportsConfig controls where closure reports are written and in which format.
type ReportsConfig struct {
	Dir    string
	Format string
}

// HistoryConfig toggles persistence of closure runs.
type HistoryConfig struct {
	Enabled bool
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

// LockConfig guards a program against concurrent submitting runs.
type LockConfig struct {
	Enabled bool
	TTL     time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// MetricsConfig configures the Prometheus textfile written at the end of CLI runs.
type MetricsConfig struct {
	Textfile string
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// WorkerConfig tunes the background queue used by the HTTP API.
type WorkerConfig struct {
	Concurrency int
	Retries     int
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
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	chunk := v.GetInt("DHIS2_LOOKUP_CHUNK")
	if chunk <= 0 {
		chunk = 10
	}
	cfg.Tracker = TrackerConfig{
		URL:         v.GetString("DHIS2_URL"),
		Username:    v.GetString("DHIS2_USERNAME"),
		Password:    v.GetString("DHIS2_PASSWORD"),
		Timeout:     parseDuration(v.GetString("DHIS2_TIMEOUT"), 5*time.Minute),
		FixOrgUnits: v.GetBool("DHIS2_FIX_ORG_UNITS"),
		LookupChunk: chunk,
	}

	cfg.Reports = ReportsConfig{
		Dir:    v.GetString("REPORTS_DIR"),
		Format: strings.ToLower(v.GetString("REPORT_FORMAT")),
	}

	cfg.History = HistoryConfig{Enabled: v.GetBool("ENABLE_RUN_HISTORY")}

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

	cfg.Lock = LockConfig{
		Enabled: v.GetBool("ENABLE_RUN_LOCK"),
		TTL:     parseDuration(v.GetString("RUN_LOCK_TTL"), 30*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Metrics = MetricsConfig{Textfile: v.GetString("METRICS_TEXTFILE")}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: SplitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Worker = WorkerConfig{
		Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		Retries:     v.GetInt("WORKER_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DHIS2_URL", "")
	v.SetDefault("DHIS2_USERNAME", "")
	v.SetDefault("DHIS2_PASSWORD", "")
	v.SetDefault("DHIS2_TIMEOUT", "5m")
	v.SetDefault("DHIS2_FIX_ORG_UNITS", true)
	v.SetDefault("DHIS2_LOOKUP_CHUNK", 10)

	v.SetDefault("REPORTS_DIR", "./reports")
	v.SetDefault("REPORT_FORMAT", "csv")

	v.SetDefault("ENABLE_RUN_HISTORY", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "tracker_closure")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 5)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)

	v.SetDefault("ENABLE_RUN_LOCK", false)
	v.SetDefault("RUN_LOCK_TTL", "30m")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("METRICS_TEXTFILE", "")
	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("WORKER_CONCURRENCY", 1)
	v.SetDefault("WORKER_RETRIES", 1)
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

// SplitAndTrim splits a comma-separated list dropping blank entries.
func SplitAndTrim(raw string) []string {
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
