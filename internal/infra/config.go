package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	StorageDriverNone       = "none"
	StorageDriverFilesystem = "filesystem"
	StorageDriverMinIO      = "minio"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string

	JWTSecret          string
	WebhookSecret      string
	CORSAllowedOrigins []string
	GeoIPDBPath        string

	PredictionAPIKey  string
	PredictionBaseURL string
	PredictionModels  map[string]string

	MaxActivePerUser  int
	MaxActiveGlobal   int
	StaleAfter        time.Duration
	ArtifactRetention time.Duration
	SweepInterval     time.Duration
	PollInterval      time.Duration

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
	MinIOPublicURL string

	NATSURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          port,
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "./genjobs.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),

		PredictionAPIKey:  os.Getenv("PREDICTION_API_KEY"),
		PredictionBaseURL: getEnv("PREDICTION_BASE_URL", "https://api.replicate.com/v1"),
		PredictionModels: map[string]string{
			"image_generation": getEnv("PREDICTION_MODEL_IMAGE", "black-forest-labs/flux-schnell"),
			"video_generation": getEnv("PREDICTION_MODEL_VIDEO", "minimax/video-01"),
			"audio_generation": getEnv("PREDICTION_MODEL_AUDIO", "meta/musicgen"),
			"lip_sync":         getEnv("PREDICTION_MODEL_LIPSYNC", "bytedance/latentsync"),
		},

		MaxActivePerUser:  getEnvInt("MAX_ACTIVE_JOBS_PER_USER", 3),
		MaxActiveGlobal:   getEnvInt("MAX_ACTIVE_JOBS_GLOBAL", 50),
		StaleAfter:        time.Minute * time.Duration(getEnvInt("JOB_STALE_AFTER_MINUTES", 30)),
		ArtifactRetention: 24 * time.Hour * time.Duration(getEnvInt("ARTIFACT_RETENTION_DAYS", 7)),
		SweepInterval:     time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 15)),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverNone)),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:    getEnv("MINIO_BUCKET", "generated"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinIOPublicURL: strings.TrimRight(os.Getenv("MINIO_PUBLIC_URL"), "/"),

		NATSURL: os.Getenv("NATS_URL"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}
	cfg.StorageBaseURL = strings.TrimRight(getEnv("STORAGE_BASE_URL", cfg.PublicBaseURL+"/static"), "/")

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case StorageDriverNone, StorageDriverFilesystem, StorageDriverMinIO:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	positive := map[string]int{
		"MAX_ACTIVE_JOBS_PER_USER": cfg.MaxActivePerUser,
		"MAX_ACTIVE_JOBS_GLOBAL":   cfg.MaxActiveGlobal,
		"JOB_STALE_AFTER_MINUTES":  int(cfg.StaleAfter / time.Minute),
		"ARTIFACT_RETENTION_DAYS":  int(cfg.ArtifactRetention / (24 * time.Hour)),
		"SWEEP_INTERVAL_SECONDS":   int(cfg.SweepInterval / time.Second),
		"POLL_INTERVAL_SECONDS":    int(cfg.PollInterval / time.Second),
	}
	for key, v := range positive {
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive", key)
		}
	}

	return cfg, nil
}

// RequireJWTSecret reports an error when the API cannot verify bearer tokens.
func (c *Config) RequireJWTSecret() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
