package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string
	RedisURL    string
	GeoIPDBPath string

	StorageDriver      string
	StoragePath        string
	StorageBaseURL     string
	S3Bucket           string
	S3Region           string
	S3PublicBaseURL    string
	PresignTTL         time.Duration
	CORSAllowedOrigins []string

	NanoBananaAPIKey  string
	NanoBananaBaseURL string
	FalAPIKey         string
	FalBaseURL        string
	GeminiAPIKey      string
	GeminiImageModel  string

	DefaultImageModel    string
	MultiImageModel      string
	TextToImageModel     string
	GenerationCost       int
	SafetyTolerance      int
	PollInterval         time.Duration
	PollBudget           time.Duration
	RateLimitRetryDelay  time.Duration
	ProviderTimeout      time.Duration
	MaxReferenceImages   int
	MaxUploadBytes       int64
	MaxTotalUploadBytes  int64
	RechargeURL          string
	RechargeTimeout      time.Duration
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	RateLimitPerMin      int
	GenerateRequestLimit time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		StorageDriver:      strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           getEnv("S3_REGION", "us-east-1"),
		S3PublicBaseURL:    strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),
		PresignTTL:         getEnvDuration("PRESIGN_TTL", time.Hour),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		NanoBananaAPIKey:  os.Getenv("NANOBANANA_API_KEY"),
		NanoBananaBaseURL: getEnv("NANOBANANA_BASE_URL", "https://api.nanobanana.example/v1"),
		FalAPIKey:         os.Getenv("FAL_API_KEY"),
		FalBaseURL:        getEnv("FAL_BASE_URL", "https://queue.fal.run"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiImageModel:  getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),

		DefaultImageModel:    getEnv("DEFAULT_IMAGE_MODEL", "nano-banana-edit"),
		MultiImageModel:      getEnv("MULTI_IMAGE_MODEL", "nano-banana-edit"),
		TextToImageModel:     getEnv("TEXT_TO_IMAGE_MODEL", "nano-banana"),
		GenerationCost:       getEnvInt("GENERATION_COST", 3),
		SafetyTolerance:      getEnvInt("PROVIDER_SAFETY_TOLERANCE", 2),
		PollInterval:         getEnvDuration("PROVIDER_POLL_INTERVAL", time.Second),
		PollBudget:           getEnvDuration("PROVIDER_POLL_BUDGET", 290*time.Second),
		RateLimitRetryDelay:  getEnvDuration("PROVIDER_RETRY_DELAY", 2*time.Second),
		ProviderTimeout:      getEnvDuration("PROVIDER_HTTP_TIMEOUT", 120*time.Second),
		MaxReferenceImages:   getEnvInt("MAX_REFERENCE_IMAGES", 4),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		MaxTotalUploadBytes:  int64(getEnvInt("MAX_TOTAL_UPLOAD_BYTES", 25<<20)),
		RechargeURL:          os.Getenv("RECHARGE_URL"),
		RechargeTimeout:      getEnvDuration("RECHARGE_TIMEOUT", 15*time.Second),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 300)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		GenerateRequestLimit: getEnvDuration("GENERATE_REQUEST_TIMEOUT", 295*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case "filesystem":
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.PollBudget >= cfg.GenerateRequestLimit {
		return nil, fmt.Errorf("PROVIDER_POLL_BUDGET (%s) must stay below GENERATE_REQUEST_TIMEOUT (%s)", cfg.PollBudget, cfg.GenerateRequestLimit)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
