package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppEnv   string
	LogLevel string

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	DatabaseURL    string
	DatabaseSchema string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	// Credential store backend: "sqlite" (filesystem) or "postgres".
	SessionBackend   string
	SessionsDir      string
	WhatsAppLogLevel string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiTimeout time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	OverrideWindow    time.Duration
	ReconnectDelay    time.Duration
	DefaultDailyLimit int
	APIRatePerMinute  int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":3000"),
		PublicBasePath:    getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "omnireply"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DatabaseSchema:    getEnv("DATABASE_SCHEMA", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		SessionBackend:    getEnv("SESSION_BACKEND", "sqlite"),
		SessionsDir:       getEnv("SESSIONS_DIR", "./sessions"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "WARN"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-pro"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		OverrideWindow:    getDuration("OVERRIDE_WINDOW", 30*time.Minute),
		ReconnectDelay:    getDuration("RECONNECT_DELAY", 5*time.Second),
		GeminiTimeout:     getDuration("GEMINI_TIMEOUT", 30*time.Second),
		JWTTTL:            getDuration("JWT_TTL", 7*24*time.Hour),
		DefaultDailyLimit: getInt("DEFAULT_DAILY_LIMIT", 100),
		APIRatePerMinute:  getInt("API_RATE_PER_MINUTE", 120),
	}

	cfg.RedisDB = getInt("REDIS_DB", 0)
	cfg.RedisTLS = getBool("REDIS_TLS", false)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.SessionBackend {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("invalid SESSION_BACKEND %q (want sqlite or postgres)", cfg.SessionBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
