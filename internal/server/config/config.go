package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	PastePort   string
	BaseURL     string
	StoragePath string

	MaxFileSize        int64
	PasteSizeCap       int64
	MaxCollectionFiles int
	DefaultExpiryDays  int
	MaxExpiryDays      int
	IDLength           int

	RateLimit       int
	RateLimitWindow time.Duration
	RateLimitSweep  time.Duration
	PasteInactivity time.Duration
	PasteFirstByte  time.Duration
	CleanupInterval time.Duration

	DatabaseURL string
	RedisURL    string

	LogFormat string
	LogFile   string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	port := getEnv("PORT", "8080")
	return &Config{
		Port:        port,
		PastePort:   getEnv("PASTE_PORT", "9999"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:"+port),
		StoragePath: getEnv("STORAGE_PATH", "./storage/uploads"),

		MaxFileSize:        getEnvInt64("MAX_FILE_SIZE", 100*1024*1024),        // 100MB
		PasteSizeCap:       getEnvInt64("PASTE_SOCKET_SIZE_CAP", 10*1024*1024), // 10MB
		MaxCollectionFiles: getEnvInt("MAX_COLLECTION_FILES", 20),
		DefaultExpiryDays:  getEnvInt("DEFAULT_EXPIRY_DAYS", 7),
		MaxExpiryDays:      getEnvInt("MAX_EXPIRY_DAYS", 14),
		IDLength:           getEnvInt("ID_LENGTH", 4),

		RateLimit:       getEnvInt("RATE_LIMIT", 100),
		RateLimitWindow: getEnvMinutes("RATE_LIMIT_WINDOW_MINUTES", time.Hour),
		RateLimitSweep:  getEnvMinutes("RATE_LIMIT_SWEEP_MINUTES", time.Hour),
		PasteInactivity: getEnvMillis("PASTE_INACTIVITY_MS", 100*time.Millisecond),
		PasteFirstByte:  getEnvSeconds("PASTE_FIRST_BYTE_TIMEOUT_SECONDS", 30*time.Second),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL_HOURS", 1*time.Hour),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   os.Getenv("LOG_FILE"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	return getEnvScaled(key, time.Hour, fallback)
}

func getEnvMinutes(key string, fallback time.Duration) time.Duration {
	return getEnvScaled(key, time.Minute, fallback)
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	return getEnvScaled(key, time.Second, fallback)
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	return getEnvScaled(key, time.Millisecond, fallback)
}

func getEnvScaled(key string, unit, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			return time.Duration(f * float64(unit))
		}
	}
	return fallback
}
