package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vipul43/tendwell-worker/internal/models"
)

type Config struct {
	DatabaseURL        string
	SyncInterval       time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           string
	GoogleClientID     string
	GoogleClientSecret string
	TokenEncryptionKey string // base64, 32 bytes decoded

	OverlapHours      int
	DaysBack          int
	MaxItems          int
	EmailBatchSize    int
	EmailParallel     int
	CalendarBatchSize int
	CalendarParallel  int
	WavePause         time.Duration

	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxPageRetries     int

	WaitCeiling      time.Duration
	WaitPollInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	encryptionKey := os.Getenv("TOKEN_ENCRYPTION_KEY")
	if encryptionKey == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}

	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if googleClientID == "" || googleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, token refresh will not work")
	}

	return &Config{
		DatabaseURL:        dbURL,
		SyncInterval:       getDuration("SYNC_INTERVAL", 15*time.Minute),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
		TokenEncryptionKey: encryptionKey,

		OverlapHours:      getInt("SYNC_OVERLAP_HOURS", models.DefaultOverlapHours),
		DaysBack:          getInt("SYNC_DAYS_BACK", models.DefaultDaysBack),
		MaxItems:          getInt("SYNC_MAX_ITEMS", 10000),
		EmailBatchSize:    getInt("EMAIL_BATCH_SIZE", 20),
		EmailParallel:     getInt("EMAIL_PARALLEL_BATCHES", 5),
		CalendarBatchSize: getInt("CALENDAR_BATCH_SIZE", 10),
		CalendarParallel:  getInt("CALENDAR_PARALLEL_BATCHES", 3),
		WavePause:         getDuration("SYNC_WAVE_PAUSE", 500*time.Millisecond),

		RateLimitPerSecond: getFloat("PROVIDER_RATE_LIMIT", 10),
		RateLimitBurst:     getInt("PROVIDER_RATE_BURST", 5),
		MaxPageRetries:     getInt("PROVIDER_PAGE_RETRIES", 3),

		WaitCeiling:      getDuration("SYNC_WAIT_CEILING", 5*time.Minute),
		WaitPollInterval: getDuration("SYNC_WAIT_POLL_INTERVAL", 5*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
