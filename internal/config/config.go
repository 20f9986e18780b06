package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                      string
	DatabaseURL               string
	SessionTTL                time.Duration
	FeedPollInterval          time.Duration
	FeedBatchSize             int
	RateLimitPerMinute        int
	RateLimitBurst            int
	SessionRateLimitPerMinute int
	SessionRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                      port,
		DatabaseURL:               os.Getenv("DB_DSN"),
		SessionTTL:                readDurationSeconds("SESSION_TTL_SECONDS", 8*60*60),
		FeedPollInterval:          readDurationSeconds("FEED_POLL_INTERVAL_SECONDS", 1),
		FeedBatchSize:             readInt("FEED_BATCH_SIZE", 100),
		RateLimitPerMinute:        readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:            readInt("RATE_LIMIT_BURST", 30),
		SessionRateLimitPerMinute: readInt("SESSION_RATE_LIMIT_PER_MIN", 600),
		SessionRateLimitBurst:     readInt("SESSION_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
