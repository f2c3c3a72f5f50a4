package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                    string
	DatabaseURL             string
	AggregateInterval       time.Duration
	ChangePollInterval      time.Duration
	ShiftCheckInterval      time.Duration
	ShiftOverrunGrace       time.Duration
	IdleThreshold           time.Duration
	ChangeBatchSize         int
	RateLimitPerMinute      int
	RateLimitBurst          int
	OwnerRateLimitPerMinute int
	OwnerRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                    port,
		DatabaseURL:             os.Getenv("DB_DSN"),
		AggregateInterval:       readDurationSeconds("AGGREGATE_INTERVAL_SECONDS", 3),
		ChangePollInterval:      readDurationSeconds("CHANGE_POLL_INTERVAL_SECONDS", 1),
		ShiftCheckInterval:      readDurationSeconds("SHIFT_CHECK_INTERVAL_SECONDS", 300),
		ShiftOverrunGrace:       time.Duration(readInt("SHIFT_OVERRUN_GRACE_MINUTES", 30)) * time.Minute,
		IdleThreshold:           time.Duration(readInt("IDLE_THRESHOLD_MINUTES", 5)) * time.Minute,
		ChangeBatchSize:         readInt("CHANGE_BATCH_SIZE", 100),
		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		OwnerRateLimitPerMinute: readInt("OWNER_RATE_LIMIT_PER_MIN", 600),
		OwnerRateLimitBurst:     readInt("OWNER_RATE_LIMIT_BURST", 120),
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
