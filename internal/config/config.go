package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the care planner.
type Config struct {
	DatabaseURL          string
	RedisURL             string
	OwnerID              string
	ServerPort           string
	SyncInterval         time.Duration
	MaterializeAt        string
	SummaryAt            string
	ExactAlarmPermission string
	TelegramToken        string
	TelegramChatID       int64
	Location             *time.Location
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:          getEnv("DATABASE_URL", "careplanner.db"),
		RedisURL:             getEnv("REDIS_URL", ""),
		OwnerID:              getEnv("OWNER_ID", "local"),
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		SyncInterval:         time.Duration(getEnvAsInt("SYNC_INTERVAL_MINUTES", 15)) * time.Minute,
		MaterializeAt:        getEnv("MATERIALIZE_AT", "00:05"),
		SummaryAt:            getEnv("SUMMARY_AT", "21:00"),
		ExactAlarmPermission: getEnv("EXACT_ALARM_PERMISSION", "unsupported"),
		TelegramToken:        getEnv("TELEGRAM_TOKEN", ""),
		Location:             time.Local,
	}

	for key, value := range map[string]string{"MATERIALIZE_AT": cfg.MaterializeAt, "SUMMARY_AT": cfg.SummaryAt} {
		if err := checkClock(value); err != nil {
			return cfg, fmt.Errorf("%s: %w", key, err)
		}
	}

	if zone := getEnv("TIMEZONE", ""); zone != "" {
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return cfg, fmt.Errorf("TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	if cfg.TelegramToken != "" {
		raw := getEnv("TELEGRAM_CHAT_ID", "")
		if raw == "" {
			return cfg, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
		}
		chatID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = chatID
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt falls back to the default for non-numeric or non-positive values.
func getEnvAsInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func checkClock(raw string) error {
	if _, err := time.Parse("15:04", raw); err != nil {
		return fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	return nil
}
