package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string

	// Challonge (tournament brackets)
	ChallongeUser   string
	ChallongeAPIKey string

	// Database
	DatabasePath string

	// Polling
	PollingIntervalSeconds int

	// HTTP read-only API + metrics listener, empty to disable
	WebAddr string

	// Contest limits
	MinProblemRating int
	MaxProblemRating int
	MinDurationMin   int
	MaxDurationMin   int

	// Roles that may run privileged commands (in addition to Manage Server)
	PrivilegedRoles []string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         os.Getenv("DISCORD_BOT_TOKEN"),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		ChallongeUser:        os.Getenv("CHALLONGE_USER"),
		ChallongeAPIKey:      os.Getenv("CHALLONGE_API_KEY"),
		DatabasePath:         getEnvOrDefault("DATABASE_PATH", "./data/lockout.db"),
		WebAddr:              getEnvOrDefault("WEB_ADDR", ":8080"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollingIntervalSeconds, err = getEnvInt("POLLING_INTERVAL_SECONDS", 90); err != nil {
		return nil, err
	}
	if cfg.MinProblemRating, err = getEnvInt("MIN_PROBLEM_RATING", 800); err != nil {
		return nil, err
	}
	if cfg.MaxProblemRating, err = getEnvInt("MAX_PROBLEM_RATING", 3600); err != nil {
		return nil, err
	}
	if cfg.MinDurationMin, err = getEnvInt("MIN_DURATION_MINUTES", 5); err != nil {
		return nil, err
	}
	if cfg.MaxDurationMin, err = getEnvInt("MAX_DURATION_MINUTES", 180); err != nil {
		return nil, err
	}

	roles := getEnvOrDefault("PRIVILEGED_ROLES", "Admin,Moderator,Lockout Manager")
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			cfg.PrivilegedRoles = append(cfg.PrivilegedRoles, r)
		}
	}

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.MinProblemRating >= cfg.MaxProblemRating {
		return nil, fmt.Errorf("MIN_PROBLEM_RATING must be below MAX_PROBLEM_RATING")
	}
	if cfg.MinDurationMin >= cfg.MaxDurationMin {
		return nil, fmt.Errorf("MIN_DURATION_MINUTES must be below MAX_DURATION_MINUTES")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
