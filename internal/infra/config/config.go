package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates console configuration loaded from environment variables.
type Config struct {
	Env                 string
	APIBaseURL          string
	HubURL              string
	SessionToken        string
	UserID              string
	UserRole            string
	PageSize            int
	RESTTimeout         time.Duration
	HubReconnectBackoff []time.Duration
	HTTPAddr            string
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:          getEnv("APP_ENV", "dev"),
		APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8080"),
		HubURL:       getEnv("HUB_URL", "ws://localhost:8080/api/v1/chat/hub"),
		SessionToken: os.Getenv("SESSION_TOKEN"),
		UserID:       os.Getenv("USER_ID"),
		UserRole:     strings.ToLower(getEnv("USER_ROLE", "resident")),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
	}

	pageSize, err := parseIntEnv("CHAT_PAGE_SIZE", 10)
	if err != nil {
		return Config{}, err
	}
	if pageSize <= 0 {
		return Config{}, fmt.Errorf("CHAT_PAGE_SIZE must be positive")
	}
	cfg.PageSize = pageSize

	timeout, err := parseDurationEnv("REST_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.RESTTimeout = timeout

	backoffStr := getEnv("HUB_RECONNECT_BACKOFF", "1s,2s,5s,15s,30s")
	for _, raw := range strings.Split(backoffStr, ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HUB_RECONNECT_BACKOFF component %q: %w", raw, err)
		}
		cfg.HubReconnectBackoff = append(cfg.HubReconnectBackoff, d)
	}
	if len(cfg.HubReconnectBackoff) == 0 {
		return Config{}, fmt.Errorf("HUB_RECONNECT_BACKOFF is required")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}
