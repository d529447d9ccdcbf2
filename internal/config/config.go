// Package config loads and validates startup configuration from the
// environment, following the teacher's mustEnv/getEnv shape. An optional
// .env file is loaded first via godotenv so local development doesn't
// require exporting every variable by hand.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-validated startup configuration.
type Config struct {
	AccountIDs []string // upstream account identifiers, one connector each

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RelStorePath string // sqlite path backing the FNO underlying table

	AuthorityServiceURL string

	InitialInstruments []string

	HTTPPort int

	HistoryAPIBaseURL string
	HistoryAPITimeout time.Duration

	Environment string // "development" | "production"
}

// Load reads configuration from the environment (after optionally loading
// a .env file) and fails fast on anything malformed, per SPEC_FULL §6/§7:
// a malformed config is a fatal ConfigError at startup.
func Load() (Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := Config{
		AccountIDs:          splitCSV(getEnv("UPSTREAM_ACCOUNT_IDS", "")),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RelStorePath:        getEnv("FNO_RELSTORE_PATH", "data/fno.db"),
		AuthorityServiceURL: getEnv("AUTHORITY_SERVICE_URL", ""),
		InitialInstruments:  splitCSV(getEnv("INITIAL_INSTRUMENTS", "")),
		Environment:         getEnv("ENVIRONMENT", "development"),
		HistoryAPIBaseURL:   getEnv("HISTORY_API_BASE_URL", ""),
	}

	var err error
	cfg.RedisDB, err = atoiEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, fmt.Errorf("config: REDIS_DB: %w", err)
	}
	cfg.HTTPPort, err = atoiEnv("HTTP_PORT", 8080)
	if err != nil {
		return Config{}, fmt.Errorf("config: HTTP_PORT: %w", err)
	}
	timeoutSec, err := atoiEnv("HISTORY_API_TIMEOUT_S", 10)
	if err != nil {
		return Config{}, fmt.Errorf("config: HISTORY_API_TIMEOUT_S: %w", err)
	}
	cfg.HistoryAPITimeout = time.Duration(timeoutSec) * time.Second

	if len(cfg.AccountIDs) == 0 {
		return Config{}, fmt.Errorf("config: UPSTREAM_ACCOUNT_IDS must name at least one account")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
