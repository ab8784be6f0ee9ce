// pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env     string
	BaseURL string // ClearBill API base (https://api.clearbill.io)

	// HTTP client
	HTTPTimeout time.Duration

	// Credential storage
	CredentialDir    string // per-context encrypted records live here
	MasterPassphrase string // derives the storage key; required for file storage

	// Super-admin transition throttling
	RoleTransitionLimit  int
	RoleTransitionWindow time.Duration

	// Webhooks
	WebhookSecret string
	WebhookAddr   string // webhook-listener bind address

	// Redis & Postgres (optional backends)
	RedisURL    string
	DatabaseURL string
}

// fileConfig mirrors the optional clearbill.yaml overlay. Env always wins.
type fileConfig struct {
	Env           string `yaml:"env"`
	BaseURL       string `yaml:"base_url"`
	CredentialDir string `yaml:"credential_dir"`
	WebhookAddr   string `yaml:"webhook_addr"`
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
}

func Load() Config {
	_ = godotenv.Load()
	var fc fileConfig
	if b, err := os.ReadFile(envStr("CLEARBILL_CONFIG", "clearbill.yaml")); err == nil {
		_ = yaml.Unmarshal(b, &fc)
	}
	cfg := Config{
		Env:                  envStr("CLEARBILL_ENV", or(fc.Env, "dev")),
		BaseURL:              envStr("CLEARBILL_API_BASE_URL", or(fc.BaseURL, "https://api.clearbill.io")),
		HTTPTimeout:          envDur("CLEARBILL_HTTP_TIMEOUT_SEC", 30) * time.Second,
		CredentialDir:        envStr("CLEARBILL_CREDENTIAL_DIR", or(fc.CredentialDir, defaultCredentialDir())),
		MasterPassphrase:     envStr("CLEARBILL_MASTER_PASSPHRASE", ""),
		RoleTransitionLimit:  envInt("CLEARBILL_ROLE_TRANSITION_LIMIT", 5),
		RoleTransitionWindow: envDur("CLEARBILL_ROLE_TRANSITION_WINDOW_SEC", 3600) * time.Second,
		WebhookSecret:        envStr("CLEARBILL_WEBHOOK_SECRET", ""),
		WebhookAddr:          envStr("CLEARBILL_WEBHOOK_ADDR", or(fc.WebhookAddr, ":8089")),
		RedisURL:             envStr("REDIS_URL", fc.RedisURL),
		DatabaseURL:          envStr("DATABASE_URL", fc.DatabaseURL),
	}
	return cfg
}

func defaultCredentialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clearbill/credentials"
	}
	return home + "/.clearbill/credentials"
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func envStr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
