package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets and the default destination.
const (
	EnvTelegramToken  = "CALLRELAY_TELEGRAM_TOKEN"
	EnvTelegramChatID = "CALLRELAY_TELEGRAM_CHAT_ID"
	EnvStorageDSN     = "CALLRELAY_STORAGE_DSN"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// already set are never overwritten and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment values on cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvTelegramChatID)); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
}
