// Package config loads bot configuration from an optional TOML file with
// environment variable overrides. Environment always wins so deployments can
// keep secrets out of the config file entirely.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds everything the bot needs to talk to its three services.
type Config struct {
	// TelegramBotToken authenticates calls to the Telegram Bot API.
	TelegramBotToken string `toml:"telegram_bot_token"`
	// WebhookURL is the public URL Telegram should deliver updates to.
	WebhookURL string `toml:"webhook_url"`
	// GeminiAPIKey enables intent classification and voice transcription.
	// When empty those features degrade with a user-visible notice.
	GeminiAPIKey string `toml:"gemini_api_key"`
	// TogglAPIKey authenticates calls to the Toggl Track API.
	TogglAPIKey string `toml:"toggl_api_key"`
	// ListenAddr is the address the webhook server binds to.
	ListenAddr string `toml:"listen_addr"`
}

// Default returns a Config with defaults matching the original deployment.
func Default() Config {
	return Config{ListenAddr: ":5000"}
}

// Load reads the TOML file at path (skipped when path is empty or the file
// does not exist) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = Default().ListenAddr
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override(&cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	override(&cfg.WebhookURL, "WEBHOOK_URL")
	override(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	override(&cfg.TogglAPIKey, "TOGGL_API_KEY")
	override(&cfg.ListenAddr, "LISTEN_ADDR")
	// PORT alone is honored for parity with the original deployment.
	if os.Getenv("LISTEN_ADDR") == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.ListenAddr = ":" + port
		}
	}
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
