// Package config provides configuration management for arenabot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the arenabot server.
type Config struct {
	// ServerAddr is the address the HTTP API listens on (e.g., ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// GeminiAPIKey is the fallback text-generation key for channels without
	// their own credential.
	GeminiAPIKey string

	// GeminiModel overrides the default generation model.
	GeminiModel string

	// Slack integration (optional -- Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string

	// Telegram integration (optional -- long polling, no public URL needed).
	// TelegramBotToken is the token from @BotFather.
	TelegramBotToken string

	// BattleTimeoutSeconds is the roster countdown length. Default: 60.
	BattleTimeoutSeconds int

	// ChannelSettingsPath points to an optional YAML file with per-channel
	// overrides (locale, API key, model).
	ChannelSettingsPath string

	channels map[string]ChannelSettings
}

// ChannelSettings holds optional per-channel overrides.
type ChannelSettings struct {
	Locale string `yaml:"locale"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Load creates a Config from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := envOr("ARENABOT_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:           envOr("ARENABOT_ADDR", ":7080"),
		DataDir:              dataDir,
		DatabasePath:         filepath.Join(dataDir, "arenabot.db"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          os.Getenv("ARENABOT_MODEL"),
		SlackBotToken:        os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:        os.Getenv("SLACK_APP_TOKEN"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		BattleTimeoutSeconds: envOrInt("ARENABOT_BATTLE_TIMEOUT", 60),
		ChannelSettingsPath:  os.Getenv("ARENABOT_CHANNEL_SETTINGS"),
		channels:             make(map[string]ChannelSettings),
	}

	if cfg.ChannelSettingsPath != "" {
		if err := cfg.loadChannelSettings(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) loadChannelSettings() error {
	data, err := os.ReadFile(c.ChannelSettingsPath)
	if err != nil {
		return fmt.Errorf("reading channel settings: %w", err)
	}
	var file struct {
		Channels map[string]ChannelSettings `yaml:"channels"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing channel settings: %w", err)
	}
	if file.Channels != nil {
		c.channels = file.Channels
	}
	return nil
}

// Channel returns the overrides for a channel, zero-valued when none exist.
func (c *Config) Channel(id string) ChannelSettings {
	return c.channels[id]
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if !c.SlackEnabled() && !c.TelegramEnabled() {
		return fmt.Errorf("at least one chat integration is required (Slack or Telegram)")
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arenabot"
	}
	return filepath.Join(home, ".arenabot")
}
