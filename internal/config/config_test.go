package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARENABOT_DATA_DIR", t.TempDir())
	t.Setenv("ARENABOT_ADDR", "")
	t.Setenv("ARENABOT_BATTLE_TIMEOUT", "")
	t.Setenv("ARENABOT_CHANNEL_SETTINGS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddr != ":7080" {
		t.Errorf("addr = %q", cfg.ServerAddr)
	}
	if cfg.BattleTimeoutSeconds != 60 {
		t.Errorf("timeout = %d", cfg.BattleTimeoutSeconds)
	}
	if filepath.Base(cfg.DatabasePath) != "arenabot.db" {
		t.Errorf("db path = %q", cfg.DatabasePath)
	}
	if got := cfg.Channel("anything"); got != (ChannelSettings{}) {
		t.Errorf("unknown channel settings = %+v", got)
	}
}

func TestLoadChannelSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.yaml")
	content := `channels:
  C123:
    locale: uk
    api_key: key-123
    model: some-model
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ARENABOT_DATA_DIR", dir)
	t.Setenv("ARENABOT_CHANNEL_SETTINGS", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got := cfg.Channel("C123")
	if got.Locale != "uk" || got.APIKey != "key-123" || got.Model != "some-model" {
		t.Errorf("channel settings = %+v", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("empty config validated")
	}

	cfg.GeminiAPIKey = "key"
	if err := cfg.Validate(); err == nil {
		t.Error("config without any chat integration validated")
	}

	cfg.TelegramBotToken = "token"
	if err := cfg.Validate(); err != nil {
		t.Errorf("telegram-only config rejected: %v", err)
	}

	cfg.TelegramBotToken = ""
	cfg.SlackBotToken = "xoxb"
	if err := cfg.Validate(); err == nil {
		t.Error("slack config without app token validated")
	}
	cfg.SlackAppToken = "xapp"
	if err := cfg.Validate(); err != nil {
		t.Errorf("slack config rejected: %v", err)
	}
}
