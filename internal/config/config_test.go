package config

import (
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := &Config{
		DataDir:  "/tmp/test-data",
		LogLevel: "debug",
	}
	original.Backend.URL = "https://modmail.example.com"
	original.Backend.AuthCookie = "auth-token=abc123"
	original.Channel.Mode = "poll"
	original.Channel.PollIntervalSeconds = 3
	original.Channel.ReconnectAttempts = 7
	original.HTTP.Enabled = true
	original.HTTP.Listen = "127.0.0.1:9999"
	original.Moderator.ID = "123456789012345678"
	original.Moderator.Username = "mod"

	if err := Save(path, original); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if loaded.Backend.URL != original.Backend.URL {
		t.Errorf("backend URL mismatch: %q", loaded.Backend.URL)
	}
	if loaded.Channel.PollIntervalSeconds != 3 {
		t.Errorf("poll interval mismatch: %d", loaded.Channel.PollIntervalSeconds)
	}
	if loaded.Moderator.ID != "123456789012345678" {
		t.Errorf("moderator ID mismatch: %q", loaded.Moderator.ID)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Channel.Mode != "sse" {
		t.Errorf("expected default channel mode sse, got %q", cfg.Channel.Mode)
	}
	if cfg.Channel.PollIntervalSeconds != 5 {
		t.Errorf("expected default poll interval 5, got %d", cfg.Channel.PollIntervalSeconds)
	}
	if cfg.Channel.ReconnectAttempts != 5 {
		t.Errorf("expected default reconnect attempts 5, got %d", cfg.Channel.ReconnectAttempts)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected defaults written to disk: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	t.Setenv("MODMAIL_BACKEND_URL", "https://override.example.com")
	t.Setenv("MODMAIL_AUTH_COOKIE", "auth-token=env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Backend.URL != "https://override.example.com" {
		t.Errorf("env URL override not applied: %q", cfg.Backend.URL)
	}
	if cfg.Backend.AuthCookie != "auth-token=env" {
		t.Errorf("env cookie override not applied: %q", cfg.Backend.AuthCookie)
	}
}

func TestSetValue_GetValue(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("load config: %v", err)
	}

	if err := SetValue(path, "channel.mode", "poll"); err != nil {
		t.Fatalf("set channel.mode: %v", err)
	}
	val, err := GetValue(path, "channel.mode")
	if err != nil {
		t.Fatalf("get channel.mode: %v", err)
	}
	if val != "poll" {
		t.Errorf("expected poll, got %v", val)
	}

	// Numeric string into a string field must not lose precision.
	if err := SetValue(path, "moderator.id", "987654321098765432"); err != nil {
		t.Fatalf("set moderator.id: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Moderator.ID != "987654321098765432" {
		t.Errorf("moderator ID corrupted: %q", cfg.Moderator.ID)
	}

	if err := SetValue(path, "nope.nothing", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValue_RejectsInvalidValues(t *testing.T) {
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatalf("load config: %v", err)
	}

	cases := map[string]struct {
		key   string
		value string
	}{
		"bad channel mode":      {"channel.mode", "websocket"},
		"zero poll interval":    {"channel.poll_interval_seconds", "0"},
		"zero reconnect budget": {"channel.reconnect_attempts", "0"},
		"bad backend url":       {"backend.url", "not a url"},
		"bad url scheme":        {"backend.url", "ftp://example.com"},
		"bad log level":         {"log_level", "loud"},
	}
	for name, tc := range cases {
		if err := SetValue(path, tc.key, tc.value); err == nil {
			t.Errorf("%s: set %s=%q should be rejected", name, tc.key, tc.value)
		}
	}

	// A rejected set must not dirty the file.
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Channel.Mode != "sse" {
		t.Errorf("rejected set leaked into the config: mode %q", cfg.Channel.Mode)
	}
}

func TestMissingRequired(t *testing.T) {
	path := tempConfigPath(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	missing := MissingRequired(cfg)
	if len(missing) != 3 {
		t.Fatalf("fresh config should miss cookie and moderator identity, got %v", missing)
	}

	cfg.Backend.AuthCookie = "auth-token=abc"
	cfg.Moderator.ID = "123"
	cfg.Moderator.Username = "mod"
	if missing := MissingRequired(cfg); len(missing) != 0 {
		t.Errorf("fully configured, still missing %v", missing)
	}
}

func TestListValues_MasksSecrets(t *testing.T) {
	path := tempConfigPath(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Backend.AuthCookie = "auth-token=verysecret"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("list values: %v", err)
	}
	masked, ok := flat["backend.auth_cookie"].(string)
	if !ok {
		t.Fatalf("missing backend.auth_cookie in %v", flat)
	}
	if masked != "***cret" {
		t.Errorf("expected masked cookie, got %q", masked)
	}
}
