package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	Backend  struct {
		URL        string `json:"url"`
		AuthCookie string `json:"auth_cookie"`
	} `json:"backend"`
	Channel struct {
		Mode                string `json:"mode"` // "sse" or "poll"
		PollIntervalSeconds int    `json:"poll_interval_seconds"`
		ReconnectAttempts   int    `json:"reconnect_attempts"`
	} `json:"channel"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Moderator struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"moderator"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".modmail-sync"),
		LogLevel: "info",
	}
	cfg.Backend.URL = "http://localhost:3000"
	cfg.Channel.Mode = "sse"
	cfg.Channel.PollIntervalSeconds = 5
	cfg.Channel.ReconnectAttempts = 5
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8130"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if url := os.Getenv("MODMAIL_BACKEND_URL"); url != "" {
		cfg.Backend.URL = url
	}
	if cookie := os.Getenv("MODMAIL_AUTH_COOKIE"); cookie != "" {
		cfg.Backend.AuthCookie = cookie
	}
	if listen := os.Getenv("MODMAIL_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}

	return cfg, nil
}

// Save writes the config atomically: temp file then rename.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with. Every config
// set goes through it, so a typo in channel.mode or backend.url fails at the
// prompt instead of parking the daemon in a broken state.
func Validate(cfg *Config) error {
	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an http(s) URL, got %q", cfg.Backend.URL)
	}
	switch cfg.Channel.Mode {
	case "sse", "poll":
	default:
		return fmt.Errorf("channel.mode must be sse or poll, got %q", cfg.Channel.Mode)
	}
	if cfg.Channel.PollIntervalSeconds < 1 {
		return fmt.Errorf("channel.poll_interval_seconds must be at least 1, got %d", cfg.Channel.PollIntervalSeconds)
	}
	if cfg.Channel.ReconnectAttempts < 1 {
		return fmt.Errorf("channel.reconnect_attempts must be at least 1, got %d", cfg.Channel.ReconnectAttempts)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", cfg.LogLevel)
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Listen == "" {
		return fmt.Errorf("http.listen must be set while http.enabled is true")
	}
	return nil
}

// MissingRequired lists the keys serve cannot work without and that have no
// usable default: the auth cookie and the moderator identity.
func MissingRequired(cfg *Config) []string {
	var missing []string
	if cfg.Backend.AuthCookie == "" {
		missing = append(missing, "backend.auth_cookie")
	}
	if cfg.Moderator.ID == "" {
		missing = append(missing, "moderator.id")
	}
	if cfg.Moderator.Username == "" {
		missing = append(missing, "moderator.username")
	}
	return missing
}

// ListValues returns the config as a flat dot-keyed map, with secrets masked
// when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	flat := Flatten(nested)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path and returns the value for a dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue loads the config at path, sets a dot-separated key to the given
// value (coercing bools and numbers from their string form), and saves it.
func SetValue(path, key, value string) error {
	cfg, err := Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return err
	}
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	// Try the coerced form first; fall back to the raw string so numeric
	// values land correctly in string fields (e.g. moderator.id).
	flat[key] = coerce(value)
	updated, err := rebuild(flat)
	if err != nil {
		flat[key] = value
		updated, err = rebuild(flat)
		if err != nil {
			return fmt.Errorf("apply config value: %w", err)
		}
	}
	if err := Validate(updated); err != nil {
		return err
	}
	return Save(path, updated)
}

func rebuild(flat map[string]any) (*Config, error) {
	data, err := json.Marshal(Unflatten(flat))
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func coerce(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
