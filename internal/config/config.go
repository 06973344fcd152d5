package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the side panel service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	IdentityMode        string
	IdentityURL         string
	IdentityAnonKey     string
	IdentitySessionFile string
	OAuthProvider       string
	// RedirectURL is where the identity provider sends the browser after an
	// OAuth sign-in. Empty means the provider's configured site URL.
	RedirectURL string

	ClickUpAPIURL   string
	ClickUpAPIToken string

	TaskFetchMode      string
	TaskRelayURL       string
	TaskRequestTimeout time.Duration

	// PanelIdleTimeout unmounts panels whose frame has been silent this long.
	PanelIdleTimeout time.Duration

	DatabaseURL string
}

// fileConfig mirrors Config for the optional YAML file named by NUCLEAS_CONFIG.
type fileConfig struct {
	BindAddr         string `yaml:"bind_addr"`
	ShutdownTimeout  string `yaml:"shutdown_timeout"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`
	PanelIdleTimeout string `yaml:"panel_idle_timeout"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Identity struct {
		Mode          string `yaml:"mode"`
		URL           string `yaml:"url"`
		AnonKey       string `yaml:"anon_key"`
		SessionFile   string `yaml:"session_file"`
		OAuthProvider string `yaml:"oauth_provider"`
		RedirectURL   string `yaml:"redirect_url"`
	} `yaml:"identity"`

	ClickUp struct {
		APIURL   string `yaml:"api_url"`
		APIToken string `yaml:"api_token"`
	} `yaml:"clickup"`

	Tasks struct {
		FetchMode      string `yaml:"fetch_mode"`
		RelayURL       string `yaml:"relay_url"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"tasks"`

	DatabaseURL string `yaml:"database_url"`
}

// Load reads the optional config file and environment variables and applies
// safe defaults. Environment variables win over the file.
func Load() (Config, error) {
	var file fileConfig
	if path := stringsTrimSpace("NUCLEAS_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", orDefault(file.BindAddr, ":8787")),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", orDefault(file.MetricsNamespace, "nucleas")),
		AllowAnyOrigin:      file.AllowAnyOrigin != nil && *file.AllowAnyOrigin,
		LogLevel:            strings.ToLower(envOrDefault("LOG_LEVEL", orDefault(file.Log.Level, "info"))),
		LogFormat:           strings.ToLower(envOrDefault("LOG_FORMAT", orDefault(file.Log.Format, "json"))),
		IdentityMode:        strings.ToLower(envOrDefault("IDENTITY_MODE", orDefault(file.Identity.Mode, "gotrue"))),
		IdentityURL:         strings.TrimRight(envOrDefault("IDENTITY_URL", file.Identity.URL), "/"),
		IdentityAnonKey:     envOrDefault("IDENTITY_ANON_KEY", file.Identity.AnonKey),
		IdentitySessionFile: envOrDefault("IDENTITY_SESSION_FILE", orDefault(file.Identity.SessionFile, defaultSessionFile())),
		OAuthProvider:       envOrDefault("OAUTH_PROVIDER", orDefault(file.Identity.OAuthProvider, "google")),
		// Unset falls back to an empty redirect, letting the provider pick its site URL.
		RedirectURL:     envOrDefault("NUCLEAS_REDIRECT_URL", file.Identity.RedirectURL),
		ClickUpAPIURL:   strings.TrimRight(envOrDefault("CLICKUP_API_URL", orDefault(file.ClickUp.APIURL, "https://api.clickup.com/api/v2")), "/"),
		ClickUpAPIToken: envOrDefault("CLICKUP_API_TOKEN", file.ClickUp.APIToken),
		TaskFetchMode:   strings.ToLower(envOrDefault("TASK_FETCH_MODE", orDefault(file.Tasks.FetchMode, "relay"))),
		TaskRelayURL:    envOrDefault("TASK_RELAY_URL", file.Tasks.RelayURL),
		DatabaseURL:     envOrDefault("DATABASE_URL", file.DatabaseURL),

		ShutdownTimeout:    15 * time.Second,
		TaskRequestTimeout: 20 * time.Second,
		PanelIdleTimeout:   30 * time.Minute,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromFile("shutdown_timeout", file.ShutdownTimeout, cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TaskRequestTimeout, err = durationFromFile("tasks.request_timeout", file.Tasks.RequestTimeout, cfg.TaskRequestTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PanelIdleTimeout, err = durationFromFile("panel_idle_timeout", file.PanelIdleTimeout, cfg.PanelIdleTimeout); err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskRequestTimeout, err = durationFromEnv("TASK_REQUEST_TIMEOUT", cfg.TaskRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PanelIdleTimeout, err = durationFromEnv("PANEL_IDLE_TIMEOUT", cfg.PanelIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.TaskRelayURL == "" {
		cfg.TaskRelayURL = "http://" + loopbackAddr(cfg.BindAddr) + "/callback"
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.IdentityMode {
	case "gotrue":
		if c.IdentityURL == "" {
			return fmt.Errorf("IDENTITY_URL is required when IDENTITY_MODE=gotrue")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid IDENTITY_MODE: %q (expected gotrue|memory)", c.IdentityMode)
	}
	switch c.TaskFetchMode {
	case "relay", "direct":
	default:
		return fmt.Errorf("invalid TASK_FETCH_MODE: %q (expected relay|direct)", c.TaskFetchMode)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q (expected json|text)", c.LogFormat)
	}
	if c.TaskRequestTimeout <= 0 {
		return fmt.Errorf("TASK_REQUEST_TIMEOUT must be positive")
	}
	if c.PanelIdleTimeout <= 0 {
		return fmt.Errorf("PANEL_IDLE_TIMEOUT must be positive")
	}
	return nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".nucleas", "session.json")
	}
	return filepath.Join(dir, "nucleas", "session.json")
}

// loopbackAddr turns a listen address like ":8787" into "127.0.0.1:8787".
func loopbackAddr(bind string) string {
	if strings.HasPrefix(bind, ":") {
		return "127.0.0.1" + bind
	}
	if strings.HasPrefix(bind, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(bind, "0.0.0.0")
	}
	return bind
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromFile(key, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config file %s parse error: %w", key, err)
	}
	return d, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
