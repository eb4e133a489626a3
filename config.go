package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "3000"
	defaultWebhookURL     = "https://n8n.srv-bot.com/webhook/whatsapp"
	defaultInstance       = "principal"
	defaultSessionDir     = "store"
	defaultRestartDelay   = 5 * time.Second
	defaultWebhookTimeout = 120 * time.Second
)

// Config holds every runtime option of the bridge.
type Config struct {
	Port               string
	WebhookURL         string
	Instance           string
	SessionDir         string
	SessionName        string
	RestartDelay       time.Duration
	WebhookTimeout     time.Duration
	WipeOnUnauthorized bool
	PrintQR            bool
	LogLevel           string
}

// fileConfig mirrors Config in the optional YAML file. Durations are strings
// so both "5s" and "5" work.
type fileConfig struct {
	Port               string `yaml:"port"`
	WebhookURL         string `yaml:"webhook_url"`
	Instance           string `yaml:"instance"`
	SessionDir         string `yaml:"session_dir"`
	SessionName        string `yaml:"session_name"`
	RestartDelay       string `yaml:"reconnect_delay"`
	WebhookTimeout     string `yaml:"webhook_timeout"`
	WipeOnUnauthorized *bool  `yaml:"wipe_on_unauthorized"`
	PrintQR            *bool  `yaml:"print_qr"`
	LogLevel           string `yaml:"log_level"`
}

// LoadConfig builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and finally the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Port:           defaultPort,
		WebhookURL:     defaultWebhookURL,
		Instance:       defaultInstance,
		SessionDir:     defaultSessionDir,
		RestartDelay:   defaultRestartDelay,
		WebhookTimeout: defaultWebhookTimeout,
		PrintQR:        true,
		LogLevel:       "INFO",
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		if err := cfg.apply(fc); err != nil {
			return nil, err
		}
	}

	if err := cfg.apply(envConfig()); err != nil {
		return nil, err
	}

	if cfg.SessionName == "" {
		cfg.SessionName = "auth_info_" + cfg.Instance
	}
	if cfg.RestartDelay <= 0 {
		return nil, fmt.Errorf("reconnect delay must be positive, got %s", cfg.RestartDelay)
	}
	return cfg, nil
}

func envConfig() fileConfig {
	fc := fileConfig{
		Port:           os.Getenv("PORT"),
		WebhookURL:     os.Getenv("N8N_WEBHOOK_URL"),
		Instance:       os.Getenv("INSTANCE_NAME"),
		SessionDir:     os.Getenv("SESSION_DIR"),
		SessionName:    os.Getenv("SESSION_NAME"),
		RestartDelay:   os.Getenv("RECONNECT_DELAY"),
		WebhookTimeout: os.Getenv("WEBHOOK_TIMEOUT"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}
	if v, ok := os.LookupEnv("WIPE_ON_UNAUTHORIZED"); ok {
		b := parseBoolLoose(v)
		fc.WipeOnUnauthorized = &b
	}
	if v, ok := os.LookupEnv("PRINT_QR"); ok {
		b := parseBoolLoose(v)
		fc.PrintQR = &b
	}
	return fc
}

func (c *Config) apply(fc fileConfig) error {
	if fc.Port != "" {
		if _, err := strconv.Atoi(fc.Port); err != nil {
			return fmt.Errorf("invalid port %q: %w", fc.Port, err)
		}
		c.Port = fc.Port
	}
	if fc.WebhookURL != "" {
		c.WebhookURL = fc.WebhookURL
	}
	if fc.Instance != "" {
		c.Instance = fc.Instance
	}
	if fc.SessionDir != "" {
		c.SessionDir = fc.SessionDir
	}
	if fc.SessionName != "" {
		c.SessionName = fc.SessionName
	}
	if fc.RestartDelay != "" {
		d, err := parseSeconds(fc.RestartDelay)
		if err != nil {
			return fmt.Errorf("invalid reconnect delay: %w", err)
		}
		c.RestartDelay = d
	}
	if fc.WebhookTimeout != "" {
		d, err := parseSeconds(fc.WebhookTimeout)
		if err != nil {
			return fmt.Errorf("invalid webhook timeout: %w", err)
		}
		c.WebhookTimeout = d
	}
	if fc.WipeOnUnauthorized != nil {
		c.WipeOnUnauthorized = *fc.WipeOnUnauthorized
	}
	if fc.PrintQR != nil {
		c.PrintQR = *fc.PrintQR
	}
	if fc.LogLevel != "" {
		c.LogLevel = strings.ToUpper(fc.LogLevel)
	}
	return nil
}

// parseSeconds accepts a Go duration ("3s", "1m") or a plain number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func parseBoolLoose(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "si":
		return true
	}
	return false
}
