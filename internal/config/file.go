package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the subset of Config that can be set from a YAML file.
// Durations are given in Go duration syntax ("10s", "5m").
type fileConfig struct {
	Port     string `yaml:"port"`
	Provider struct {
		BaseURL     string `yaml:"base_url"`
		APIKey      string `yaml:"api_key"`
		AuthHeader  string `yaml:"auth_header"`
		Window      string `yaml:"window"`
		HideDetails string `yaml:"hide_details"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"provider"`
	Cache struct {
		TTL        string `yaml:"ttl"`
		MaxEntries int    `yaml:"max_entries"`
	} `yaml:"cache"`
	RateLimit struct {
		Enabled *bool   `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Export struct {
		WebhookURL string `yaml:"webhook_url"`
		BatchSize  int    `yaml:"batch_size"`
		Interval   string `yaml:"interval"`
	} `yaml:"export"`
}

// applyFile overlays the YAML file at path onto cfg. cfg is left untouched
// unless the whole file applies cleanly.
func applyFile(cfg *Config, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	next := *cfg
	if err := raw.apply(&next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

func (f fileConfig) apply(cfg *Config) error {
	setString(&cfg.Port, f.Port)
	setString(&cfg.ProviderBaseURL, strings.TrimRight(f.Provider.BaseURL, "/"))
	setString(&cfg.ProviderAPIKey, f.Provider.APIKey)
	setString(&cfg.AuthHeader, strings.ToLower(f.Provider.AuthHeader))
	setString(&cfg.DefaultWindow, f.Provider.Window)
	setString(&cfg.DefaultHideDetails, f.Provider.HideDetails)
	setString(&cfg.ExportWebhookURL, f.Export.WebhookURL)

	if f.Cache.MaxEntries > 0 {
		cfg.CacheMaxEntries = f.Cache.MaxEntries
	}
	if f.RateLimit.Enabled != nil {
		cfg.EnableRateLimit = *f.RateLimit.Enabled
	}
	if f.RateLimit.RPS > 0 {
		cfg.RateLimitRPS = f.RateLimit.RPS
	}
	if f.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = f.RateLimit.Burst
	}
	if f.Export.BatchSize > 0 {
		cfg.ExportBatchSize = f.Export.BatchSize
	}

	durations := []struct {
		key   string
		raw   string
		field *time.Duration
	}{
		{"provider.timeout", f.Provider.Timeout, &cfg.RequestTimeout},
		{"cache.ttl", f.Cache.TTL, &cfg.CacheTTL},
		{"export.interval", f.Export.Interval, &cfg.ExportInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.field = parsed
	}

	return nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}
