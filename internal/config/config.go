package config

import (
	"os"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// RatePerSecond limits API calls per client session.
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		ID              string `yaml:"id"`
		TTL             string `yaml:"ttl"`
		QuestionSeconds int    `yaml:"question_seconds"`
	} `yaml:"quiz"`
	Gateway struct {
		BaseURL       string  `yaml:"base_url"`
		Timeout       string  `yaml:"timeout"`
		Timezone      string  `yaml:"timezone"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"gateway"`
	Rewards struct {
		WithdrawalThreshold string `yaml:"withdrawal_threshold"`
		QuizReward          string `yaml:"quiz_reward"`
		ShareRate           string `yaml:"share_rate"`
		ClickRate           string `yaml:"click_rate"`
		ReferralRate        string `yaml:"referral_rate"`
		ProcessingTimeout   string `yaml:"processing_timeout"`
	} `yaml:"rewards"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Quiz.ID == "" {
		c.Quiz.ID = "daily"
	}
	if c.Quiz.QuestionSeconds <= 0 {
		c.Quiz.QuestionSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Amount parses a decimal string or returns the fallback if empty or invalid.
func Amount(raw string, fallback decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return fallback
	}
	if d, err := decimal.NewFromString(raw); err == nil && !d.IsNegative() {
		return d
	}
	return fallback
}

// Location resolves an IANA zone name; empty means UTC.
func Location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", name)
	}
	return loc, nil
}
