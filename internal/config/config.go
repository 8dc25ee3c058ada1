package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"chitfund/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Settings `yaml:",inline"`

	// Funds are created at startup unless a fund with the same id exists.
	Funds []SeedFund `yaml:"funds"`
}

// Settings is the part of the configuration environment variables may override.
type Settings struct {
	Telegram struct {
		BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
		ChatID   string `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	} `yaml:"telegram"`
	Schedule struct {
		SweepCron  string `yaml:"sweep_cron" env:"CRON_SWEEP"`
		DigestCron string `yaml:"digest_cron" env:"CRON_DIGEST"`
	} `yaml:"schedule"`
	Store struct {
		StateDir string `yaml:"state_dir" env:"STATE_DIR"`
	} `yaml:"store"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	} `yaml:"database"`
	Metrics struct {
		ListenAddr string `yaml:"listen_addr" env:"METRICS_ADDR"`
	} `yaml:"metrics"`
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy" env:"HTTPS_PROXY"`
}

// SeedFund is a fund declared in the config file.
type SeedFund struct {
	ID               string `yaml:"id"`
	model.FundConfig `yaml:",inline"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg.Settings); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// Defaults
	if cfg.Schedule.SweepCron == "" {
		cfg.Schedule.SweepCron = "0 * * * * *"
	}
	if cfg.Schedule.DigestCron == "" {
		cfg.Schedule.DigestCron = "0 0 9 * * *"
	}
	if cfg.Store.StateDir == "" {
		cfg.Store.StateDir = "data/funds"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/chitfund.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

// TelegramEnabled reports whether notifications can be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Validate checks that the configuration is usable, reporting every problem at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		errs = multierror.Append(errs, fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together"))
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.SweepCron); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("schedule.sweep_cron: %w", err))
	}
	if _, err := parser.Parse(c.Schedule.DigestCron); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("schedule.digest_cron: %w", err))
	}
	if c.Store.StateDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("store.state_dir is required"))
	}
	seen := make(map[string]bool)
	for i, f := range c.Funds {
		if f.ID == "" {
			errs = multierror.Append(errs, fmt.Errorf("funds[%d].id is required", i))
			continue
		}
		if seen[f.ID] {
			errs = multierror.Append(errs, fmt.Errorf("funds[%d].id %q is duplicated", i, f.ID))
		}
		seen[f.ID] = true
	}
	return errs.ErrorOrNil()
}
