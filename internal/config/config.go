// Package config loads the hub configuration from YAML, with environment
// variable expansion so secrets (gateway number, rail token, conversation
// ids) stay out of the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the hub configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	DataDir string        `yaml:"data_dir"`
	HTTP    HTTPConfig    `yaml:"http"`
	Events  EventsConfig  `yaml:"events"`
	History HistoryConfig `yaml:"history"`
	Bots    BotsConfig    `yaml:"bots"`
}

// GatewayConfig describes the Signal REST gateway.
type GatewayConfig struct {
	BaseURL      string   `yaml:"base_url"`
	Number       string   `yaml:"number"`
	PollInterval Duration `yaml:"poll_interval,omitempty"`
}

// HTTPConfig describes the local HTTP listener for metrics and health.
type HTTPConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// EventsConfig describes the optional NATS event bus.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
	Stream  string `yaml:"stream,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// HistoryConfig describes the audit log database.
type HistoryConfig struct {
	Path          string   `yaml:"path,omitempty"`
	Retention     Duration `yaml:"retention,omitempty"`
	PruneInterval Duration `yaml:"prune_interval,omitempty"`
}

// BotsConfig holds per-bot configuration. A nil bot is simply not started.
type BotsConfig struct {
	Budget   *BudgetConfig   `yaml:"budget,omitempty"`
	Bins     *BinsConfig     `yaml:"bins,omitempty"`
	Trains   *TrainsConfig   `yaml:"trains,omitempty"`
	Camera   *CameraConfig   `yaml:"camera,omitempty"`
	Reminder *ReminderConfig `yaml:"reminder,omitempty"`
}

// RouteConfig binds a bot to its inbound conversation and outbound recipient.
type RouteConfig struct {
	InternalID string `yaml:"internal_id"`
	Recipient  string `yaml:"recipient"`
}

// BudgetConfig configures the shared budget ledger bot.
type BudgetConfig struct {
	Route        RouteConfig `yaml:"route"`
	WeeklyAmount float64     `yaml:"weekly_amount"`
}

// BinsConfig configures the bin collection reminder bot.
type BinsConfig struct {
	Route      RouteConfig `yaml:"route"`
	CouncilURL string      `yaml:"council_url"`
}

// TrainsConfig configures the departure board watcher bot.
type TrainsConfig struct {
	Route        RouteConfig `yaml:"route"`
	Token        string      `yaml:"token"`
	DefaultCRS   string      `yaml:"default_crs"`
	PollInterval Duration    `yaml:"poll_interval,omitempty"`
}

// CameraConfig configures the camera clip sync bot.
type CameraConfig struct {
	Route         RouteConfig `yaml:"route"`
	NVRURL        string      `yaml:"nvr_url"`
	APIKey        string      `yaml:"api_key,omitempty"`
	ClipDir       string      `yaml:"clip_dir"`
	Monitored     []string    `yaml:"monitored,omitempty"`
	Lookback      Duration    `yaml:"lookback,omitempty"`
	SyncInterval  Duration    `yaml:"sync_interval,omitempty"`
	RetentionDays int         `yaml:"retention_days,omitempty"`
	MaxBytes      int64       `yaml:"max_bytes,omitempty"`
}

// ReminderConfig configures the ad-hoc reminder bot.
type ReminderConfig struct {
	Route RouteConfig `yaml:"route"`
}

// Load reads and validates configuration from the specified file. A .env
// file next to the working directory is loaded first so ${VAR} references
// in the YAML resolve.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Number == "" {
		c.Gateway.Number = os.Getenv("SIGNAL_NUMBER")
	}
	if c.Gateway.PollInterval <= 0 {
		c.Gateway.PollInterval = Duration(2 * time.Second)
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":9621"
	}
	if c.Events.Enabled {
		if c.Events.Stream == "" {
			c.Events.Stream = "HOMEHUB"
		}
		if c.Events.Subject == "" {
			c.Events.Subject = "homehub.events"
		}
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.DataDir, "history.db")
	}
	if c.History.Retention <= 0 {
		c.History.Retention = Duration(90 * 24 * time.Hour)
	}
	if c.History.PruneInterval <= 0 {
		c.History.PruneInterval = Duration(24 * time.Hour)
	}
	if t := c.Bots.Trains; t != nil {
		if t.Token == "" {
			t.Token = os.Getenv("LDB_TOKEN")
		}
		if t.PollInterval <= 0 {
			t.PollInterval = Duration(2 * time.Minute)
		}
	}
	if cam := c.Bots.Camera; cam != nil {
		if cam.APIKey == "" {
			cam.APIKey = os.Getenv("NVR_API_KEY")
		}
		if cam.Lookback <= 0 {
			cam.Lookback = Duration(3 * time.Hour)
		}
		if cam.SyncInterval <= 0 {
			cam.SyncInterval = Duration(5 * time.Minute)
		}
		if cam.RetentionDays <= 0 {
			cam.RetentionDays = 30
		}
		if cam.MaxBytes <= 0 {
			cam.MaxBytes = 10 << 30
		}
		if cam.ClipDir == "" {
			cam.ClipDir = filepath.Join(c.DataDir, "clips")
		}
	}
}

// Validate checks the settings the hub cannot run without. Per-bot problems
// are reported by each bot's own Validate so one broken bot does not take
// the rest of the hub down with it.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.Number == "" {
		return fmt.Errorf("gateway.number is required (or set SIGNAL_NUMBER)")
	}
	return nil
}

func (r RouteConfig) validate(bot string) error {
	if r.InternalID == "" {
		return fmt.Errorf("bots.%s.route.internal_id is required", bot)
	}
	if r.Recipient == "" {
		return fmt.Errorf("bots.%s.route.recipient is required", bot)
	}
	return nil
}

// Validate reports whether the budget bot can start.
func (b *BudgetConfig) Validate() error {
	if err := b.Route.validate("budget"); err != nil {
		return err
	}
	if b.WeeklyAmount < 0 {
		return fmt.Errorf("bots.budget.weekly_amount must not be negative")
	}
	return nil
}

// Validate reports whether the bins bot can start.
func (b *BinsConfig) Validate() error {
	if err := b.Route.validate("bins"); err != nil {
		return err
	}
	if b.CouncilURL == "" {
		return fmt.Errorf("bots.bins.council_url is required")
	}
	return nil
}

// Validate reports whether the trains bot can start.
func (t *TrainsConfig) Validate() error {
	if err := t.Route.validate("trains"); err != nil {
		return err
	}
	if t.Token == "" {
		return fmt.Errorf("bots.trains.token is required (or set LDB_TOKEN)")
	}
	if t.DefaultCRS == "" {
		return fmt.Errorf("bots.trains.default_crs is required")
	}
	return nil
}

// Validate reports whether the camera bot can start.
func (c *CameraConfig) Validate() error {
	if err := c.Route.validate("camera"); err != nil {
		return err
	}
	if c.NVRURL == "" {
		return fmt.Errorf("bots.camera.nvr_url is required")
	}
	return nil
}

// Validate reports whether the reminder bot can start.
func (r *ReminderConfig) Validate() error {
	return r.Route.validate("reminder")
}
