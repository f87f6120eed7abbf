// Package config loads the daemon's TOML configuration. Secrets may
// live in a separate .env file referenced by env_file; string fields
// support ${VAR} expansion against the process environment after that
// file is loaded.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/loykin/fleetmon/internal/logger"
	"github.com/loykin/fleetmon/internal/ocr"
)

// Rect is a screen rectangle in pixels.
type Rect struct {
	X int `toml:"x" mapstructure:"x"`
	Y int `toml:"y" mapstructure:"y"`
	W int `toml:"w" mapstructure:"w"`
	H int `toml:"h" mapstructure:"h"`
}

type Regions struct {
	Channel Rect `toml:"channel" mapstructure:"channel"`
	Account Rect `toml:"account" mapstructure:"account"`
}

type ReconcileConfig struct {
	Schedule       string        `toml:"schedule" mapstructure:"schedule"`
	CaptureTimeout time.Duration `toml:"capture_timeout" mapstructure:"capture_timeout"`
	OCRTimeout     time.Duration `toml:"ocr_timeout" mapstructure:"ocr_timeout"`
	StoreTimeout   time.Duration `toml:"store_timeout" mapstructure:"store_timeout"`
	ScreenshotsDir string        `toml:"screenshots_dir" mapstructure:"screenshots_dir"`
	CaptureCommand string        `toml:"capture_command" mapstructure:"capture_command"`
	ChannelPattern string        `toml:"channel_pattern" mapstructure:"channel_pattern"`
	OCRBinary      string        `toml:"ocr_binary" mapstructure:"ocr_binary"`
	Regions        Regions       `toml:"regions" mapstructure:"regions"`
}

type StoreConfig struct {
	Type         string `toml:"type" mapstructure:"type"`
	DSN          string `toml:"dsn" mapstructure:"dsn"`
	Token        string `toml:"token" mapstructure:"token"`
	DatabaseID   string `toml:"database_id" mapstructure:"database_id"`
	BaseURL      string `toml:"base_url" mapstructure:"base_url"`
	UploadImages bool   `toml:"upload_images" mapstructure:"upload_images"`
}

type NotifyConfig struct {
	MonitorWebhookURL    string `toml:"monitor_webhook_url" mapstructure:"monitor_webhook_url"`
	DisconnectWebhookURL string `toml:"disconnect_webhook_url" mapstructure:"disconnect_webhook_url"`
}

type ReportConfig struct {
	Schedule string `toml:"schedule" mapstructure:"schedule"`
}

type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Config is the top-level TOML structure.
type Config struct {
	MachineID   string `toml:"machine_id" mapstructure:"machine_id"`
	ProcessName string `toml:"process_name" mapstructure:"process_name"`
	EnvFile     string `toml:"env_file" mapstructure:"env_file"`

	Reconcile ReconcileConfig `toml:"reconcile" mapstructure:"reconcile"`
	Store     StoreConfig     `toml:"store" mapstructure:"store"`
	Notify    NotifyConfig    `toml:"notify" mapstructure:"notify"`
	Report    ReportConfig    `toml:"report" mapstructure:"report"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
}

// Load reads path as TOML, loads the referenced env file if any, and
// expands ${VAR} references in string fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if c.EnvFile != "" {
		envPath := c.EnvFile
		if !filepath.IsAbs(envPath) {
			envPath = filepath.Join(filepath.Dir(path), envPath)
		}
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", c.EnvFile, err)
		}
	}
	c.expand()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// expand substitutes ${VAR} in the fields that may carry secrets or
// machine-specific values.
func (c *Config) expand() {
	exp := func(s string) string {
		return os.Expand(s, func(key string) string { return os.Getenv(key) })
	}
	c.MachineID = exp(c.MachineID)
	c.Store.DSN = exp(c.Store.DSN)
	c.Store.Token = exp(c.Store.Token)
	c.Store.DatabaseID = exp(c.Store.DatabaseID)
	c.Store.BaseURL = exp(c.Store.BaseURL)
	c.Notify.MonitorWebhookURL = exp(c.Notify.MonitorWebhookURL)
	c.Notify.DisconnectWebhookURL = exp(c.Notify.DisconnectWebhookURL)
}

func (c *Config) applyDefaults() {
	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = "@every 5m"
	}
	if c.Reconcile.ScreenshotsDir == "" {
		c.Reconcile.ScreenshotsDir = "screenshots"
	}
	if c.Report.Schedule == "" {
		c.Report.Schedule = "@every 5m"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8782"
	}
}

// Validate checks the fields required for a reconcile run. Errors name
// the offending field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MachineID) == "" {
		return fmt.Errorf("machine_id is required")
	}
	if strings.TrimSpace(c.ProcessName) == "" {
		return fmt.Errorf("process_name is required")
	}
	if strings.TrimSpace(c.Reconcile.CaptureCommand) == "" {
		return fmt.Errorf("reconcile.capture_command is required")
	}
	if err := validRect("reconcile.regions.channel", c.Reconcile.Regions.Channel); err != nil {
		return err
	}
	if err := validRect("reconcile.regions.account", c.Reconcile.Regions.Account); err != nil {
		return err
	}
	switch c.Store.Type {
	case "notion":
		if c.Store.Token == "" {
			return fmt.Errorf("store.token is required for the notion store")
		}
		if c.Store.DatabaseID == "" {
			return fmt.Errorf("store.database_id is required for the notion store")
		}
	case "memory":
	case "":
		if c.Store.DSN == "" && c.Store.Token == "" {
			return fmt.Errorf("store.type, store.dsn or store.token must be set")
		}
	default:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for store type %q", c.Store.Type)
		}
	}
	return nil
}

func validRect(field string, r Rect) error {
	if r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("%s: w and h must be positive", field)
	}
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("%s: x and y must be non-negative", field)
	}
	return nil
}

// ChannelRegion returns the channel rect as an OCR region.
func (c *Config) ChannelRegion() ocr.Region {
	return region("channel", c.Reconcile.Regions.Channel)
}

// AccountRegion returns the account rect as an OCR region.
func (c *Config) AccountRegion() ocr.Region {
	return region("account", c.Reconcile.Regions.Account)
}

func region(name string, r Rect) ocr.Region {
	return ocr.Region{Name: name, X: r.X, Y: r.Y, W: r.W, H: r.H}
}
