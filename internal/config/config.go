package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/cadence/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Reschedule RescheduleConfig `yaml:"reschedule"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SchedulerConfig struct {
	Enabled            *bool  `yaml:"enabled"`
	PublishInterval    string `yaml:"publish_interval"`
	ErrorRetentionDays int    `yaml:"error_retention_days"`
}

func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type CalendarConfig struct {
	Timezone           string   `yaml:"timezone"`
	DefaultPublishTime string   `yaml:"default_publish_time"`
	Themes             []string `yaml:"themes"`
	MaxWeeks           int      `yaml:"max_weeks"`
}

// Location resolves the calendar timezone, falling back to UTC.
func (c CalendarConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PublishClock returns the default time-of-day for drafts dropped on a date.
func (c CalendarConfig) PublishClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.DefaultPublishTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid default_publish_time %q: %w", c.DefaultPublishTime, err)
	}
	return t.Hour(), t.Minute(), nil
}

type RescheduleConfig struct {
	PendingTTL string `yaml:"pending_ttl"`
}

type AuthConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
	SessionTTL string `yaml:"session_ttl"`
}

var DefaultThemes = []string{"Foundations", "Deep Dive", "Practice", "Reflection"}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.PublishInterval == "" {
		cfg.Scheduler.PublishInterval = "5m"
	}
	if cfg.Scheduler.ErrorRetentionDays == 0 {
		cfg.Scheduler.ErrorRetentionDays = 90
	}
	if cfg.Calendar.Timezone == "" {
		cfg.Calendar.Timezone = "UTC"
	}
	if cfg.Calendar.DefaultPublishTime == "" {
		cfg.Calendar.DefaultPublishTime = "09:00"
	}
	if len(cfg.Calendar.Themes) == 0 {
		cfg.Calendar.Themes = append([]string(nil), DefaultThemes...)
	}
	if cfg.Calendar.MaxWeeks == 0 {
		cfg.Calendar.MaxWeeks = 26
	}
	if cfg.Reschedule.PendingTTL == "" {
		cfg.Reschedule.PendingTTL = "15m"
	}
	if cfg.Auth.SessionTTL == "" {
		cfg.Auth.SessionTTL = "12h"
	}
}

func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Scheduler.PublishInterval); err != nil {
		return fmt.Errorf("invalid scheduler.publish_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Reschedule.PendingTTL); err != nil {
		return fmt.Errorf("invalid reschedule.pending_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Auth.SessionTTL); err != nil {
		return fmt.Errorf("invalid auth.session_ttl: %w", err)
	}
	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("invalid calendar.timezone: %w", err)
	}
	if _, _, err := c.Calendar.PublishClock(); err != nil {
		return err
	}
	return nil
}
