// Package config holds the server configuration and its YAML load/save.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketclock/reminder-engine/engine"
)

// Store drivers.
const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver           string `yaml:"driver" json:"driver"`
	SQLitePath       string `yaml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN      string `yaml:"postgres_dsn,omitempty" json:"-"`
	FirestoreProject string `yaml:"firestore_project,omitempty" json:"firestore_project,omitempty"`
}

// PolicyConfig mirrors engine.Policy in file units.
type PolicyConfig struct {
	DailyReminderCap     int `yaml:"daily_reminder_cap" json:"daily_reminder_cap"`
	MaxRemindersPerEvent int `yaml:"max_reminders_per_event" json:"max_reminders_per_event"`
	ThrottleSeconds      int `yaml:"throttle_seconds" json:"throttle_seconds"`
}

// QuietHoursConfig is the default quiet window for users without settings.
type QuietHoursConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Start   int    `yaml:"start" json:"start"`
	End     int    `yaml:"end" json:"end"`
	Mode    string `yaml:"mode" json:"mode"`
}

// DispatcherConfig controls the background reminder scan.
type DispatcherConfig struct {
	// Schedule is a cron spec, e.g. "@every 1m" or "*/5 * * * *".
	Schedule string `yaml:"schedule" json:"schedule"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// PushConfig points browser and push delivery at a webhook.
type PushConfig struct {
	WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
}

// CORSConfig lists the origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen     string           `yaml:"listen" json:"listen"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
	Timezone   string           `yaml:"timezone" json:"timezone"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Policy     PolicyConfig     `yaml:"policy" json:"policy"`
	QuietHours QuietHoursConfig `yaml:"quiet_hours" json:"quiet_hours"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher"`
	Push       PushConfig       `yaml:"push" json:"push"`
	CORS       CORSConfig       `yaml:"cors" json:"cors"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	p := engine.DefaultPolicy()
	return &Config{
		Listen:   ":8080",
		LogLevel: "INFO",
		Timezone: "UTC",
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "./data/reminders.db",
		},
		Policy: PolicyConfig{
			DailyReminderCap:     p.DailyReminderCap,
			MaxRemindersPerEvent: p.MaxRemindersPerEvent,
			ThrottleSeconds:      int(p.ThrottleWindow / time.Second),
		},
		QuietHours: QuietHoursConfig{Start: 22, End: 7, Mode: string(engine.QuietHoursSuppress)},
		Dispatcher: DispatcherConfig{Schedule: "@every 1m"},
		CORS:       CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Normalize fills in missing or invalid values so partially filled files
// still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if _, err := engine.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		c.Timezone = d.Timezone
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverFirestore:
	default:
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = d.Store.SQLitePath
	}

	if c.Policy.DailyReminderCap <= 0 {
		c.Policy.DailyReminderCap = d.Policy.DailyReminderCap
	}
	if c.Policy.MaxRemindersPerEvent <= 0 || c.Policy.MaxRemindersPerEvent > engine.MaxRemindersPerEvent {
		c.Policy.MaxRemindersPerEvent = d.Policy.MaxRemindersPerEvent
	}
	if c.Policy.ThrottleSeconds < 0 {
		c.Policy.ThrottleSeconds = d.Policy.ThrottleSeconds
	}

	if !(engine.QuietHours{Start: c.QuietHours.Start, End: c.QuietHours.End}).Valid() {
		c.QuietHours.Start, c.QuietHours.End = d.QuietHours.Start, d.QuietHours.End
	}
	c.QuietHours.Mode = string(engine.ParseQuietHoursMode(c.QuietHours.Mode))

	if c.Dispatcher.Schedule == "" {
		c.Dispatcher.Schedule = d.Dispatcher.Schedule
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = d.CORS.AllowedOrigins
	}
}

// EnginePolicy converts the policy section.
func (c *Config) EnginePolicy() engine.Policy {
	return engine.Policy{
		DailyReminderCap:     c.Policy.DailyReminderCap,
		MaxRemindersPerEvent: c.Policy.MaxRemindersPerEvent,
		ThrottleWindow:       time.Duration(c.Policy.ThrottleSeconds) * time.Second,
	}
}

// DefaultPreferences are applied to users who never saved settings.
func (c *Config) DefaultPreferences() engine.Preferences {
	return engine.Preferences{
		Timezone:          c.Timezone,
		QuietHoursEnabled: c.QuietHours.Enabled,
		QuietHours:        engine.QuietHours{Start: c.QuietHours.Start, End: c.QuietHours.End},
		QuietHoursMode:    engine.ParseQuietHoursMode(c.QuietHours.Mode),
	}
}

// Load reads the YAML file at path. A missing file is created with the
// defaults (0600) and the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".reminder-engine-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
