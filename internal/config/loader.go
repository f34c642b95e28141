package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileName is the tunables file looked up in the config directory.
const FileName = "bot.yaml"

// Config represents the bot.yaml structure
type Config struct {
	Reminder ReminderConfig `yaml:"reminder"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Sender   SenderConfig   `yaml:"sender"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	API      APIConfig      `yaml:"api"`
}

// ReminderConfig tunes the reminder dialogue and scheduler.
type ReminderConfig struct {
	// MinLead is how far in the future a reminder must be when committed.
	MinLead time.Duration `yaml:"min_lead"`
	// SessionTTL expires unfinished dialogues.
	SessionTTL time.Duration `yaml:"session_ttl"`
	Latitude   float64       `yaml:"latitude"`
	Longitude  float64       `yaml:"longitude"`
	Timezone   string        `yaml:"timezone"`
}

type TrackerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	BaseURL         string        `yaml:"base_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type SenderConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Backoff       time.Duration `yaml:"backoff"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

type DispatchConfig struct {
	DenialText string `yaml:"denial_text"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

// Default returns the configuration used when bot.yaml is absent.
func Default() *Config {
	return &Config{
		Reminder: ReminderConfig{
			MinLead:    10 * time.Second,
			SessionTTL: 30 * time.Minute,
			Latitude:   22.28,
			Longitude:  114.16,
			Timezone:   "Local",
		},
		Tracker: TrackerConfig{
			Interval:        5 * time.Minute,
			PersistInterval: time.Minute,
			BaseURL:         "https://www.kuaidi100.com",
			RequestTimeout:  15 * time.Second,
		},
		Sender: SenderConfig{
			MaxAttempts:   3,
			Backoff:       500 * time.Millisecond,
			RatePerSecond: 20,
		},
		API: APIConfig{Port: 8080},
	}
}

// Location resolves the configured time zone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Reminder.Timezone == "" || c.Reminder.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Reminder.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Validate rejects values that would break the scheduler or the workers.
func (c *Config) Validate() error {
	if c.Reminder.MinLead < 0 {
		return fmt.Errorf("reminder.min_lead must not be negative")
	}
	if c.Reminder.SessionTTL <= 0 {
		return fmt.Errorf("reminder.session_ttl must be positive")
	}
	if c.Tracker.Interval <= 0 {
		return fmt.Errorf("tracker.interval must be positive")
	}
	if c.Tracker.PersistInterval <= 0 {
		return fmt.Errorf("tracker.persist_interval must be positive")
	}
	if c.Sender.MaxAttempts < 1 {
		return fmt.Errorf("sender.max_attempts must be at least 1")
	}
	if c.Reminder.Timezone != "" && c.Reminder.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Reminder.Timezone); err != nil {
			return fmt.Errorf("reminder.timezone: %w", err)
		}
	}
	return nil
}

// Loader manages configuration file loading
type Loader struct {
	configDir string
	logger    *zap.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// Load reads bot.yaml on top of the defaults. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	path := filepath.Join(l.configDir, FileName)
	l.logger.Info("Loading configuration", zap.String("path", path))

	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("No configuration file found, using defaults", zap.String("path", path))
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bot config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse bot config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot config: %w", err)
	}

	l.logger.Info("Configuration loaded",
		zap.Duration("reminder_min_lead", cfg.Reminder.MinLead),
		zap.Duration("session_ttl", cfg.Reminder.SessionTTL),
		zap.Duration("tracker_interval", cfg.Tracker.Interval))
	return cfg, nil
}
