package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" json:"log_level" default:"info"`

	ScanDuration      time.Duration `yaml:"scan_duration" json:"scan_duration" default:"10s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"10s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout" default:"5s"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" json:"disconnect_timeout" default:"5s"`

	// Capacity of the radio event channel and of the public command channel
	EventBufferSize   int `yaml:"event_buffer_size" json:"event_buffer_size" default:"64"`
	CommandBufferSize int `yaml:"command_buffer_size" json:"command_buffer_size" default:"16"`

	DeviceNamePrefix string  `yaml:"device_name_prefix" json:"device_name_prefix" default:"LOGITOW"`
	LowBatteryRatio  float64 `yaml:"low_battery_ratio" json:"low_battery_ratio" default:"0.05"`
	CallbackTarget   string  `yaml:"callback_target" json:"callback_target" default:"logitow_events"`

	// Directory of saved .logitow structure files
	StructureDir string `yaml:"structure_dir" json:"structure_dir" default:"structures"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults.
// Keys absent from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	for name, d := range map[string]time.Duration{
		"scan_duration":      c.ScanDuration,
		"connect_timeout":    c.ConnectTimeout,
		"read_timeout":       c.ReadTimeout,
		"disconnect_timeout": c.DisconnectTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event_buffer_size must be positive, got %d", c.EventBufferSize)
	}
	if c.CommandBufferSize <= 0 {
		return fmt.Errorf("command_buffer_size must be positive, got %d", c.CommandBufferSize)
	}
	if strings.TrimSpace(c.DeviceNamePrefix) == "" {
		return fmt.Errorf("device_name_prefix cannot be empty")
	}
	if c.LowBatteryRatio < 0 || c.LowBatteryRatio > 1 {
		return fmt.Errorf("low_battery_ratio must be within [0, 1], got %g", c.LowBatteryRatio)
	}
	if strings.TrimSpace(c.CallbackTarget) == "" {
		return fmt.Errorf("callback_target cannot be empty")
	}
	if strings.TrimSpace(c.StructureDir) == "" {
		return fmt.Errorf("structure_dir cannot be empty")
	}
	return nil
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
