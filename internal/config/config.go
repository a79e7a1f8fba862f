// Package config loads tend's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Owner is the owner id the CLI acts as when none is given.
	Owner    string         `yaml:"owner"`
	Timezone string         `yaml:"timezone"`
	Database DatabaseConfig `yaml:"database"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Server   ServerConfig   `yaml:"server"`
	NATS     NATSConfig     `yaml:"nats"`
}

type DatabaseConfig struct {
	Path         string `yaml:"path"`
	SnapshotPath string `yaml:"snapshot_path"`
	// AutoSnapshot exports a snapshot after every write.
	AutoSnapshot bool `yaml:"auto_snapshot"`
}

// SweepConfig controls the scheduled daily sweep.
type SweepConfig struct {
	// Schedule is a standard five-field cron spec, evaluated in Timezone.
	Schedule string `yaml:"schedule"`
	// Workers bounds how many tasks one sweep evaluates concurrently.
	Workers int `yaml:"workers"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables publishing intents to NATS when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

func DefaultConfig() *Config {
	return &Config{
		Owner:    "default",
		Timezone: "UTC",
		Database: DatabaseConfig{
			Path:         ".tend/tend.db",
			SnapshotPath: ".tend/snapshot.jsonl",
			AutoSnapshot: true,
		},
		Sweep: SweepConfig{
			Schedule: "5 0 * * *",
			Workers:  4,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8377",
		},
		NATS: NATSConfig{
			SubjectPrefix: "tend.intents",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Owner == "" {
		errs = append(errs, errors.New("owner is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Database.AutoSnapshot && c.Database.SnapshotPath == "" {
		errs = append(errs, errors.New("database.snapshot_path is required when auto_snapshot is on"))
	}
	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sweep.schedule: %w", err))
	}
	if c.Sweep.Workers < 1 {
		errs = append(errs, errors.New("sweep.workers must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats.subject_prefix is required when nats.url is set"))
	}
	return errors.Join(errs...)
}

// Location returns the configured zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge copies the non-zero values of other over c. AutoSnapshot can only
// be switched on this way; switching it off needs an explicit flag.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Owner != "" {
		c.Owner = other.Owner
	}
	if other.Timezone != "" {
		c.Timezone = other.Timezone
	}

	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Database.SnapshotPath != "" {
		c.Database.SnapshotPath = other.Database.SnapshotPath
	}
	if other.Database.AutoSnapshot {
		c.Database.AutoSnapshot = true
	}

	if other.Sweep.Schedule != "" {
		c.Sweep.Schedule = other.Sweep.Schedule
	}
	if other.Sweep.Workers != 0 {
		c.Sweep.Workers = other.Sweep.Workers
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
}
