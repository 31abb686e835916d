// Package config loads the arbor YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration file.
type Config struct {
	Database Database `yaml:"database"`
	Engine   Engine   `yaml:"engine"`
	Log      Log      `yaml:"log"`
	Shell    Shell    `yaml:"shell"`
	// Actor is recorded in audit fields when the command line names none.
	Actor string `yaml:"actor"`
}

type Database struct {
	// Path of the SQLite file. ":memory:" selects the in-process store.
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

type Engine struct {
	// CascadeTimeout bounds each write transaction; 0 disables it.
	CascadeTimeout time.Duration `yaml:"cascade_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
	File   string `yaml:"file"`   // optional; stderr when empty
}

type Shell struct {
	HistoryFile string `yaml:"history_file"`
}

// MemoryPath selects the in-process store.
const MemoryPath = ":memory:"

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Database: Database{
			Path:         "arbor.db",
			MaxOpenConns: 4,
			BusyTimeout:  5 * time.Second,
		},
		Engine: Engine{CascadeTimeout: 30 * time.Second},
		Log:    Log{Level: "info", Format: "console"},
		Shell:  Shell{HistoryFile: filepath.Join(home, ".arbor_history")},
		Actor:  "",
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Database.Path) == "":
		return errors.New("database.path is empty")
	case c.Database.MaxOpenConns < 0:
		return fmt.Errorf("database.max_open_conns %d is negative", c.Database.MaxOpenConns)
	case c.Database.BusyTimeout < 0:
		return fmt.Errorf("database.busy_timeout %s is negative", c.Database.BusyTimeout)
	case c.Engine.CascadeTimeout < 0:
		return fmt.Errorf("engine.cascade_timeout %s is negative", c.Engine.CascadeTimeout)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", c.Log.Format)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
