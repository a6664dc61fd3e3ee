// Package config loads the coderoom configuration file.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web   WebConfig   `yaml:"web"`
	Shell ShellConfig `yaml:"shell"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

type WebConfig struct {
	Bind    string   `yaml:"bind"`
	Port    int      `yaml:"port"`
	Origins []string `yaml:"origins"`
}

// ShellConfig describes the interactive shell spawned for every
// accepted connection.
type ShellConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Rows    uint16   `yaml:"rows"`
	Cols    uint16   `yaml:"cols"`
}

type StoreConfig struct {
	Path      string `yaml:"path"`       // sqlite database file
	RoomsFile string `yaml:"rooms_file"` // YAML seed file, watched for changes
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LookPathFunc is the function signature for looking up executables.
type LookPathFunc func(name string) (string, error)

func DefaultConfig() Config {
	return Config{
		Web: WebConfig{
			Bind: "127.0.0.1",
			Port: 8787,
		},
		Shell: ShellConfig{
			Command: "/bin/bash",
			Rows:    24,
			Cols:    80,
		},
		Store: StoreConfig{
			Path:      "coderoom.db",
			RoomsFile: "rooms.yaml",
		},
		Log: LogConfig{
			Level: "info",
			File:  "coderoom.log",
		},
	}
}

// Load reads the config from the default location. A missing file yields
// the defaults.
func Load() (Config, error) {
	return LoadFrom(getConfigPath())
}

// LoadFrom reads the config from an explicit path.
func LoadFrom(configPath string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), err
	}

	return cfg.withDefaults(), nil
}

// withDefaults fills fields the file left empty.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Web.Bind == "" {
		c.Web.Bind = def.Web.Bind
	}
	if c.Shell.Command == "" {
		c.Shell.Command = def.Shell.Command
	}
	if c.Shell.Rows == 0 {
		c.Shell.Rows = def.Shell.Rows
	}
	if c.Shell.Cols == 0 {
		c.Shell.Cols = def.Shell.Cols
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.RoomsFile == "" {
		c.Store.RoomsFile = def.Store.RoomsFile
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.File == "" {
		c.Log.File = def.Log.File
	}
	return c
}

// ValidateShell checks that the configured shell binary exists.
func (c *Config) ValidateShell() error {
	return c.ValidateShellWith(exec.LookPath)
}

// ValidateShellWith checks the shell with the provided lookup function.
func (c *Config) ValidateShellWith(lookPath LookPathFunc) error {
	if _, err := lookPath(c.Shell.Command); err != nil {
		return fmt.Errorf("shell %q not found: %w", c.Shell.Command, err)
	}
	return nil
}

func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "coderoom", "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "coderoom", "config.yaml")
	}

	return filepath.Join(home, ".config", "coderoom", "config.yaml")
}
