package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server settings, merged from the YAML config file
// and command-line flags. Flags win over the file, the file wins over
// the built-in defaults.
type Config struct {
	Host            string
	Port            int
	Token           string
	Shell           string
	Rows            uint16
	Cols            uint16
	MonitorInterval time.Duration
	StreamInterval  time.Duration
	DataDir         string
	Record          bool

	ConfigPath string
	PrintToken bool
}

// fileConfig mirrors Config for YAML decoding. Durations travel as
// strings ("5s", "100ms") so the file stays hand-editable.
type fileConfig struct {
	Host            string `yaml:"host,omitempty"`
	Port            int    `yaml:"port,omitempty"`
	Token           string `yaml:"token,omitempty"`
	Shell           string `yaml:"shell,omitempty"`
	Rows            uint16 `yaml:"rows,omitempty"`
	Cols            uint16 `yaml:"cols,omitempty"`
	MonitorInterval string `yaml:"monitor_interval,omitempty"`
	StreamInterval  string `yaml:"stream_interval,omitempty"`
	DataDir         string `yaml:"data_dir,omitempty"`
	Record          *bool  `yaml:"record,omitempty"`
}

func defaultConfig() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return &Config{
		Host:            "0.0.0.0",
		Port:            7681,
		Rows:            24,
		Cols:            80,
		MonitorInterval: 5 * time.Second,
		StreamInterval:  100 * time.Millisecond,
		DataDir:         filepath.Join(homeDir, ".local", "share", "termhub"),
		Record:          true,
		ConfigPath:      filepath.Join(homeDir, ".config", "termhub", "config.yaml"),
	}, nil
}

// Load builds the configuration from defaults, the config file and the
// given command-line arguments (normally os.Args[1:]). The config file
// path defaults to ~/.config/termhub/config.yaml and can be overridden
// with the TERMHUB_CONFIG environment variable.
func Load(args []string) (*Config, error) {
	cfg, err := defaultConfig()
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("TERMHUB_CONFIG"); path != "" {
		cfg.ConfigPath = path
	}

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	fs := flag.NewFlagSet("termhub", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	fs.StringVar(&cfg.Shell, "shell", cfg.Shell, "shell command for new sessions (defaults to $SHELL)")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the database and recordings")
	fs.DurationVar(&cfg.MonitorInterval, "monitor-interval", cfg.MonitorInterval, "session monitor poll interval")
	fs.BoolVar(&cfg.Record, "record", cfg.Record, "record sessions as asciinema cast files")
	fs.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("invalid monitor interval %v: must be positive", cfg.MonitorInterval)
	}
	if cfg.StreamInterval <= 0 {
		return nil, fmt.Errorf("invalid stream interval %v: must be positive", cfg.StreamInterval)
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

// Addr returns the host:port pair the server should listen on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", c.ConfigPath, err)
	}

	if fc.Host != "" {
		c.Host = fc.Host
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.Token != "" {
		c.Token = fc.Token
	}
	if fc.Shell != "" {
		c.Shell = fc.Shell
	}
	if fc.Rows != 0 {
		c.Rows = fc.Rows
	}
	if fc.Cols != 0 {
		c.Cols = fc.Cols
	}
	if fc.MonitorInterval != "" {
		d, err := time.ParseDuration(fc.MonitorInterval)
		if err != nil {
			return fmt.Errorf("invalid monitor_interval %q: %w", fc.MonitorInterval, err)
		}
		c.MonitorInterval = d
	}
	if fc.StreamInterval != "" {
		d, err := time.ParseDuration(fc.StreamInterval)
		if err != nil {
			return fmt.Errorf("invalid stream_interval %q: %w", fc.StreamInterval, err)
		}
		c.StreamInterval = d
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.Record != nil {
		c.Record = *fc.Record
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	fc := fileConfig{
		Host:            c.Host,
		Port:            c.Port,
		Token:           c.Token,
		Shell:           c.Shell,
		Rows:            c.Rows,
		Cols:            c.Cols,
		MonitorInterval: c.MonitorInterval.String(),
		StreamInterval:  c.StreamInterval.String(),
		DataDir:         c.DataDir,
		Record:          &c.Record,
	}
	data, err := yaml.Marshal(&fc)
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, data, 0600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
