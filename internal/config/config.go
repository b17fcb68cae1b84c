package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio    = "stdio"
	ModeServer   = "server"
	ModeProcess  = "process"
	ModeSchedule = "schedule"

	// Default values
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8080
	DefaultLogLevel      = "info"
	DefaultPaperlessURL  = "http://localhost"
	DefaultPatternsDir   = "data/patterns"
	DefaultStateDir      = "data/state"
	DefaultSchedule      = "0 * * * *"
	DefaultCacheEntries  = 64
	DefaultCacheMaxBytes = 500 * 1024 * 1024 // 500MB
	DefaultStaleLease    = 6 * time.Hour
	DefaultEnvFile       = ".env"

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "PLNGX_DISSECT"
)

// Config holds all configuration for plngx-dissect.
type Config struct {
	// Server configuration
	Mode string // stdio, server, process or schedule
	Host string
	Port int

	// Paperless connection
	PaperlessURL      string
	PaperlessToken    string
	PaperlessForceSSL bool

	// Document selection and post-processing
	RequiredTags []string
	ExcludedTags []string
	AddTags      []string
	RemoveTags   []string
	DryRun       bool

	// Storage
	PatternsDir   string
	StateDir      string
	CacheEntries  int
	CacheMaxBytes int64
	StaleLease    time.Duration

	// Schedule is a standard five-field cron spec; empty disables periodic runs.
	Schedule string

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
	EnvFile    string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:          ModeStdio,
		Host:          DefaultHost,
		Port:          DefaultPort,
		PaperlessURL:  DefaultPaperlessURL,
		RequiredTags:  []string{},
		ExcludedTags:  []string{},
		AddTags:       []string{},
		RemoveTags:    []string{},
		PatternsDir:   DefaultPatternsDir,
		StateDir:      DefaultStateDir,
		CacheEntries:  DefaultCacheEntries,
		CacheMaxBytes: DefaultCacheMaxBytes,
		StaleLease:    DefaultStaleLease,
		Schedule:      DefaultSchedule,
		Version:       "1.0.0",
		ServerName:    "plngx-dissect",
		LogLevel:      DefaultLogLevel,
		EnvFile:       DefaultEnvFile,
	}
}

// LoadFromFlags parses command line flags, the optional .env file and the
// PLNGX_DISSECT_* environment, and returns a validated configuration.
// Flags take precedence over the environment.
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	// Variables already set in the environment win over the file.
	if envFile := viper.GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	populateConfigFromViper(cfg)

	for _, dir := range []*string{&cfg.PatternsDir, &cfg.StateDir} {
		if abs, err := filepath.Abs(*dir); err == nil {
			*dir = abs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("paperless-url", cfg.PaperlessURL)
	viper.SetDefault("paperless-token", cfg.PaperlessToken)
	viper.SetDefault("paperless-force-ssl", cfg.PaperlessForceSSL)
	viper.SetDefault("required-tags", cfg.RequiredTags)
	viper.SetDefault("excluded-tags", cfg.ExcludedTags)
	viper.SetDefault("add-tags", cfg.AddTags)
	viper.SetDefault("remove-tags", cfg.RemoveTags)
	viper.SetDefault("dry-run", cfg.DryRun)
	viper.SetDefault("patterns-dir", cfg.PatternsDir)
	viper.SetDefault("state-dir", cfg.StateDir)
	viper.SetDefault("cache-entries", cfg.CacheEntries)
	viper.SetDefault("cache-max-bytes", cfg.CacheMaxBytes)
	viper.SetDefault("stale-lease", cfg.StaleLease)
	viper.SetDefault("schedule", cfg.Schedule)
	viper.SetDefault("log-level", cfg.LogLevel)
	viper.SetDefault("env-file", cfg.EnvFile)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Run mode: 'stdio' (MCP over stdio), 'server' (MCP over SSE), 'process' (one run), 'schedule' (periodic runs)")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("paperless-url", cfg.PaperlessURL, "Base URL of the paperless-ngx instance")
	pflag.String("paperless-token", cfg.PaperlessToken, "Paperless API token")
	pflag.Bool("paperless-force-ssl", cfg.PaperlessForceSSL, "Rewrite every paperless URL to https")
	pflag.StringSlice("required-tags", cfg.RequiredTags, "Only process documents carrying all of these tags")
	pflag.StringSlice("excluded-tags", cfg.ExcludedTags, "Skip documents carrying any of these tags")
	pflag.StringSlice("add-tags", cfg.AddTags, "Tags added to documents a pattern was applied to")
	pflag.StringSlice("remove-tags", cfg.RemoveTags, "Tags removed from documents a pattern was applied to")
	pflag.Bool("dry-run", cfg.DryRun, "Compute updates without writing them to paperless")
	pflag.String("patterns-dir", cfg.PatternsDir, "Directory holding one YAML file per pattern")
	pflag.String("state-dir", cfg.StateDir, "Directory for the state database and run results")
	pflag.Int("cache-entries", cfg.CacheEntries, "Parsed documents kept in memory")
	pflag.Int64("cache-max-bytes", cfg.CacheMaxBytes, "Size limit of the persistent document cache")
	pflag.Duration("stale-lease", cfg.StaleLease, "Age after which a held run lease is considered abandoned")
	pflag.String("schedule", cfg.Schedule, "Cron spec for periodic runs (server and schedule modes)")
	pflag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.String("env-file", cfg.EnvFile, "Optional file of environment variables")
}

var flagNames = []string{
	"mode", "host", "port",
	"paperless-url", "paperless-token", "paperless-force-ssl",
	"required-tags", "excluded-tags", "add-tags", "remove-tags", "dry-run",
	"patterns-dir", "state-dir", "cache-entries", "cache-max-bytes", "stale-lease",
	"schedule", "log-level", "env-file",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range flagNames {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nplngx-dissect - extract structured fields from paperless-ngx documents\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --paperless-url=https://docs.example.org     # MCP over stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=process --dry-run                      # one run, no writes\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=schedule --schedule='*/15 * * * *'     # run every 15 minutes\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		for _, name := range flagNames {
			fmt.Fprintf(os.Stderr, "  %s_%s\n", envPrefix, strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
		}
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.PaperlessURL = strings.TrimRight(viper.GetString("paperless-url"), "/")
	cfg.PaperlessToken = viper.GetString("paperless-token")
	cfg.PaperlessForceSSL = viper.GetBool("paperless-force-ssl")
	cfg.RequiredTags = stringList("required-tags")
	cfg.ExcludedTags = stringList("excluded-tags")
	cfg.AddTags = stringList("add-tags")
	cfg.RemoveTags = stringList("remove-tags")
	cfg.DryRun = viper.GetBool("dry-run")
	cfg.PatternsDir = viper.GetString("patterns-dir")
	cfg.StateDir = viper.GetString("state-dir")
	cfg.CacheEntries = viper.GetInt("cache-entries")
	cfg.CacheMaxBytes = viper.GetInt64("cache-max-bytes")
	cfg.StaleLease = viper.GetDuration("stale-lease")
	cfg.Schedule = viper.GetString("schedule")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.EnvFile = viper.GetString("env-file")
}

// stringList reads a comma separated list. Environment values arrive as a
// single string; tag names may contain spaces, so only commas separate.
func stringList(key string) []string {
	var raw []string
	switch v := viper.Get(key).(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		for _, s := range v {
			raw = append(raw, strings.Split(s, ",")...)
		}
	case []any:
		for _, s := range v {
			raw = append(raw, strings.Split(fmt.Sprint(s), ",")...)
		}
	}

	out := []string{}
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeStdio, ModeServer, ModeProcess, ModeSchedule:
	default:
		return errors.New("mode must be one of 'stdio', 'server', 'process' or 'schedule'")
	}

	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	u, err := url.Parse(c.PaperlessURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid paperless URL: %q", c.PaperlessURL)
	}

	for _, tag := range c.AddTags {
		if slices.Contains(c.RemoveTags, tag) {
			return fmt.Errorf("tag %q is both added and removed", tag)
		}
	}

	for _, dir := range []struct{ name, path string }{
		{"patterns", c.PatternsDir},
		{"state", c.StateDir},
	} {
		if dir.path == "" {
			return fmt.Errorf("%s directory cannot be empty", dir.name)
		}
		if _, err := os.Stat(dir.path); os.IsNotExist(err) {
			if err := os.MkdirAll(dir.path, DefaultDirPerm); err != nil {
				return fmt.Errorf("cannot create %s directory %s: %w", dir.name, dir.path, err)
			}
		} else if err != nil {
			return fmt.Errorf("cannot access %s directory %s: %w", dir.name, dir.path, err)
		}
	}

	if c.CacheEntries <= 0 {
		return errors.New("cache entries must be positive")
	}
	if c.CacheMaxBytes <= 0 {
		return errors.New("cache size limit must be positive")
	}

	if c.Mode == ModeSchedule && c.Schedule == "" {
		return errors.New("schedule mode needs a schedule")
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// DatabasePath is the location of the state database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "dissect.db")
}

// ResultsPath is where the report of the last run is written.
func (c *Config) ResultsPath() string {
	return filepath.Join(c.StateDir, "results.json")
}

// String returns a string representation of the configuration. The API
// token is masked.
func (c *Config) String() string {
	token := ""
	if c.PaperlessToken != "" {
		token = "***"
	}
	return fmt.Sprintf("Config{Mode: %s, Address: %s, PaperlessURL: %s, Token: %s, ForceSSL: %t, "+
		"RequiredTags: %v, ExcludedTags: %v, AddTags: %v, RemoveTags: %v, DryRun: %t, "+
		"PatternsDir: %s, StateDir: %s, Schedule: %q, LogLevel: %s}",
		c.Mode, c.Address(), c.PaperlessURL, token, c.PaperlessForceSSL,
		c.RequiredTags, c.ExcludedTags, c.AddTags, c.RemoveTags, c.DryRun,
		c.PatternsDir, c.StateDir, c.Schedule, c.LogLevel)
}

// IsServerMode returns true if MCP is served over HTTP
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if MCP is served over stdio
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
