package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/jsworker/internal/worker"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "jsworker.db"
	defaultEngine            = "goja"
	defaultDefaultEntrypoint = "load"
	defaultTimeout           = 30 * time.Second
	defaultQueueSize         = worker.DefaultQueueSize

	envConfigFile        = "JSWORKER_CONFIG"
	envListenAddr        = "JSWORKER_LISTEN_ADDR"
	envDBPath            = "JSWORKER_DB_PATH"
	envLogLevel          = "JSWORKER_LOG_LEVEL"
	envEngine            = "JSWORKER_ENGINE"
	envDefaultEntrypoint = "JSWORKER_DEFAULT_ENTRYPOINT"
	envTimeout           = "JSWORKER_TIMEOUT"
	envQueueSize         = "JSWORKER_QUEUE_SIZE"
)

// Config holds application configuration.
type Config struct {
	ListenAddr        string
	DBPath            string
	LogLevel          slog.Level
	Engine            string
	DefaultEntrypoint string
	Timeout           time.Duration
	QueueSize         int
}

// fileConfig is the YAML layout of the optional config file. Unset fields
// keep their defaults.
type fileConfig struct {
	ListenAddr        *string        `yaml:"listen_addr"`
	DBPath            *string        `yaml:"db_path"`
	LogLevel          *string        `yaml:"log_level"`
	Engine            *string        `yaml:"engine"`
	DefaultEntrypoint *string        `yaml:"default_entrypoint"`
	Timeout           *time.Duration `yaml:"timeout"`
	QueueSize         *int           `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		Engine:            defaultEngine,
		DefaultEntrypoint: defaultDefaultEntrypoint,
		Timeout:           defaultTimeout,
		QueueSize:         defaultQueueSize,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// JSWORKER_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != nil {
		c.ListenAddr = *fc.ListenAddr
	}
	if fc.DBPath != nil {
		c.DBPath = *fc.DBPath
	}
	if fc.LogLevel != nil {
		c.LogLevel = parseLogLevel(*fc.LogLevel)
	}
	if fc.Engine != nil {
		c.Engine = *fc.Engine
	}
	if fc.DefaultEntrypoint != nil {
		c.DefaultEntrypoint = *fc.DefaultEntrypoint
	}
	if fc.Timeout != nil {
		c.Timeout = *fc.Timeout
	}
	if fc.QueueSize != nil {
		c.QueueSize = *fc.QueueSize
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envEngine); v != "" {
		c.Engine = v
	}
	if v := os.Getenv(envDefaultEntrypoint); v != "" {
		c.DefaultEntrypoint = v
	}
	if v := os.Getenv(envTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envTimeout, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv(envQueueSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envQueueSize, err)
		}
		c.QueueSize = n
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.Engine == "" {
		return errors.New("engine must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative, got %d", c.QueueSize)
	}
	return nil
}

// WorkerOptions returns the worker options described by the configuration.
func (c Config) WorkerOptions(logger *slog.Logger) worker.Options {
	return worker.Options{
		DefaultEntrypoint: c.DefaultEntrypoint,
		Timeout:           c.Timeout,
		QueueSize:         c.QueueSize,
		Logger:            logger,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a human-readable logger for interactive commands.
func NewTextLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
