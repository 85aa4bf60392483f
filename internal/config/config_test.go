package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envConfigFile, envListenAddr, envDBPath, envLogLevel,
		envEngine, envDefaultEntrypoint, envTimeout, envQueueSize,
	} {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jsworker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.Engine != "goja" {
		t.Errorf("Engine = %q, want goja", cfg.Engine)
	}
	if cfg.DefaultEntrypoint != "load" {
		t.Errorf("DefaultEntrypoint = %q, want load", cfg.DefaultEntrypoint)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.QueueSize != 64 {
		t.Errorf("QueueSize = %d, want 64", cfg.QueueSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envEngine, "quickjs")
	t.Setenv(envDefaultEntrypoint, "main")
	t.Setenv(envTimeout, "5s")
	t.Setenv(envQueueSize, "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.Engine != "quickjs" || cfg.DefaultEntrypoint != "main" {
		t.Errorf("Engine/DefaultEntrypoint = %q/%q", cfg.Engine, cfg.DefaultEntrypoint)
	}
	if cfg.Timeout != 5*time.Second || cfg.QueueSize != 8 {
		t.Errorf("Timeout/QueueSize = %v/%d", cfg.Timeout, cfg.QueueSize)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{envTimeout, "soon"},
		{envTimeout, "-1s"},
		{envQueueSize, "many"},
		{envQueueSize, "-2"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q succeeded, want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
listen_addr: ":7070"
engine: quickjs
timeout: 750ms
queue_size: 16
log_level: warn
`)
	t.Setenv(envConfigFile, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070", cfg.ListenAddr)
	}
	if cfg.Engine != "quickjs" {
		t.Errorf("Engine = %q, want quickjs", cfg.Engine)
	}
	if cfg.Timeout != 750*time.Millisecond {
		t.Errorf("Timeout = %v, want 750ms", cfg.Timeout)
	}
	if cfg.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", cfg.QueueSize)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want default", cfg.DBPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigFile, writeConfigFile(t, "engine: quickjs\n"))
	t.Setenv(envEngine, "goja")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine != "goja" {
		t.Errorf("Engine = %q, want env value goja", cfg.Engine)
	}
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigFile, writeConfigFile(t, "enigne: goja\n"))

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "enigne") {
		t.Errorf("error %q does not name the unknown field", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigFile, writeConfigFile(t, ""))

	if _, err := Load(); err != nil {
		t.Fatalf("Load with empty file: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}

	noEngine := Default()
	noEngine.Engine = ""
	if err := noEngine.Validate(); err == nil {
		t.Error("expected error for empty engine")
	}

	zeroTimeout := Default()
	zeroTimeout.Timeout = 0
	if err := zeroTimeout.Validate(); err == nil {
		t.Error("expected error for zero timeout")
	}
}

func TestWorkerOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.WorkerOptions(nil)
	if opts.Timeout != cfg.Timeout || opts.DefaultEntrypoint != cfg.DefaultEntrypoint || opts.QueueSize != cfg.QueueSize {
		t.Errorf("WorkerOptions = %+v, want values from %+v", opts, cfg)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	NewTextLogger(&buf, slog.LevelWarn).Info("hidden")
	NewTextLogger(&buf, slog.LevelWarn).Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "key=value") {
		t.Errorf("text output = %q", out)
	}
}
