package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

func loggerSettings(level, format string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if level != "" {
		v.Set("logging.level", level)
	}
	if format != "" {
		v.Set("logging.format", format)
	}
	return v
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantErr   string
		wantDebug bool
	}{
		{name: "defaults"},
		{name: "debug json", level: "debug", format: "json", wantDebug: true},
		{name: "warn console", level: "warn", format: "console"},
		{name: "invalid level", level: "banana", wantErr: "invalid log level"},
		{name: "invalid format", format: "xml", wantErr: "invalid log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(loggerSettings(tt.level, tt.format))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewLogger() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if !logger.Core().Enabled(zapcore.ErrorLevel) {
				t.Error("error level not enabled")
			}
		})
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilethost.log")
	v := loggerSettings("info", "console")
	v.Set("logging.file", path)

	logger, err := NewLogger(v)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Debug("hidden")
	logger.Info("loaded")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("log file has %d lines, want 1:\n%s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "loaded" || entry["service"] != "pilethost" {
		t.Errorf("entry = %v", entry)
	}
}
