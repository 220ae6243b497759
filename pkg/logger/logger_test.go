package logger

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"postvault/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{
			name:    "valid config with info level",
			cfg:     &config.LoggingConfig{Level: "info"},
			wantErr: false,
		},
		{
			name:    "valid config with debug level",
			cfg:     &config.LoggingConfig{Level: "debug"},
			wantErr: false,
		},
		{
			name:    "json format",
			cfg:     &config.LoggingConfig{Level: "info", Format: "json"},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			cfg:     &config.LoggingConfig{Level: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestNewWithFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "postvault.log")
	logger, err := New(&config.LoggingConfig{Level: "info", File: logFile})
	if err != nil {
		t.Fatalf("New() with file output failed: %v", err)
	}
	logger.Info("written to file")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"fatal", zerolog.FatalLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"bogus", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if !tt.wantErr && level != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, level, tt.expected)
			}
		})
	}
}

func TestTestLoggerCapture(t *testing.T) {
	log := NewTestLogger()

	log.Info("plain message")
	log.WithField("platform", "telegram").Warn("tagged message")
	log.WithFields(map[string]interface{}{"a": 1, "b": 2}).Error("two fields")

	msgs := log.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 captured messages, got %d", len(msgs))
	}
	if !log.HasMessage("plain message") {
		t.Error("expected plain message to be captured")
	}
	if got := msgs[1].Fields["platform"]; got != "telegram" {
		t.Errorf("expected platform field on derived logger, got %v", got)
	}
	if len(log.MessagesByLevel("ERROR")) != 1 {
		t.Error("expected one ERROR message")
	}

	log.Clear()
	if len(log.Messages()) != 0 {
		t.Error("expected no messages after Clear")
	}
}

func TestTestLoggerDerivedShareCapture(t *testing.T) {
	root := NewTestLogger()
	child := root.WithField("component", "extractor")

	child.Info("from child")

	if !root.HasMessage("from child") {
		t.Error("expected child messages to land in the root capture buffer")
	}
}
