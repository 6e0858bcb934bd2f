package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}

	if cfg.Pretty != false {
		t.Error("Expected default pretty to be false")
	}
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		level   LogLevel
		testMsg string
	}{
		{"info_level", LevelInfo, "cache entry stored"},
		{"debug_level", LevelDebug, "request deduplicated"},
		{"warn_level", LevelWarn, "rate limit store unavailable, failing open"},
		{"error_level", LevelError, "audit sink write failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Pretty: false, Output: buf})

			switch tt.level {
			case LevelDebug:
				logger.Debug().Msg(tt.testMsg)
			case LevelInfo:
				logger.Info().Msg(tt.testMsg)
			case LevelWarn:
				logger.Warn().Msg(tt.testMsg)
			case LevelError:
				logger.Error().Msg(tt.testMsg)
			}

			output := buf.String()
			if !strings.Contains(output, tt.testMsg) {
				t.Errorf("Expected output to contain %q, got %q", tt.testMsg, output)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

// TestNewLogger checks the component field every package logger carries, the
// same field the cache, ratelimit and pipeline packages tag their events with.
func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("ratelimit")
	logger.Warn().Str("tier", "anonymous").Msg("request blocked")

	var event map[string]any
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if event["component"] != "ratelimit" {
		t.Errorf("component = %v, want ratelimit", event["component"])
	}
	if event["tier"] != "anonymous" {
		t.Errorf("tier = %v, want anonymous", event["tier"])
	}
	if event["message"] != "request blocked" {
		t.Errorf("message = %v, want 'request blocked'", event["message"])
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{
		Level:  LevelWarn,
		Pretty: false,
		Output: buf,
	})

	logger := NewLogger("cache")

	// These should NOT appear (below warn level)
	logger.Debug().Msg("cache hit")
	logger.Info().Msg("cache entry stored")

	// These SHOULD appear (warn level and above)
	logger.Warn().Msg("cache backend error, serving miss")
	logger.Error().Msg("cache flush failed")

	output := buf.String()

	if strings.Contains(output, "cache hit") {
		t.Error("Debug message should be filtered out at Warn level")
	}
	if strings.Contains(output, "cache entry stored") {
		t.Error("Info message should be filtered out at Warn level")
	}
	if !strings.Contains(output, "serving miss") {
		t.Error("Warn message should be included at Warn level")
	}
	if !strings.Contains(output, "cache flush failed") {
		t.Error("Error message should be included at Warn level")
	}
}
