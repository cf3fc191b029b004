package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Service: "cashflow", Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Str("owner_id", "owner-1").Msg("materialized")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected debug to be filtered, got %d lines: %s", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["service"] != "cashflow" || entry["owner_id"] != "owner-1" || entry["message"] != "materialized" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("expected timestamp field")
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "console", Output: &buf})

	log.Debug().Msg("run started")

	if !strings.Contains(buf.String(), "run started") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
	if strings.HasPrefix(buf.String(), "{") {
		t.Fatal("expected human-readable output")
	}
}
