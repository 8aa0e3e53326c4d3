package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/0x-ximon/portman/bots/internal/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"shout", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := logging.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Options{Level: "info", Format: "json", Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Int("bot_id", 3).Msg("bot connected")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["message"] != "bot connected" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["bot_id"] != float64(3) {
		t.Errorf("bot_id = %v, want 3", entry["bot_id"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("time field missing")
	}
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Options{Format: "text", Output: &buf})

	log.Warn().Str("kind", "timeout").Msg("bot failed")

	out := buf.String()
	if !strings.Contains(out, "bot failed") || !strings.Contains(out, "kind=") {
		t.Errorf("console output = %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Error("text format produced JSON")
	}
}
