package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/finbot-ai/finbot/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	if l := New(cfg); l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestJSONFormatCarriesService(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.Logging{Level: "info", Format: "json", Service: "finbot"}, &buf)
	l.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output not JSON: %v (%q)", err, buf.String())
	}
	if record["service"] != "finbot" {
		t.Errorf("service = %v, want finbot", record["service"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.Logging{Level: "info", Format: "text", Service: "finbot"}, &buf)
	l.Info("hello")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("text format produced JSON: %q", out)
	}
	if !strings.Contains(out, "service=finbot") {
		t.Errorf("output %q missing service attribute", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
