package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/goodtune/presenced/internal/config"
)

func TestSetupLoggerFormats(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		wantJSON bool
	}{
		{"console", "console", false},
		{"text alias", "text", false},
		{"json", "json", true},
		{"empty defaults to json", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := setupLogger(config.LoggingConfig{Level: "info", Format: tt.format}, &buf)
			logger.Info().Str("component", "test").Msg("startup")

			out := strings.TrimSpace(buf.String())
			if out == "" {
				t.Fatal("logger produced no output")
			}

			var decoded map[string]any
			gotJSON := json.Unmarshal([]byte(out), &decoded) == nil
			if gotJSON != tt.wantJSON {
				t.Errorf("format %q: JSON output = %v, want %v (output: %s)", tt.format, gotJSON, tt.wantJSON, out)
			}
			if !strings.Contains(out, "startup") {
				t.Errorf("output missing message: %s", out)
			}
		})
	}
}
