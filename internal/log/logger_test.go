// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("dispatching action", slog.String(ProviderKey, "mailbox"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "dispatching action" {
		t.Errorf("msg = %v, want %q", entry["msg"], "dispatching action")
	}
	if entry[ProviderKey] != "mailbox" {
		t.Errorf("provider = %v, want mailbox", entry[ProviderKey])
	}
}

func TestWithAction(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	WithAction(logger, "act_123", "send_email").Debug("validated")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry[ActionIDKey] != "act_123" {
		t.Errorf("action_id = %v, want act_123", entry[ActionIDKey])
	}
	if entry[ActionTypeKey] != "send_email" {
		t.Errorf("action_type = %v, want send_email", entry[ActionTypeKey])
	}
}

func TestDurationSuffixesUnit(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("action completed", Duration("duration", 42))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["duration_ms"] != float64(42) {
		t.Errorf("duration_ms = %v, want 42", entry["duration_ms"])
	}
	if _, ok := entry["duration_ms_ms"]; ok {
		t.Error("key must carry a single unit suffix")
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"long token", "ya29.a0AfH6SMD4qxyz", "...qxyz"},
		{"short token", "abc", "[REDACTED]"},
		{"empty", "", "[REDACTED]"},
		{"exactly four", "abcd", "[REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeToken(tt.token); got != tt.want {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestSanitizeSecret(t *testing.T) {
	if got := SanitizeSecret("super-secret-refresh-token"); got != "[REDACTED]" {
		t.Errorf("SanitizeSecret = %q, want [REDACTED]", got)
	}
}
