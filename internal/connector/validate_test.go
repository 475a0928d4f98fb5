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

package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailboxValidate(t *testing.T) {
	conn := NewMailbox(&Definition{Provider: "mailbox", BaseURL: "http://mail.test"})

	tests := []struct {
		name       string
		actionType string
		params     map[string]any
		valid      bool
		wantErrs   []string
	}{
		{
			name:       "valid send_email",
			actionType: "send_email",
			params: map[string]any{
				"to":      "alice@example.com",
				"subject": "hello",
				"body":    "world",
			},
			valid: true,
		},
		{
			name:       "missing required parameters accumulate",
			actionType: "send_email",
			params:     map[string]any{"to": "alice@example.com"},
			valid:      false,
			wantErrs: []string{
				`missing required parameter "subject"`,
				`missing required parameter "body"`,
			},
		},
		{
			name:       "bad email address",
			actionType: "send_email",
			params: map[string]any{
				"to":      "not-an-address",
				"subject": "hello",
				"body":    "world",
			},
			valid:    false,
			wantErrs: []string{`parameter "to" is not a valid email address`},
		},
		{
			name:       "unknown parameter rejected",
			actionType: "send_email",
			params: map[string]any{
				"to":      "alice@example.com",
				"subject": "hello",
				"body":    "world",
				"priority": "high",
			},
			valid:    false,
			wantErrs: []string{`unknown parameter "priority"`},
		},
		{
			name:       "unsupported action type",
			actionType: "delete_mailbox",
			params:     map[string]any{},
			valid:      false,
			wantErrs:   []string{`unsupported action type "delete_mailbox"`},
		},
		{
			name:       "optional list parameter checked",
			actionType: "send_email",
			params: map[string]any{
				"to":      "alice@example.com",
				"subject": "hello",
				"body":    "world",
				"cc":      []any{"bob@example.com", 42},
			},
			valid:    false,
			wantErrs: []string{`parameter "cc" must contain only strings`},
		},
		{
			name:       "list_messages with no parameters",
			actionType: "list_messages",
			params:     map[string]any{},
			valid:      true,
		},
		{
			name:       "json-decoded integer accepted",
			actionType: "list_messages",
			params:     map[string]any{"max_results": float64(10)},
			valid:      true,
		},
		{
			name:       "fractional number rejected as integer",
			actionType: "list_messages",
			params:     map[string]any{"max_results": 2.5},
			valid:      false,
			wantErrs:   []string{`parameter "max_results" must be an integer`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := conn.Validate(tt.actionType, tt.params)
			assert.Equal(t, tt.valid, v.Valid)
			for _, want := range tt.wantErrs {
				assert.Contains(t, v.Errors, want)
			}
		})
	}
}

func TestCalendarValidateTimestamps(t *testing.T) {
	conn := NewCalendar(&Definition{Provider: "calendar", BaseURL: "http://cal.test"})

	v := conn.Validate("create_event", map[string]any{
		"title": "standup",
		"start": "2025-06-01T09:00:00Z",
		"end":   "2025-06-01T09:15:00Z",
	})
	assert.True(t, v.Valid)

	v = conn.Validate("create_event", map[string]any{
		"title": "standup",
		"start": "tomorrow at 9",
		"end":   "2025-06-01T09:15:00Z",
	})
	assert.False(t, v.Valid)
	assert.Contains(t, v.Errors, `parameter "start" is not a valid RFC 3339 timestamp`)
}

func TestSupportedActions(t *testing.T) {
	mailbox := NewMailbox(&Definition{Provider: "mailbox"})
	assert.ElementsMatch(t, []string{"send_email", "create_draft", "list_messages"}, mailbox.SupportedActions())

	listings := NewListings(&Definition{Provider: "listings"})
	assert.ElementsMatch(t, []string{"search_listings", "get_listing"}, listings.SupportedActions())
}
