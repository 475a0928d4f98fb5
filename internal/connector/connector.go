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

// Package connector provides the polymorphic contract between the dispatcher
// and external providers.
//
// A Connector turns a validated action (type tag + parameter bag) plus a
// workspace credential into exactly one side effect against a provider.
// Connectors translate provider-specific failures into the shared error
// taxonomy and never retry beyond a single refresh-and-retry of an expired
// token; broader retry policy belongs to the caller.
package connector

import (
	"context"
	"time"

	"github.com/avenueworks/avenue/internal/store"
)

// Connector is the capability set one provider exposes to the dispatcher.
// One variant exists per provider (mailbox, calendar, listings); adding a
// provider means adding a variant and a registry entry, not modifying the
// dispatcher.
type Connector interface {
	// Provider returns the provider key this connector handles.
	Provider() string

	// SupportedActions returns the static set of action type tags.
	SupportedActions() []string

	// Validate checks an action type and parameter bag before any network
	// call. Unknown action types and missing or mistyped required
	// parameters are reported, never returned as errors.
	Validate(actionType string, params map[string]any) *Validation

	// Execute performs the side effect. It re-checks token freshness
	// before calling out and translates provider failures into the shared
	// taxonomy. Exactly one execution attempt per call.
	Execute(ctx context.Context, actionType string, params map[string]any, creds *store.Credential) (*Result, error)

	// RefreshToken exchanges a refresh token for fresh token material.
	// Connectors without an OAuth flow return an AUTH_ERROR when asked to
	// refresh an expired credential.
	RefreshToken(ctx context.Context, creds *store.Credential) (*store.Credential, error)
}

// Definition is the static catalog entry for a provider. Read-only at
// runtime relative to the engine.
type Definition struct {
	// Provider is the provider key (mailbox, calendar, listings)
	Provider string `yaml:"provider" json:"provider"`

	// Name is the human-readable connector name
	Name string `yaml:"name" json:"name"`

	// BaseURL is the provider API base URL
	BaseURL string `yaml:"base_url" json:"base_url"`

	// RateLimitPerHour is the declared hourly execution quota per workspace
	RateLimitPerHour int `yaml:"rate_limit_per_hour" json:"rate_limit_per_hour"`

	// RequiresApproval requires a human approval step by default
	RequiresApproval bool `yaml:"requires_approval" json:"requires_approval"`

	// UsesOAuth indicates the provider authenticates via OAuth tokens
	UsesOAuth bool `yaml:"uses_oauth" json:"uses_oauth"`

	// OAuth holds the token refresh endpoint configuration
	OAuth *OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`

	// TimeoutSeconds bounds each provider call. Defaults to 30.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// OAuthConfig configures the refresh-token exchange for a provider.
// Client secrets are sourced from the environment, never from the catalog
// file itself.
type OAuthConfig struct {
	// TokenURL is the OAuth2 token endpoint
	TokenURL string `yaml:"token_url" json:"token_url"`

	// ClientIDEnv names the environment variable holding the client id
	ClientIDEnv string `yaml:"client_id_env" json:"client_id_env"`

	// ClientSecretEnv names the environment variable holding the client secret
	ClientSecretEnv string `yaml:"client_secret_env" json:"client_secret_env"`

	// Scopes are the OAuth2 scopes requested on refresh
	Scopes []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Timeout returns the per-call timeout for this definition.
func (d *Definition) Timeout() time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// Validation is the outcome of parameter validation. Failures are reported
// here, never thrown.
type Validation struct {
	// Valid is true when the action may proceed to execution
	Valid bool `json:"valid"`

	// Errors lists every validation failure found
	Errors []string `json:"errors,omitempty"`
}

// Invalid builds a failed validation from messages.
func Invalid(errors ...string) *Validation {
	return &Validation{Valid: false, Errors: errors}
}

// Valid returns a passing validation.
func ValidOK() *Validation {
	return &Validation{Valid: true}
}

// Result represents the outcome of a successful connector execution.
// Failures are returned as *Error, not encoded here.
type Result struct {
	// Data is the provider response payload, normalized to a map
	Data map[string]any `json:"data,omitempty"`

	// RateLimit carries provider-reported rate limit state, if any
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`

	// Refreshed carries rotated token material when the execution
	// refreshed the credential. The dispatcher persists it; it is never
	// serialized to callers.
	Refreshed *store.Credential `json:"-"`
}

// RateLimitInfo carries provider-reported rate limit headers.
type RateLimitInfo struct {
	// Remaining is how many calls the provider will still accept
	Remaining int `json:"remaining"`

	// ResetAt is when the provider window resets
	ResetAt time.Time `json:"reset_at"`
}
