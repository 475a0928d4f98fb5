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
	"context"
	"strings"
	"time"

	"github.com/avenueworks/avenue/internal/store"
)

// refresher abstracts the token refresh strategy behind a provider variant.
type refresher interface {
	Refresh(ctx context.Context, creds *store.Credential) (*store.Credential, error)
}

// route maps a validated action's parameters onto an HTTP request shape.
type route func(params map[string]any) (method, path string, body map[string]any)

// restConnector is the shared implementation behind every REST provider
// variant. A variant supplies its provider key, parameter specs, and routes.
// Validation, credential freshness, the single refresh of an expired token,
// HTTP execution, and error translation live here.
type restConnector struct {
	def       *Definition
	client    *providerClient
	refresher refresher
	specs     map[string]*paramSpec
	routes    map[string]route
	now       func() time.Time
}

func newRESTConnector(def *Definition, specs map[string]*paramSpec, routes map[string]route) *restConnector {
	var r refresher = noRefresh{}
	if def.UsesOAuth {
		r = &oauthRefresher{cfg: def.OAuth}
	}

	return &restConnector{
		def:       def,
		client:    newProviderClient(def),
		refresher: r,
		specs:     specs,
		routes:    routes,
		now:       time.Now,
	}
}

// Provider returns the provider key.
func (c *restConnector) Provider() string {
	return c.def.Provider
}

// SupportedActions returns the static action type set.
func (c *restConnector) SupportedActions() []string {
	return actionNames(c.specs)
}

// Validate checks an action type and parameter bag. Pure; no network calls.
func (c *restConnector) Validate(actionType string, params map[string]any) *Validation {
	return validateAction(c.specs, actionType, params)
}

// RefreshToken exchanges the stored refresh token for fresh material.
func (c *restConnector) RefreshToken(ctx context.Context, creds *store.Credential) (*store.Credential, error) {
	return c.refresher.Refresh(ctx, creds)
}

// Execute performs exactly one side effect against the provider.
func (c *restConnector) Execute(ctx context.Context, actionType string, params map[string]any, creds *store.Credential) (*Result, error) {
	// The dispatcher validates too, but bad input must be rejected here
	// before any network call is made.
	if v := c.Validate(actionType, params); !v.Valid {
		return nil, NewValidationError(strings.Join(v.Errors, "; "))
	}

	fresh, err := EnsureFresh(ctx, c, creds, c.now())
	if err != nil {
		return nil, err
	}

	build := c.routes[actionType]
	method, path, body := build(params)

	data, rateLimit, err := c.client.doJSON(ctx, method, path, body, fresh.AccessToken, fresh.TokenType)
	if err != nil {
		return nil, err
	}

	result := &Result{Data: data, RateLimit: rateLimit}
	if fresh != creds {
		result.Refreshed = fresh
	}
	return result, nil
}
