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
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/avenueworks/avenue/internal/store"
)

// ExpiryBuffer is the safety margin applied when checking token freshness.
// A token is treated as expired this long before its real expiry to absorb
// clock skew and round-trip latency.
const ExpiryBuffer = 5 * time.Minute

// TokenFresh reports whether a credential's access token is still usable at
// the given instant. A nil expiry means the token never expires.
func TokenFresh(creds *store.Credential, now time.Time) bool {
	if creds.ExpiresAt == nil {
		return true
	}
	return now.Add(ExpiryBuffer).Before(*creds.ExpiresAt)
}

// EnsureFresh returns a credential whose access token is valid at now,
// refreshing through the connector if needed.
//
// A refresh failure is terminal for the attempt: the caller receives an
// AUTH_ERROR and no provider action endpoint is contacted.
func EnsureFresh(ctx context.Context, c Connector, creds *store.Credential, now time.Time) (*store.Credential, error) {
	if creds == nil || creds.AccessToken == "" {
		return nil, NewAuthError("no credentials available", nil)
	}
	if creds.Stale {
		return nil, NewAuthError("credential requires a new authorization handshake", nil)
	}
	if TokenFresh(creds, now) {
		return creds, nil
	}

	refreshed, err := c.RefreshToken(ctx, creds)
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// oauthRefresher exchanges a stored refresh token for fresh token material
// against the provider's token endpoint.
type oauthRefresher struct {
	cfg *OAuthConfig
}

// Refresh performs the refresh-token exchange.
func (r *oauthRefresher) Refresh(ctx context.Context, creds *store.Credential) (*store.Credential, error) {
	if r.cfg == nil {
		return nil, NewAuthError("token expired and provider has no refresh flow", nil)
	}
	if creds.RefreshToken == "" {
		return nil, NewAuthError("token expired and no refresh token is available", nil)
	}

	clientID := os.Getenv(r.cfg.ClientIDEnv)
	clientSecret := os.Getenv(r.cfg.ClientSecretEnv)
	if clientID == "" || clientSecret == "" {
		return nil, NewAuthError(
			fmt.Sprintf("oauth client credentials not configured (%s, %s)", r.cfg.ClientIDEnv, r.cfg.ClientSecretEnv),
			nil)
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: r.cfg.TokenURL},
		Scopes:       r.cfg.Scopes,
	}

	// TokenSource seeded with only a refresh token always round-trips to
	// the token endpoint.
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, NewAuthError("token refresh rejected by provider", err)
	}

	now := time.Now().UTC()
	refreshed := *creds
	refreshed.AccessToken = token.AccessToken
	refreshed.TokenType = token.TokenType
	refreshed.LastRefreshedAt = &now
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		refreshed.ExpiresAt = &expiry
	}
	// Providers may rotate the refresh token on use
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}

	return &refreshed, nil
}

// noRefresh implements the default refresh behavior for providers without
// an OAuth flow: the current token either stands within its validity window
// or the attempt fails with an AUTH_ERROR.
type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context, creds *store.Credential) (*store.Credential, error) {
	if TokenFresh(creds, time.Now()) {
		return creds, nil
	}
	return nil, NewAuthError("token expired and provider does not support refresh", nil)
}
