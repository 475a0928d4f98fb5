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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// sensitiveHeaders are headers that must not be overridden by caller input.
var sensitiveHeaders = map[string]bool{
	"content-length":    true,
	"content-encoding":  true,
	"transfer-encoding": true,
	"host":              true,
}

// sanitizeHeaderValue checks for header injection attempts.
// Returns an error if the value contains CR, LF, or null bytes.
func sanitizeHeaderValue(name, value string) error {
	for i, c := range value {
		if c == '\r' || c == '\n' || c == '\x00' {
			return fmt.Errorf("header %q contains invalid character at position %d", name, i)
		}
	}
	return nil
}

// providerClient is the shared HTTP execution helper behind every provider
// variant. It owns timeout enforcement, auth header application, response
// parsing, and translation of provider failures into the shared taxonomy.
type providerClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// newProviderClient creates a client for a provider definition.
func newProviderClient(def *Definition) *providerClient {
	return &providerClient{
		baseURL: strings.TrimSuffix(def.BaseURL, "/"),
		client:  &http.Client{Timeout: def.Timeout()},
	}
}

// doJSON sends a JSON request with bearer auth and returns the decoded
// response body plus any provider-reported rate limit state.
func (c *providerClient) doJSON(ctx context.Context, method, path string, body map[string]any, accessToken, tokenType string) (map[string]any, *RateLimitInfo, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, NewValidationError(fmt.Sprintf("failed to marshal request body: %v", err))
		}
		bodyReader = bytes.NewReader(data)
	}

	requestURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, nil, NewUnknownError(err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", fmt.Sprintf("%s %s", tokenType, accessToken))

	for key, value := range c.headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			return nil, nil, NewValidationError(fmt.Sprintf("cannot override protected header %q", key))
		}
		if err := sanitizeHeaderValue(key, value); err != nil {
			return nil, nil, NewValidationError(err.Error())
		}
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil, NewUnknownError(fmt.Errorf("provider call timed out: %w", err))
		}
		return nil, nil, NewUnknownError(fmt.Errorf("provider call failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, NewUnknownError(fmt.Errorf("failed to read provider response: %w", err))
	}

	rateLimit := parseRateLimitHeaders(resp.Header)

	if resp.StatusCode >= 400 {
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			retryAfter, _ = strconv.Atoi(ra)
		}
		return nil, rateLimit, FromHTTPStatus(resp.StatusCode, http.StatusText(resp.StatusCode), retryAfter)
	}

	if len(respBody) == 0 {
		return map[string]any{}, rateLimit, nil
	}

	var data map[string]any
	if err := json.Unmarshal(respBody, &data); err != nil {
		// Some endpoints return a bare JSON array
		var list []any
		if listErr := json.Unmarshal(respBody, &list); listErr == nil {
			return map[string]any{"items": list}, rateLimit, nil
		}
		return nil, rateLimit, NewParseError("provider returned malformed JSON", err)
	}

	return data, rateLimit, nil
}

// parseRateLimitHeaders extracts provider rate limit state from the
// conventional X-RateLimit-* headers. Returns nil when absent.
func parseRateLimitHeaders(h http.Header) *RateLimitInfo {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	info := &RateLimitInfo{}
	info.Remaining, _ = strconv.Atoi(remaining)

	if reset := h.Get("X-RateLimit-Reset"); reset != "" {
		if unix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.ResetAt = time.Unix(unix, 0).UTC()
		}
	}

	return info
}
