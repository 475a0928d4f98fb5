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

package dispatch

import (
	"net/http"
	"time"

	"github.com/avenueworks/avenue/internal/connector"
)

// Request is one action dispatch: the intent to perform a single side
// effect against a provider on behalf of a workspace user.
type Request struct {
	// Provider is the connector provider key
	Provider string `json:"connectorKey"`

	// ActionType is the action type tag
	ActionType string `json:"actionType"`

	// Params is the action parameter bag
	Params map[string]any `json:"actionParams"`

	// WorkspaceID identifies the target workspace
	WorkspaceID string `json:"workspaceId"`

	// UserID is the requesting user
	UserID string `json:"userId"`

	// AgentRunID is the originating agent run, if any
	AgentRunID string `json:"agentRunId,omitempty"`

	// BypassApproval requests skipping the approval queue. Honored only
	// when the requesting user is a workspace admin.
	BypassApproval bool `json:"bypassApproval,omitempty"`
}

// RateLimitState reports rate limit standing to the caller.
type RateLimitState struct {
	// Remaining is how many executions are left in the window
	Remaining int `json:"remaining"`

	// ResetAt is when capacity becomes available again
	ResetAt time.Time `json:"resetAt"`
}

// Response is the structured outcome of one dispatch. Callers branch on
// ErrorCode, never on message text.
type Response struct {
	// Success reports whether the side effect completed
	Success bool `json:"success"`

	// ActionID identifies the audit log entry, or the queued action when
	// the dispatch is pending approval
	ActionID string `json:"actionId,omitempty"`

	// Pending reports the action was queued for approval; no side effect
	// has occurred
	Pending bool `json:"pending,omitempty"`

	// Result is the connector result payload
	Result map[string]any `json:"result,omitempty"`

	// Error is the human-readable failure description
	Error string `json:"error,omitempty"`

	// ErrorCode is the taxonomy code for branching
	ErrorCode connector.Code `json:"errorCode,omitempty"`

	// RateLimit reports limiter standing when relevant
	RateLimit *RateLimitState `json:"rateLimit,omitempty"`
}

// HTTPStatus maps a dispatch outcome onto an HTTP status code.
func (r *Response) HTTPStatus() int {
	if r.Pending {
		return http.StatusAccepted
	}
	if r.Success {
		return http.StatusOK
	}

	switch r.ErrorCode {
	case connector.CodeAccessDenied:
		return http.StatusForbidden
	case connector.CodeAuthError:
		return http.StatusUnauthorized
	case connector.CodeConnectorNotFound, connector.CodeWorkspaceConnectorNotFound:
		return http.StatusNotFound
	case connector.CodeValidationError:
		return http.StatusBadRequest
	case connector.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// failure builds an error response from a taxonomy code and message.
func failure(code connector.Code, message string) *Response {
	return &Response{Success: false, Error: message, ErrorCode: code}
}

// failureFrom builds an error response from a connector error, preserving
// retry information for rate limit failures.
func failureFrom(err error) *Response {
	if cerr, ok := err.(*connector.Error); ok {
		resp := failure(cerr.Code, cerr.Message)
		if cerr.Code == connector.CodeRateLimited && cerr.RetryAfter > 0 {
			resp.RateLimit = &RateLimitState{
				Remaining: 0,
				ResetAt:   time.Now().UTC().Add(time.Duration(cerr.RetryAfter) * time.Second),
			}
		}
		return resp
	}
	return failure(connector.CodeUnknown, err.Error())
}
