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

// Package store implements persistence for the action execution engine.
//
// The store owns every durable record the dispatcher touches: per-workspace
// provider credentials (encrypted at rest), workspace connector activations
// and their health, the approval queue, the append-only action log, and
// workspace memberships.
//
// Key concepts:
//   - Credential: OAuth-style token material for one (workspace, provider) pair
//   - WorkspaceConnector: activation record binding a provider to a workspace
//   - QueuedAction: an agent-proposed action awaiting human or policy approval
//   - ActionLogEntry: the permanent record of one execution attempt
package store

import (
	"time"
)

// Credential holds OAuth-style token material for one (workspace, provider)
// pair. Token fields are encrypted before they reach disk and decrypted on
// load; callers always see cleartext.
type Credential struct {
	// ID is the unique credential identifier
	ID string `json:"id"`

	// WorkspaceID identifies the owning workspace
	WorkspaceID string `json:"workspace_id"`

	// Provider is the connector provider key (mailbox, calendar, listings)
	Provider string `json:"provider"`

	// AccessToken is the bearer token presented to the provider
	AccessToken string `json:"-"`

	// RefreshToken is the optional OAuth refresh token
	RefreshToken string `json:"-"`

	// TokenType is the token scheme, typically "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresAt is when the access token expires.
	// Nil means the token never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Scope is the granted OAuth scope
	Scope string `json:"scope,omitempty"`

	// LastRefreshedAt is when the token was last refreshed
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`

	// Stale is set when the credential persistently fails auth and needs
	// a new OAuth handshake to recover
	Stale bool `json:"stale"`
}

// ConnectorStatus represents the health of a workspace connector.
type ConnectorStatus string

const (
	// ConnectorActive indicates the connector is healthy and usable
	ConnectorActive ConnectorStatus = "active"

	// ConnectorError indicates the last execution failed
	ConnectorError ConnectorStatus = "error"

	// ConnectorDisabled indicates a workspace admin turned the connector off
	ConnectorDisabled ConnectorStatus = "disabled"
)

// WorkspaceConnector is the activation record binding a connector provider to
// a workspace. Health fields are advisory: updates are last-writer-wins under
// concurrent dispatches.
type WorkspaceConnector struct {
	// ID is the unique identifier
	ID string `json:"id"`

	// WorkspaceID identifies the workspace
	WorkspaceID string `json:"workspace_id"`

	// Provider is the connector provider key
	Provider string `json:"provider"`

	// Status is the current health state
	Status ConnectorStatus `json:"status"`

	// AutoApprove allows agent-requested actions to execute without a
	// human approval step
	AutoApprove bool `json:"auto_approve"`

	// ErrorCount is the rolling count of consecutive failed executions
	ErrorCount int `json:"error_count"`

	// LastError is the most recent failure message
	LastError string `json:"last_error,omitempty"`

	// LastSyncedAt is the time of the last successful execution
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// CreatedAt is when the connector was activated
	CreatedAt time.Time `json:"created_at"`
}

// QueueStatus represents the lifecycle state of a queued action.
type QueueStatus string

const (
	// QueuePending means the action awaits an approval decision
	QueuePending QueueStatus = "pending"

	// QueueApproved means a human or policy approved the action
	QueueApproved QueueStatus = "approved"

	// QueueRejected means the action was declined and will never execute
	QueueRejected QueueStatus = "rejected"

	// QueueExecuted means one execution attempt was made for the approved
	// action. The attempt's outcome, success or failure, is recorded in
	// the action log, not here.
	QueueExecuted QueueStatus = "executed"
)

// QueuedAction is a persisted action request awaiting approval.
//
// Lifecycle invariant: pending -> approved -> executed, or
// pending -> rejected. The store rejects any other transition.
type QueuedAction struct {
	// ID is the unique identifier
	ID string `json:"id"`

	// WorkspaceID identifies the workspace
	WorkspaceID string `json:"workspace_id"`

	// UserID is the requesting user
	UserID string `json:"user_id"`

	// Provider is the connector provider key
	Provider string `json:"provider"`

	// ActionType is the action type tag (send_email, create_event, ...)
	ActionType string `json:"action_type"`

	// Params is the action parameter bag
	Params map[string]any `json:"params"`

	// Status is the lifecycle state
	Status QueueStatus `json:"status"`

	// AgentRunID is the originating agent run, if any
	AgentRunID string `json:"agent_run_id,omitempty"`

	// DecidedBy is the user who approved or rejected the action
	DecidedBy string `json:"decided_by,omitempty"`

	// DecidedAt is when the approval decision was made
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// CreatedAt is when the action was proposed
	CreatedAt time.Time `json:"created_at"`
}

// LogStatus represents the execution state of an action log entry.
type LogStatus string

const (
	// LogPending means the entry was recorded but execution has not started
	LogPending LogStatus = "pending"

	// LogExecuting means the connector call is in flight
	LogExecuting LogStatus = "executing"

	// LogCompleted means the connector call succeeded
	LogCompleted LogStatus = "completed"

	// LogFailed means the connector call failed
	LogFailed LogStatus = "failed"
)

// ActionLogEntry is one row of the permanent audit trail: a single execution
// attempt and its outcome. Entries are appended and updated, never deleted by
// the engine.
type ActionLogEntry struct {
	// ID is the unique identifier, returned to callers as the action id
	ID string `json:"id"`

	// WorkspaceID identifies the workspace
	WorkspaceID string `json:"workspace_id"`

	// UserID is the requesting user
	UserID string `json:"user_id"`

	// Provider is the connector provider key
	Provider string `json:"provider"`

	// ActionType is the action type tag
	ActionType string `json:"action_type"`

	// Params is the parameter bag as submitted
	Params map[string]any `json:"params"`

	// Status is the execution state
	Status LogStatus `json:"status"`

	// Result is the connector result payload (for completed entries)
	Result map[string]any `json:"result,omitempty"`

	// Error is the failure message (for failed entries)
	Error string `json:"error,omitempty"`

	// AgentRunID is the originating agent run, if any
	AgentRunID string `json:"agent_run_id,omitempty"`

	// StartedAt is when the entry was created
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the attempt reached a terminal state
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Role identifies a member's privilege level inside a workspace.
type Role string

const (
	// RoleMember is an ordinary workspace member
	RoleMember Role = "member"

	// RoleAdmin can manage connectors and bypass the approval queue
	RoleAdmin Role = "admin"
)

// Membership binds a user to a workspace with a role.
type Membership struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Role        Role   `json:"role"`
}
