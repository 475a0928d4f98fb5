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

package store

import (
	"log/slog"
)

// AuditEventType identifies the kind of audit event.
type AuditEventType string

const (
	// EventCredentialAccessed is logged when credential token material is read
	EventCredentialAccessed AuditEventType = "credential.accessed"

	// EventCredentialSaved is logged when a credential is created or rotated
	EventCredentialSaved AuditEventType = "credential.saved"

	// EventCredentialStale is logged when a credential is invalidated
	EventCredentialStale AuditEventType = "credential.stale"

	// EventActionQueued is logged when an action enters the approval queue
	EventActionQueued AuditEventType = "action.queued"

	// EventActionTransitioned is logged on every approval queue transition
	EventActionTransitioned AuditEventType = "action.transitioned"
)

// AuditLogger emits structured audit events for credential access and
// approval queue transitions. Event payloads never include token values,
// only identifiers.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an audit logger on top of a structured logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With("component", "store.audit")}
}

// CredentialAccessed records a read of credential token material.
func (a *AuditLogger) CredentialAccessed(workspaceID, provider string) {
	a.logger.Info("credential accessed",
		slog.String("event", string(EventCredentialAccessed)),
		slog.String("workspace_id", workspaceID),
		slog.String("provider", provider),
	)
}

// CredentialSaved records a credential create or rotation.
func (a *AuditLogger) CredentialSaved(workspaceID, provider string) {
	a.logger.Info("credential saved",
		slog.String("event", string(EventCredentialSaved)),
		slog.String("workspace_id", workspaceID),
		slog.String("provider", provider),
	)
}

// CredentialMarkedStale records a credential invalidation.
func (a *AuditLogger) CredentialMarkedStale(workspaceID, provider string) {
	a.logger.Warn("credential marked stale",
		slog.String("event", string(EventCredentialStale)),
		slog.String("workspace_id", workspaceID),
		slog.String("provider", provider),
	)
}

// ActionQueued records an action entering the approval queue.
func (a *AuditLogger) ActionQueued(qa *QueuedAction) {
	a.logger.Info("action queued for approval",
		slog.String("event", string(EventActionQueued)),
		slog.String("queued_action_id", qa.ID),
		slog.String("workspace_id", qa.WorkspaceID),
		slog.String("provider", qa.Provider),
		slog.String("action_type", qa.ActionType),
		slog.String("agent_run_id", qa.AgentRunID),
	)
}

// ActionTransitioned records an approval queue state change.
func (a *AuditLogger) ActionTransitioned(id string, from, to QueueStatus, decidedBy string) {
	a.logger.Info("queued action transitioned",
		slog.String("event", string(EventActionTransitioned)),
		slog.String("queued_action_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("decided_by", decidedBy),
	)
}
