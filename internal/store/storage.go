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
	"context"
	"errors"
	"time"
)

var (
	// ErrCredentialNotFound is returned when no credential exists for a
	// (workspace, provider) pair
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrConnectorNotFound is returned when a workspace connector doesn't exist
	ErrConnectorNotFound = errors.New("workspace connector not found")

	// ErrQueuedActionNotFound is returned when a queued action doesn't exist
	ErrQueuedActionNotFound = errors.New("queued action not found")

	// ErrLogEntryNotFound is returned when an action log entry doesn't exist
	ErrLogEntryNotFound = errors.New("action log entry not found")

	// ErrInvalidTransition is returned when a queued action transition
	// violates the pending -> approved/rejected -> executed lifecycle
	ErrInvalidTransition = errors.New("invalid queued action transition")
)

// Storage defines the persistence interface for the execution engine.
//
// Implementations:
//   - SQLite: embedded storage (WAL mode), the default deployment
//
// The storage layer handles:
//   - Encryption/decryption of credential token material
//   - Queued action lifecycle transition guards
//   - Append/update semantics for the action log
//   - Audit logging of credential access
type Storage interface {
	// Credential operations

	// GetCredential retrieves the credential for a (workspace, provider) pair.
	// Token fields are decrypted before return.
	// Returns ErrCredentialNotFound if none exists.
	GetCredential(ctx context.Context, workspaceID, provider string) (*Credential, error)

	// SaveCredential inserts or replaces the credential for its
	// (workspace, provider) pair. Token fields are encrypted before storage.
	SaveCredential(ctx context.Context, cred *Credential) error

	// MarkCredentialStale flags a credential as needing a new OAuth handshake.
	MarkCredentialStale(ctx context.Context, workspaceID, provider string) error

	// Workspace connector operations

	// GetWorkspaceConnector retrieves the activation record for a
	// (workspace, provider) pair.
	// Returns ErrConnectorNotFound if none exists.
	GetWorkspaceConnector(ctx context.Context, workspaceID, provider string) (*WorkspaceConnector, error)

	// SaveWorkspaceConnector inserts or replaces an activation record.
	SaveWorkspaceConnector(ctx context.Context, wc *WorkspaceConnector) error

	// RecordConnectorSuccess resets the error count to zero, marks the
	// connector active, and stamps last_synced_at.
	RecordConnectorSuccess(ctx context.Context, workspaceID, provider string, at time.Time) error

	// RecordConnectorFailure increments the error count, sets status to
	// error, and records the failure message.
	RecordConnectorFailure(ctx context.Context, workspaceID, provider, message string) error

	// Approval queue operations

	// EnqueueAction persists an action in pending state.
	EnqueueAction(ctx context.Context, qa *QueuedAction) error

	// GetQueuedAction retrieves a queued action by id.
	// Returns ErrQueuedActionNotFound if it doesn't exist.
	GetQueuedAction(ctx context.Context, id string) (*QueuedAction, error)

	// ListPendingActions returns pending actions for a workspace, oldest first.
	ListPendingActions(ctx context.Context, workspaceID string) ([]*QueuedAction, error)

	// TransitionQueuedAction moves a queued action from one status to
	// another, recording who decided. Returns ErrInvalidTransition if the
	// action is not currently in the from status.
	TransitionQueuedAction(ctx context.Context, id string, from, to QueueStatus, decidedBy string) error

	// Action log operations

	// AppendActionLog inserts a new action log entry.
	AppendActionLog(ctx context.Context, entry *ActionLogEntry) error

	// UpdateActionLog records the terminal state of an entry: status,
	// result payload or error message, and finish time.
	UpdateActionLog(ctx context.Context, id string, status LogStatus, result map[string]any, errMsg string, finishedAt time.Time) error

	// GetActionLog retrieves an entry by id.
	// Returns ErrLogEntryNotFound if it doesn't exist.
	GetActionLog(ctx context.Context, id string) (*ActionLogEntry, error)

	// CountCompletedSince counts completed entries for a
	// (workspace, provider) pair whose started_at is on or after since.
	// Backs the durable hourly quota.
	CountCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (int, error)

	// OldestCompletedSince returns the started_at of the oldest completed
	// entry on or after since, for computing the quota reset time.
	// Returns the zero time if there are none.
	OldestCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (time.Time, error)

	// FailStaleExecuting marks entries stuck in executing since before the
	// cutoff as failed, returning how many were reclaimed.
	FailStaleExecuting(ctx context.Context, cutoff time.Time) (int, error)

	// Membership operations

	// GetMembership retrieves a user's membership in a workspace.
	// Returns nil (no error) if the user is not a member.
	GetMembership(ctx context.Context, workspaceID, userID string) (*Membership, error)

	// SaveMembership inserts or replaces a membership.
	SaveMembership(ctx context.Context, m *Membership) error

	// Close closes the storage connection and releases resources.
	Close() error
}

// Encryptor defines the interface for encrypting and decrypting credential
// token material.
//
// Implementations must use AES-256-GCM authenticated encryption with keys
// derived from the AVENUE_MASTER_KEY environment variable or config.
type Encryptor interface {
	// Encrypt encrypts plaintext and returns ciphertext.
	// The ciphertext includes the nonce and authentication tag.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt decrypts ciphertext and returns plaintext.
	// Returns an error if authentication fails or the ciphertext is invalid.
	Decrypt(ciphertext []byte) ([]byte, error)
}
