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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
//
// Features:
//   - WAL mode for better concurrency
//   - AES-256-GCM encryption for credential token material
//   - Transition guards on the approval queue enforced in SQL
type SQLiteStorage struct {
	db        *sql.DB
	encryptor Encryptor
	audit     *AuditLogger
}

// SQLiteConfig contains configuration for SQLite storage.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// Encryptor handles encryption/decryption of credential token material.
	// Required - credentials must always be encrypted at rest.
	Encryptor Encryptor

	// Logger receives audit events for credential access and queue
	// transitions. Optional; defaults to the process default logger.
	Logger *slog.Logger
}

// NewSQLiteStorage creates a new SQLite storage backend.
//
// The database is created if it doesn't exist, and migrations run
// automatically.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}

	// SQLite connection string with WAL mode for better concurrency
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Path == ":memory:" {
		// Each connection gets its own in-memory database, so the pool
		// must stay on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		// SQLite with WAL mode can handle multiple concurrent readers
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	storage := &SQLiteStorage{
		db:        db,
		encryptor: cfg.Encryptor,
		audit:     NewAuditLogger(logger),
	}

	if err := storage.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Migrate creates the database schema.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			expires_at TEXT,
			scope TEXT,
			last_refreshed_at TEXT,
			stale INTEGER NOT NULL DEFAULT 0,
			UNIQUE (workspace_id, provider)
		)`,

		`CREATE TABLE IF NOT EXISTS workspace_connectors (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			auto_approve INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_synced_at TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE (workspace_id, provider)
		)`,

		`CREATE TABLE IF NOT EXISTS queued_actions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			action_type TEXT NOT NULL,
			params TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			agent_run_id TEXT,
			decided_by TEXT,
			decided_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_actions_pending
			ON queued_actions(workspace_id, status)`,

		`CREATE TABLE IF NOT EXISTS action_log (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			action_type TEXT NOT NULL,
			params TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			agent_run_id TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		// Backs the hourly quota count
		`CREATE INDEX IF NOT EXISTS idx_action_log_quota
			ON action_log(workspace_id, provider, status, started_at)`,
		// Backs the stuck-executing sweep
		`CREATE INDEX IF NOT EXISTS idx_action_log_executing
			ON action_log(status) WHERE status = 'executing'`,

		`CREATE TABLE IF NOT EXISTS memberships (
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			PRIMARY KEY (workspace_id, user_id)
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// timeStr formats a time for storage; the empty string is reserved for NULL.
func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeStr(*t)
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

// GetCredential retrieves and decrypts the credential for a
// (workspace, provider) pair.
func (s *SQLiteStorage) GetCredential(ctx context.Context, workspaceID, provider string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, provider, access_token, refresh_token,
		       token_type, expires_at, scope, last_refreshed_at, stale
		FROM credentials
		WHERE workspace_id = ? AND provider = ?`,
		workspaceID, provider)

	var cred Credential
	var refreshToken, scope sql.NullString
	var expiresAt, lastRefreshed sql.NullString
	var stale int

	err := row.Scan(&cred.ID, &cred.WorkspaceID, &cred.Provider,
		&cred.AccessToken, &refreshToken, &cred.TokenType,
		&expiresAt, &scope, &lastRefreshed, &stale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	cred.Stale = stale != 0
	cred.Scope = scope.String

	if cred.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if cred.LastRefreshedAt, err = parseTime(lastRefreshed); err != nil {
		return nil, err
	}

	// Decrypt token material
	if cred.AccessToken, err = s.decryptString(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = s.decryptString(refreshToken.String); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	s.audit.CredentialAccessed(workspaceID, provider)

	return &cred, nil
}

// SaveCredential encrypts and upserts a credential.
func (s *SQLiteStorage) SaveCredential(ctx context.Context, cred *Credential) error {
	if cred.WorkspaceID == "" || cred.Provider == "" {
		return fmt.Errorf("workspace_id and provider are required")
	}
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.TokenType == "" {
		cred.TokenType = "Bearer"
	}

	accessToken, err := s.encryptString(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := s.encryptString(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	stale := 0
	if cred.Stale {
		stale = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, workspace_id, provider, access_token,
			refresh_token, token_type, expires_at, scope, last_refreshed_at, stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			last_refreshed_at = excluded.last_refreshed_at,
			stale = excluded.stale`,
		cred.ID, cred.WorkspaceID, cred.Provider, accessToken, refreshToken,
		cred.TokenType, nullableTime(cred.ExpiresAt), cred.Scope,
		nullableTime(cred.LastRefreshedAt), stale)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	s.audit.CredentialSaved(cred.WorkspaceID, cred.Provider)

	return nil
}

// MarkCredentialStale flags a credential as needing a new OAuth handshake.
func (s *SQLiteStorage) MarkCredentialStale(ctx context.Context, workspaceID, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET stale = 1
		WHERE workspace_id = ? AND provider = ?`,
		workspaceID, provider)
	if err != nil {
		return fmt.Errorf("failed to mark credential stale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCredentialNotFound
	}

	s.audit.CredentialMarkedStale(workspaceID, provider)

	return nil
}

func (s *SQLiteStorage) encryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if enc, ok := s.encryptor.(*AESEncryptor); ok {
		return enc.EncryptString(plaintext)
	}
	ciphertext, err := s.encryptor.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return string(ciphertext), nil
}

func (s *SQLiteStorage) decryptString(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if enc, ok := s.encryptor.(*AESEncryptor); ok {
		return enc.DecryptString(ciphertext)
	}
	plaintext, err := s.encryptor.Decrypt([]byte(ciphertext))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GetWorkspaceConnector retrieves the activation record for a
// (workspace, provider) pair.
func (s *SQLiteStorage) GetWorkspaceConnector(ctx context.Context, workspaceID, provider string) (*WorkspaceConnector, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, provider, status, auto_approve,
		       error_count, last_error, last_synced_at, created_at
		FROM workspace_connectors
		WHERE workspace_id = ? AND provider = ?`,
		workspaceID, provider)

	var wc WorkspaceConnector
	var autoApprove int
	var lastError sql.NullString
	var lastSynced sql.NullString
	var createdAt string

	err := row.Scan(&wc.ID, &wc.WorkspaceID, &wc.Provider, &wc.Status,
		&autoApprove, &wc.ErrorCount, &lastError, &lastSynced, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workspace connector: %w", err)
	}

	wc.AutoApprove = autoApprove != 0
	wc.LastError = lastError.String
	if wc.LastSyncedAt, err = parseTime(lastSynced); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		wc.CreatedAt = t
	}

	return &wc, nil
}

// SaveWorkspaceConnector inserts or replaces an activation record.
func (s *SQLiteStorage) SaveWorkspaceConnector(ctx context.Context, wc *WorkspaceConnector) error {
	if wc.WorkspaceID == "" || wc.Provider == "" {
		return fmt.Errorf("workspace_id and provider are required")
	}
	if wc.ID == "" {
		wc.ID = uuid.NewString()
	}
	if wc.Status == "" {
		wc.Status = ConnectorActive
	}
	if wc.CreatedAt.IsZero() {
		wc.CreatedAt = time.Now().UTC()
	}

	autoApprove := 0
	if wc.AutoApprove {
		autoApprove = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_connectors (id, workspace_id, provider, status,
			auto_approve, error_count, last_error, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, provider) DO UPDATE SET
			status = excluded.status,
			auto_approve = excluded.auto_approve,
			error_count = excluded.error_count,
			last_error = excluded.last_error,
			last_synced_at = excluded.last_synced_at`,
		wc.ID, wc.WorkspaceID, wc.Provider, wc.Status, autoApprove,
		wc.ErrorCount, wc.LastError, nullableTime(wc.LastSyncedAt),
		timeStr(wc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save workspace connector: %w", err)
	}

	return nil
}

// RecordConnectorSuccess resets health after a successful execution.
// Scalar updates are last-writer-wins; health is advisory.
func (s *SQLiteStorage) RecordConnectorSuccess(ctx context.Context, workspaceID, provider string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_connectors
		SET status = ?, error_count = 0, last_error = NULL, last_synced_at = ?
		WHERE workspace_id = ? AND provider = ?`,
		ConnectorActive, timeStr(at), workspaceID, provider)
	if err != nil {
		return fmt.Errorf("failed to record connector success: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectorNotFound
	}
	return nil
}

// RecordConnectorFailure increments the rolling error count and marks the
// connector unhealthy.
func (s *SQLiteStorage) RecordConnectorFailure(ctx context.Context, workspaceID, provider, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_connectors
		SET status = ?, error_count = error_count + 1, last_error = ?
		WHERE workspace_id = ? AND provider = ?`,
		ConnectorError, message, workspaceID, provider)
	if err != nil {
		return fmt.Errorf("failed to record connector failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConnectorNotFound
	}
	return nil
}

// EnqueueAction persists a queued action in pending state.
func (s *SQLiteStorage) EnqueueAction(ctx context.Context, qa *QueuedAction) error {
	if qa.ID == "" {
		qa.ID = uuid.NewString()
	}
	if qa.CreatedAt.IsZero() {
		qa.CreatedAt = time.Now().UTC()
	}
	qa.Status = QueuePending

	params, err := json.Marshal(qa.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal action params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queued_actions (id, workspace_id, user_id, provider,
			action_type, params, status, agent_run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		qa.ID, qa.WorkspaceID, qa.UserID, qa.Provider, qa.ActionType,
		string(params), qa.Status, qa.AgentRunID, timeStr(qa.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}

	s.audit.ActionQueued(qa)

	return nil
}

func scanQueuedAction(row interface{ Scan(...any) error }) (*QueuedAction, error) {
	var qa QueuedAction
	var params string
	var agentRunID, decidedBy sql.NullString
	var decidedAt sql.NullString
	var createdAt string

	err := row.Scan(&qa.ID, &qa.WorkspaceID, &qa.UserID, &qa.Provider,
		&qa.ActionType, &params, &qa.Status, &agentRunID, &decidedBy,
		&decidedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &qa.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action params: %w", err)
	}
	qa.AgentRunID = agentRunID.String
	qa.DecidedBy = decidedBy.String
	if qa.DecidedAt, err = parseTime(decidedAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		qa.CreatedAt = t
	}

	return &qa, nil
}

const queuedActionColumns = `id, workspace_id, user_id, provider, action_type,
	params, status, agent_run_id, decided_by, decided_at, created_at`

// GetQueuedAction retrieves a queued action by id.
func (s *SQLiteStorage) GetQueuedAction(ctx context.Context, id string) (*QueuedAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queuedActionColumns+` FROM queued_actions WHERE id = ?`, id)

	qa, err := scanQueuedAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueuedActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queued action: %w", err)
	}
	return qa, nil
}

// ListPendingActions returns pending actions for a workspace, oldest first.
func (s *SQLiteStorage) ListPendingActions(ctx context.Context, workspaceID string) ([]*QueuedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queuedActionColumns+`
		 FROM queued_actions
		 WHERE workspace_id = ? AND status = ?
		 ORDER BY created_at ASC`,
		workspaceID, QueuePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*QueuedAction
	for rows.Next() {
		qa, err := scanQueuedAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued action: %w", err)
		}
		actions = append(actions, qa)
	}

	return actions, rows.Err()
}

// TransitionQueuedAction moves a queued action between lifecycle states.
//
// The WHERE clause on the current status makes the transition guard atomic:
// two concurrent approvals of the same action cannot both succeed.
func (s *SQLiteStorage) TransitionQueuedAction(ctx context.Context, id string, from, to QueueStatus, decidedBy string) error {
	if !validTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE queued_actions
		SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		to, decidedBy, timeStr(time.Now()), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition queued action: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish a missing row from a row in the wrong state
		if _, err := s.GetQueuedAction(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: action %s is not %s", ErrInvalidTransition, id, from)
	}

	s.audit.ActionTransitioned(id, from, to, decidedBy)

	return nil
}

// validTransition enforces the queued action lifecycle:
// pending -> approved | rejected, approved -> executed.
func validTransition(from, to QueueStatus) bool {
	switch from {
	case QueuePending:
		return to == QueueApproved || to == QueueRejected
	case QueueApproved:
		return to == QueueExecuted
	default:
		return false
	}
}

// AppendActionLog inserts a new action log entry.
func (s *SQLiteStorage) AppendActionLog(ctx context.Context, entry *ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = LogPending
	}

	params, err := json.Marshal(entry.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal log params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_log (id, workspace_id, user_id, provider,
			action_type, params, status, agent_run_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WorkspaceID, entry.UserID, entry.Provider,
		entry.ActionType, string(params), entry.Status, entry.AgentRunID,
		timeStr(entry.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	return nil
}

// UpdateActionLog records the state of an entry. Result and error are
// mutually exclusive in practice but both are accepted.
func (s *SQLiteStorage) UpdateActionLog(ctx context.Context, id string, status LogStatus, result map[string]any, errMsg string, finishedAt time.Time) error {
	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal log result: %w", err)
		}
		resultJSON = string(data)
	}

	var finished any
	if !finishedAt.IsZero() {
		finished = timeStr(finishedAt)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE action_log
		SET status = ?, result = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, resultJSON, errMsg, finished, id)
	if err != nil {
		return fmt.Errorf("failed to update action log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLogEntryNotFound
	}

	return nil
}

// GetActionLog retrieves an entry by id.
func (s *SQLiteStorage) GetActionLog(ctx context.Context, id string) (*ActionLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, provider, action_type, params,
		       status, result, error, agent_run_id, started_at, finished_at
		FROM action_log WHERE id = ?`, id)

	var entry ActionLogEntry
	var params string
	var result, errMsg, agentRunID sql.NullString
	var startedAt string
	var finishedAt sql.NullString

	err := row.Scan(&entry.ID, &entry.WorkspaceID, &entry.UserID,
		&entry.Provider, &entry.ActionType, &params, &entry.Status,
		&result, &errMsg, &agentRunID, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query action log: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &entry.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log params: %w", err)
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &entry.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log result: %w", err)
		}
	}
	entry.Error = errMsg.String
	entry.AgentRunID = agentRunID.String
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		entry.StartedAt = t
	}
	if entry.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}

	return &entry, nil
}

// CountCompletedSince counts completed entries for a (workspace, provider)
// pair started on or after since. Backs the durable hourly quota.
func (s *SQLiteStorage) CountCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM action_log
		WHERE workspace_id = ? AND provider = ? AND status = ? AND started_at >= ?`,
		workspaceID, provider, LogCompleted, timeStr(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed actions: %w", err)
	}
	return count, nil
}

// OldestCompletedSince returns the started_at of the oldest completed entry
// on or after since, or the zero time if there are none.
func (s *SQLiteStorage) OldestCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (time.Time, error) {
	var oldest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(started_at) FROM action_log
		WHERE workspace_id = ? AND provider = ? AND status = ? AND started_at >= ?`,
		workspaceID, provider, LogCompleted, timeStr(since)).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query oldest completed action: %w", err)
	}
	if !oldest.Valid || oldest.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, oldest.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", oldest.String, err)
	}
	return t, nil
}

// FailStaleExecuting marks entries stuck in executing since before the cutoff
// as failed. A timed-out execute must never stay executing indefinitely.
func (s *SQLiteStorage) FailStaleExecuting(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE action_log
		SET status = ?, error = 'reclaimed: execution exceeded deadline', finished_at = ?
		WHERE status = ? AND started_at < ?`,
		LogFailed, timeStr(time.Now()), LogExecuting, timeStr(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetMembership retrieves a user's membership in a workspace.
// Returns nil without error when the user is not a member.
func (s *SQLiteStorage) GetMembership(ctx context.Context, workspaceID, userID string) (*Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, user_id, role
		FROM memberships
		WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID)

	var m Membership
	err := row.Scan(&m.WorkspaceID, &m.UserID, &m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	return &m, nil
}

// SaveMembership inserts or replaces a membership.
func (s *SQLiteStorage) SaveMembership(ctx context.Context, m *Membership) error {
	if m.Role == "" {
		m.Role = RoleMember
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (workspace_id, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		m.WorkspaceID, m.UserID, m.Role)
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}
