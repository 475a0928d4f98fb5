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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avenueworks/avenue/internal/connector"
	"github.com/avenueworks/avenue/internal/ratelimit"
	"github.com/avenueworks/avenue/internal/store"
)

type testEnv struct {
	store        *store.SQLiteStorage
	registry     *connector.Registry
	dispatcher   *Dispatcher
	provider     *httptest.Server
	calls        *atomic.Int64
	providerFail *atomic.Bool
}

func newTestEnv(t *testing.T, mutate func(def *connector.Definition)) *testEnv {
	t.Helper()

	var calls atomic.Int64
	var providerFail atomic.Bool
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if providerFail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "upstream outage"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"message_id": "m-1"})
	}))
	t.Cleanup(provider.Close)

	enc, err := store.NewAESEncryptor(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStorage(store.SQLiteConfig{
		Path:      ":memory:",
		Encryptor: enc,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	def := &connector.Definition{
		Provider:         "mailbox",
		Name:             "Mailbox",
		BaseURL:          provider.URL,
		RateLimitPerHour: 100,
	}
	if mutate != nil {
		mutate(def)
	}

	registry := connector.NewRegistry()
	require.NoError(t, registry.LoadDefinitions([]*connector.Definition{def}))

	quota := ratelimit.NewHourlyQuota(st, logger)
	dispatcher := NewDispatcher(st, registry, quota, logger)

	return &testEnv{
		store:        st,
		registry:     registry,
		dispatcher:   dispatcher,
		provider:     provider,
		calls:        &calls,
		providerFail: &providerFail,
	}
}

func (e *testEnv) seedWorkspace(t *testing.T, autoApprove bool) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, e.store.SaveMembership(ctx, &store.Membership{
		WorkspaceID: "w1", UserID: "u1", Role: store.RoleMember,
	}))
	require.NoError(t, e.store.SaveMembership(ctx, &store.Membership{
		WorkspaceID: "w1", UserID: "admin", Role: store.RoleAdmin,
	}))
	require.NoError(t, e.store.SaveWorkspaceConnector(ctx, &store.WorkspaceConnector{
		ID:          uuid.NewString(),
		WorkspaceID: "w1",
		Provider:    "mailbox",
		Status:      store.ConnectorActive,
		AutoApprove: autoApprove,
	}))
	require.NoError(t, e.store.SaveCredential(ctx, &store.Credential{
		WorkspaceID: "w1",
		Provider:    "mailbox",
		AccessToken: "access-token",
	}))
}

func sendEmailRequest() *Request {
	return &Request{
		Provider:    "mailbox",
		ActionType:  "send_email",
		Params:      map[string]any{"to": "a@b.com", "subject": "Hi", "body": "Hello"},
		WorkspaceID: "w1",
		UserID:      "u1",
	}
}

func TestDispatchEndToEndSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)
	ctx := context.Background()

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())

	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus())
	assert.Equal(t, "m-1", resp.Result["message_id"])
	require.NotEmpty(t, resp.ActionID)

	entry, err := env.store.GetActionLog(ctx, resp.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.LogCompleted, entry.Status)
	assert.NotNil(t, entry.FinishedAt)

	wc, err := env.store.GetWorkspaceConnector(ctx, "w1", "mailbox")
	require.NoError(t, err)
	assert.Equal(t, store.ConnectorActive, wc.Status)
	assert.Equal(t, 0, wc.ErrorCount)
	assert.NotNil(t, wc.LastSyncedAt)
}

func TestDispatchPendingApproval(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())

	assert.False(t, resp.Success)
	assert.True(t, resp.Pending)
	assert.Equal(t, http.StatusAccepted, resp.HTTPStatus())
	require.NotEmpty(t, resp.ActionID)
	assert.Equal(t, int64(0), env.calls.Load(), "no side effect before approval")

	qa, err := env.store.GetQueuedAction(ctx, resp.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.QueuePending, qa.Status)

	// No execution record exists until an approval promotes the action
	used, err := env.store.CountCompletedSince(ctx, "w1", "mailbox", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestDispatchExpiredTokenNoRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)
	ctx := context.Background()

	expiry := time.Now().Add(-10 * time.Minute)
	require.NoError(t, env.store.SaveCredential(ctx, &store.Credential{
		WorkspaceID: "w1",
		Provider:    "mailbox",
		AccessToken: "expired-token",
		ExpiresAt:   &expiry,
	}))

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())

	assert.False(t, resp.Success)
	assert.Equal(t, connector.CodeAuthError, resp.ErrorCode)
	assert.Equal(t, http.StatusUnauthorized, resp.HTTPStatus())
	assert.Equal(t, int64(0), env.calls.Load(), "no provider call with an unrefreshable token")

	wc, err := env.store.GetWorkspaceConnector(ctx, "w1", "mailbox")
	require.NoError(t, err)
	assert.Equal(t, store.ConnectorError, wc.Status)
	assert.Equal(t, 1, wc.ErrorCount)
}

func TestDispatchNonMemberDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)

	req := sendEmailRequest()
	req.UserID = "stranger"

	resp := env.dispatcher.Dispatch(context.Background(), req)
	assert.Equal(t, connector.CodeAccessDenied, resp.ErrorCode)
	assert.Equal(t, http.StatusForbidden, resp.HTTPStatus())
	assert.Equal(t, int64(0), env.calls.Load())
}

func TestDispatchUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)

	req := sendEmailRequest()
	req.Provider = "crm"

	resp := env.dispatcher.Dispatch(context.Background(), req)
	assert.Equal(t, connector.CodeConnectorNotFound, resp.ErrorCode)
	assert.Equal(t, http.StatusNotFound, resp.HTTPStatus())
}

func TestDispatchConnectorNotActivated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.SaveMembership(ctx, &store.Membership{
		WorkspaceID: "w1", UserID: "u1", Role: store.RoleMember,
	}))

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	assert.Equal(t, connector.CodeWorkspaceConnectorNotFound, resp.ErrorCode)
	assert.Equal(t, http.StatusNotFound, resp.HTTPStatus())
}

func TestDispatchDisabledConnector(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)
	ctx := context.Background()

	require.NoError(t, env.store.SaveWorkspaceConnector(ctx, &store.WorkspaceConnector{
		ID:          uuid.NewString(),
		WorkspaceID: "w1",
		Provider:    "mailbox",
		Status:      store.ConnectorDisabled,
		AutoApprove: true,
	}))

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	assert.Equal(t, connector.CodeWorkspaceConnectorNotFound, resp.ErrorCode)
}

func TestDispatchMissingCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.SaveMembership(ctx, &store.Membership{
		WorkspaceID: "w1", UserID: "u1", Role: store.RoleMember,
	}))
	require.NoError(t, env.store.SaveWorkspaceConnector(ctx, &store.WorkspaceConnector{
		ID:          uuid.NewString(),
		WorkspaceID: "w1",
		Provider:    "mailbox",
		Status:      store.ConnectorActive,
		AutoApprove: true,
	}))

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	assert.Equal(t, connector.CodeAuthError, resp.ErrorCode)
	assert.Equal(t, http.StatusUnauthorized, resp.HTTPStatus())
}

func TestDispatchValidationShortCircuits(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)

	req := sendEmailRequest()
	req.Params = map[string]any{"to": "a@b.com"}

	resp := env.dispatcher.Dispatch(context.Background(), req)
	assert.Equal(t, connector.CodeValidationError, resp.ErrorCode)
	assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus())
	assert.Equal(t, int64(0), env.calls.Load(), "execute never runs for invalid actions")
}

func seedCompletedEntries(t *testing.T, st *store.SQLiteStorage, n int, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, st.AppendActionLog(ctx, &store.ActionLogEntry{
			ID:          uuid.NewString(),
			WorkspaceID: "w1",
			UserID:      "u1",
			Provider:    "mailbox",
			ActionType:  "send_email",
			Params:      map[string]any{},
			Status:      store.LogCompleted,
			StartedAt:   startedAt,
		}))
	}
}

func TestDispatchHourlyQuotaDenied(t *testing.T) {
	env := newTestEnv(t, func(def *connector.Definition) {
		def.RateLimitPerHour = 5
	})
	env.seedWorkspace(t, true)
	ctx := context.Background()

	seedCompletedEntries(t, env.store, 5, time.Now().UTC().Add(-30*time.Minute))

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	assert.False(t, resp.Success)
	assert.Equal(t, connector.CodeRateLimited, resp.ErrorCode)
	assert.Equal(t, http.StatusTooManyRequests, resp.HTTPStatus())
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, 0, resp.RateLimit.Remaining)
	assert.True(t, resp.RateLimit.ResetAt.After(time.Now()))
	assert.Equal(t, int64(0), env.calls.Load())
}

func TestDispatchHourlyQuotaAgesOut(t *testing.T) {
	env := newTestEnv(t, func(def *connector.Definition) {
		def.RateLimitPerHour = 5
	})
	env.seedWorkspace(t, true)

	// Four in-window executions plus one that aged past the hour
	seedCompletedEntries(t, env.store, 4, time.Now().UTC().Add(-30*time.Minute))
	seedCompletedEntries(t, env.store, 1, time.Now().UTC().Add(-61*time.Minute))

	resp := env.dispatcher.Dispatch(context.Background(), sendEmailRequest())
	assert.True(t, resp.Success)
}

func TestDispatchAdminBypass(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	req := sendEmailRequest()
	req.UserID = "admin"
	req.BypassApproval = true

	resp := env.dispatcher.Dispatch(ctx, req)
	assert.True(t, resp.Success, "admins may bypass the approval queue")
	assert.Equal(t, int64(1), env.calls.Load())
}

func TestDispatchMemberCannotBypass(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)

	req := sendEmailRequest()
	req.BypassApproval = true

	resp := env.dispatcher.Dispatch(context.Background(), req)
	assert.True(t, resp.Pending, "a member's bypass flag is ignored")
	assert.Equal(t, int64(0), env.calls.Load())
}

func TestDispatchNoApprovalDedup(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	first := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	second := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, first.Pending)
	require.True(t, second.Pending)
	assert.NotEqual(t, first.ActionID, second.ActionID)

	pending, err := env.store.ListPendingActions(ctx, "w1")
	require.NoError(t, err)
	assert.Len(t, pending, 2, "identical requests queue independently")
}

func TestApproveExecutesAction(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	queued := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, queued.Pending)

	resp := env.dispatcher.Approve(ctx, queued.ActionID, "admin")
	assert.True(t, resp.Success)
	assert.Equal(t, int64(1), env.calls.Load())

	qa, err := env.store.GetQueuedAction(ctx, queued.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueExecuted, qa.Status)
	assert.Equal(t, "admin", qa.DecidedBy)

	entry, err := env.store.GetActionLog(ctx, resp.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.LogCompleted, entry.Status)
	assert.Equal(t, "u1", entry.UserID, "the log records the original requester")
}

func TestApproveRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	queued := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, queued.Pending)

	resp := env.dispatcher.Approve(ctx, queued.ActionID, "u1")
	assert.Equal(t, connector.CodeAccessDenied, resp.ErrorCode)
	assert.Equal(t, int64(0), env.calls.Load())
}

func TestRejectNeverExecutes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	queued := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, queued.Pending)

	resp := env.dispatcher.Reject(ctx, queued.ActionID, "admin")
	assert.True(t, resp.Success)
	assert.Equal(t, int64(0), env.calls.Load())

	qa, err := env.store.GetQueuedAction(ctx, queued.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueRejected, qa.Status)

	// A rejected action cannot be revived
	revive := env.dispatcher.Approve(ctx, queued.ActionID, "admin")
	assert.False(t, revive.Success)
}

func TestExecuteApprovedRequiresApprovedState(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	queued := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, queued.Pending)

	resp := env.dispatcher.ExecuteApproved(ctx, queued.ActionID)
	assert.False(t, resp.Success)
	assert.Equal(t, int64(0), env.calls.Load())
}

func TestApproveDisabledConnectorDoesNotExecute(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	queued := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, queued.Pending)

	// An admin pulls the stop switch while the action sits in the queue.
	require.NoError(t, env.store.SaveWorkspaceConnector(ctx, &store.WorkspaceConnector{
		ID:          uuid.NewString(),
		WorkspaceID: "w1",
		Provider:    "mailbox",
		Status:      store.ConnectorDisabled,
	}))

	resp := env.dispatcher.Approve(ctx, queued.ActionID, "admin")
	assert.False(t, resp.Success)
	assert.Equal(t, connector.CodeWorkspaceConnectorNotFound, resp.ErrorCode)
	assert.Equal(t, int64(0), env.calls.Load())

	// The action stays approved so re-enabling the connector lets it run.
	qa, err := env.store.GetQueuedAction(ctx, queued.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueApproved, qa.Status)
}

func TestApprovedExecutionFailureKeepsAuditTrail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	queued := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, queued.Pending)

	env.providerFail.Store(true)
	resp := env.dispatcher.Approve(ctx, queued.ActionID, "admin")
	assert.False(t, resp.Success)
	assert.Equal(t, connector.CodeHTTPError, resp.ErrorCode)

	// Executed records that the attempt happened; the failure itself is
	// the action log's to tell.
	qa, err := env.store.GetQueuedAction(ctx, queued.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.QueueExecuted, qa.Status)

	entry, err := env.store.GetActionLog(ctx, resp.ActionID)
	require.NoError(t, err)
	assert.Equal(t, store.LogFailed, entry.Status)
	assert.NotEmpty(t, entry.Error)
}

// faultyStore fails selected lookups to exercise the storage error paths.
type faultyStore struct {
	store.Storage
	failConnector  bool
	failCredential bool
}

func (f *faultyStore) GetWorkspaceConnector(ctx context.Context, workspaceID, provider string) (*store.WorkspaceConnector, error) {
	if f.failConnector {
		return nil, errors.New("disk I/O error")
	}
	return f.Storage.GetWorkspaceConnector(ctx, workspaceID, provider)
}

func (f *faultyStore) GetCredential(ctx context.Context, workspaceID, provider string) (*store.Credential, error) {
	if f.failCredential {
		return nil, errors.New("disk I/O error")
	}
	return f.Storage.GetCredential(ctx, workspaceID, provider)
}

func TestDispatchStorageFailureIsNotMisclassified(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		faulty *faultyStore
	}{
		{"connector lookup", &faultyStore{Storage: env.store, failConnector: true}},
		{"credential lookup", &faultyStore{Storage: env.store, failCredential: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quota := ratelimit.NewHourlyQuota(env.store, logger)
			dispatcher := NewDispatcher(tt.faulty, env.registry, quota, logger)

			resp := dispatcher.Dispatch(ctx, sendEmailRequest())
			assert.False(t, resp.Success)
			assert.Equal(t, connector.CodeUnknown, resp.ErrorCode,
				"a transient storage failure is not a missing connector or credential")
			assert.Equal(t, int64(0), env.calls.Load())
		})
	}
}

func TestPendingApprovalsMembershipGate(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, false)
	ctx := context.Background()

	env.dispatcher.Dispatch(ctx, sendEmailRequest())

	actions, errResp := env.dispatcher.PendingApprovals(ctx, "w1", "u1")
	require.Nil(t, errResp)
	assert.Len(t, actions, 1)

	_, errResp = env.dispatcher.PendingApprovals(ctx, "w1", "stranger")
	require.NotNil(t, errResp)
	assert.Equal(t, connector.CodeAccessDenied, errResp.ErrorCode)
}

func TestIntakeCeiling(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)

	var reqs []*Request
	for i := 0; i < 12; i++ {
		reqs = append(reqs, sendEmailRequest())
	}

	result := env.dispatcher.Intake(context.Background(), reqs)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Responses, MaxActionsPerRun)
	assert.Equal(t, int64(MaxActionsPerRun), env.calls.Load())
}

func TestIntakeUnderCeiling(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)

	result := env.dispatcher.Intake(context.Background(), []*Request{sendEmailRequest(), sendEmailRequest()})
	assert.False(t, result.Truncated)
	assert.Len(t, result.Responses, 2)
}

func TestSweeperReclaimsStaleExecutions(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedWorkspace(t, true)
	ctx := context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := NewSweeper(env.store, logger, time.Minute)

	stale := &store.ActionLogEntry{
		ID:          uuid.NewString(),
		WorkspaceID: "w1",
		UserID:      "u1",
		Provider:    "mailbox",
		ActionType:  "send_email",
		Params:      map[string]any{},
		Status:      store.LogExecuting,
		StartedAt:   time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, env.store.AppendActionLog(ctx, stale))

	live := &store.ActionLogEntry{
		ID:          uuid.NewString(),
		WorkspaceID: "w1",
		UserID:      "u1",
		Provider:    "mailbox",
		ActionType:  "send_email",
		Params:      map[string]any{},
		Status:      store.LogExecuting,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, env.store.AppendActionLog(ctx, live))

	assert.Equal(t, 1, sweeper.Sweep(ctx))

	reclaimed, err := env.store.GetActionLog(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, store.LogFailed, reclaimed.Status)

	untouched, err := env.store.GetActionLog(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, store.LogExecuting, untouched.Status)
}

func TestDispatchPersistsRefreshedCredentials(t *testing.T) {
	var tokenCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "rotated",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/messages/send", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"message_id": "m-2"})
	})
	oauthServer := httptest.NewServer(mux)
	defer oauthServer.Close()

	t.Setenv("TEST_MAILBOX_CLIENT_ID", "cid")
	t.Setenv("TEST_MAILBOX_CLIENT_SECRET", "secret")

	env := newTestEnv(t, func(def *connector.Definition) {
		def.BaseURL = oauthServer.URL
		def.UsesOAuth = true
		def.OAuth = &connector.OAuthConfig{
			TokenURL:        oauthServer.URL + "/oauth/token",
			ClientIDEnv:     "TEST_MAILBOX_CLIENT_ID",
			ClientSecretEnv: "TEST_MAILBOX_CLIENT_SECRET",
		}
	})
	env.seedWorkspace(t, true)
	ctx := context.Background()

	expiry := time.Now().Add(time.Minute)
	require.NoError(t, env.store.SaveCredential(ctx, &store.Credential{
		WorkspaceID:  "w1",
		Provider:     "mailbox",
		AccessToken:  "nearly-expired",
		RefreshToken: "refresh-token",
		ExpiresAt:    &expiry,
	}))

	resp := env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, resp.Success)
	assert.Equal(t, int64(1), tokenCalls.Load())

	saved, err := env.store.GetCredential(ctx, "w1", "mailbox")
	require.NoError(t, err)
	assert.Equal(t, "rotated", saved.AccessToken)

	// The persisted token is fresh, so a second dispatch skips the
	// token endpoint entirely.
	resp = env.dispatcher.Dispatch(ctx, sendEmailRequest())
	require.True(t, resp.Success)
	assert.Equal(t, int64(1), tokenCalls.Load())
}
