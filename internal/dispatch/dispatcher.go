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

// Package dispatch contains the action dispatcher: the state machine that
// takes a dispatch request through membership, approval, validation, and
// rate limit gates to exactly one connector execution.
//
// Each dispatch is independent. No ordering is guaranteed between requests
// and nothing is retried automatically; callers that want resilience submit
// a new request.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avenueworks/avenue/internal/connector"
	avlog "github.com/avenueworks/avenue/internal/log"
	"github.com/avenueworks/avenue/internal/ratelimit"
	"github.com/avenueworks/avenue/internal/store"
)

// Dispatcher routes action requests to connectors, enforcing the approval
// queue and the durable hourly quota on the way.
type Dispatcher struct {
	store    store.Storage
	registry *connector.Registry
	quota    *ratelimit.HourlyQuota
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(st store.Storage, registry *connector.Registry, quota *ratelimit.HourlyQuota, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: registry,
		quota:    quota,
		logger:   avlog.WithComponent(logger, "dispatch"),
		now:      time.Now,
	}
}

// Dispatch runs one action request through the full gate sequence.
// The returned response is always structured; failures are classified,
// never raw.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	resp := d.dispatch(ctx, req)
	dispatchTotal.WithLabelValues(req.Provider, outcomeLabel(resp)).Inc()
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) *Response {
	logger := avlog.WithWorkspace(d.logger, req.WorkspaceID)

	// Membership gate. Everything below assumes the user belongs to the
	// workspace.
	member, err := d.store.GetMembership(ctx, req.WorkspaceID, req.UserID)
	if err != nil {
		logger.Error("membership lookup failed", avlog.Error(err))
		return failure(connector.CodeUnknown, "membership lookup failed")
	}
	if member == nil {
		return failure(connector.CodeAccessDenied,
			"user is not a member of the workspace")
	}

	// A caller-supplied bypass is honored only for verified admins; for
	// everyone else it is ignored rather than rejected.
	bypass := req.BypassApproval && member.Role == store.RoleAdmin

	def, err := d.registry.Definition(req.Provider)
	if err != nil {
		return failureFrom(err)
	}

	wc, resp := d.loadActiveConnector(ctx, logger, req.WorkspaceID, req.Provider)
	if resp != nil {
		return resp
	}

	creds, resp := d.loadCredential(ctx, logger, req.WorkspaceID, req.Provider)
	if resp != nil {
		return resp
	}

	needsApproval := !bypass && (def.RequiresApproval || !wc.AutoApprove)
	if needsApproval {
		qa := &store.QueuedAction{
			ID:          uuid.NewString(),
			WorkspaceID: req.WorkspaceID,
			UserID:      req.UserID,
			Provider:    req.Provider,
			ActionType:  req.ActionType,
			Params:      req.Params,
			AgentRunID:  req.AgentRunID,
		}
		if err := d.store.EnqueueAction(ctx, qa); err != nil {
			logger.Error("failed to enqueue action", avlog.Error(err))
			return failure(connector.CodeUnknown, "failed to queue action for approval")
		}
		approvalsQueued.WithLabelValues(req.Provider).Inc()
		logger.Info("action queued for approval",
			"action_id", qa.ID,
			"provider", req.Provider,
			"action_type", req.ActionType)
		return &Response{ActionID: qa.ID, Pending: true}
	}

	return d.execute(ctx, def, wc, creds, req)
}

// loadActiveConnector resolves the workspace connector and refuses disabled
// ones. Disabling a connector is an admin stop switch and halts queued
// actions as well as new dispatches. Returns a failure response or nil.
func (d *Dispatcher) loadActiveConnector(ctx context.Context, logger *slog.Logger, workspaceID, provider string) (*store.WorkspaceConnector, *Response) {
	wc, err := d.store.GetWorkspaceConnector(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, store.ErrConnectorNotFound) {
			return nil, failure(connector.CodeWorkspaceConnectorNotFound,
				"connector is not activated for this workspace")
		}
		logger.Error("workspace connector lookup failed", avlog.Error(err))
		return nil, failure(connector.CodeUnknown, "workspace connector lookup failed")
	}
	if wc.Status == store.ConnectorDisabled {
		return nil, failure(connector.CodeWorkspaceConnectorNotFound,
			"connector is disabled for this workspace")
	}
	return wc, nil
}

// loadCredential resolves the stored credential for a (workspace, provider)
// pair. Returns a failure response or nil.
func (d *Dispatcher) loadCredential(ctx context.Context, logger *slog.Logger, workspaceID, provider string) (*store.Credential, *Response) {
	creds, err := d.store.GetCredential(ctx, workspaceID, provider)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, failure(connector.CodeAuthError,
				"no credentials stored for this connector")
		}
		logger.Error("credential lookup failed", avlog.Error(err))
		return nil, failure(connector.CodeUnknown, "credential lookup failed")
	}
	return creds, nil
}

// execute runs the post-approval gates: validation, quota, and the single
// connector execution with its audit trail and health bookkeeping.
func (d *Dispatcher) execute(ctx context.Context, def *connector.Definition, wc *store.WorkspaceConnector, creds *store.Credential, req *Request) *Response {
	logger := avlog.WithWorkspace(d.logger, req.WorkspaceID)

	conn, err := d.registry.Get(req.Provider)
	if err != nil {
		return failureFrom(err)
	}

	// Inputs may come from an agent's parsed output, so the dispatcher
	// re-validates even when the upstream parser already has.
	if v := conn.Validate(req.ActionType, req.Params); !v.Valid {
		return failure(connector.CodeValidationError, joinErrors(v.Errors))
	}

	if decision := d.quota.Check(ctx, req.WorkspaceID, req.Provider, def.RateLimitPerHour); !decision.Allowed {
		rateLimitDenials.WithLabelValues(req.Provider, "quota").Inc()
		resp := failure(connector.CodeRateLimited, "hourly execution quota exhausted")
		resp.RateLimit = &RateLimitState{
			Remaining: 0,
			ResetAt:   d.now().UTC().Add(decision.RetryAfter),
		}
		return resp
	}

	entry := &store.ActionLogEntry{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Provider:    req.Provider,
		ActionType:  req.ActionType,
		Params:      req.Params,
		Status:      store.LogPending,
		AgentRunID:  req.AgentRunID,
		StartedAt:   d.now().UTC(),
	}
	if err := d.store.AppendActionLog(ctx, entry); err != nil {
		logger.Error("failed to append action log", avlog.Error(err))
		return failure(connector.CodeUnknown, "failed to record action")
	}
	if err := d.store.UpdateActionLog(ctx, entry.ID, store.LogExecuting, nil, "", time.Time{}); err != nil {
		logger.Error("failed to mark action executing", avlog.Error(err))
		return failure(connector.CodeUnknown, "failed to record action")
	}

	execCtx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	started := d.now()
	result, execErr := conn.Execute(execCtx, req.ActionType, req.Params, creds)
	elapsed := d.now().Sub(started)
	executionDuration.WithLabelValues(req.Provider, req.ActionType).Observe(elapsed.Seconds())

	actionLogger := avlog.WithAction(logger, entry.ID, req.ActionType)

	if execErr != nil {
		return d.recordFailure(ctx, actionLogger, entry, req, execErr, elapsed)
	}
	return d.recordSuccess(ctx, actionLogger, entry, req, result, elapsed)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, logger *slog.Logger, entry *store.ActionLogEntry, req *Request, result *connector.Result, elapsed time.Duration) *Response {
	finishedAt := d.now().UTC()
	if err := d.store.UpdateActionLog(ctx, entry.ID, store.LogCompleted, result.Data, "", finishedAt); err != nil {
		logger.Error("failed to record completion", avlog.Error(err))
	}
	if err := d.store.RecordConnectorSuccess(ctx, req.WorkspaceID, req.Provider, finishedAt); err != nil {
		logger.Warn("failed to update connector health", avlog.Error(err))
	}

	// Persist rotated token material so the next dispatch does not have
	// to refresh again.
	if result.Refreshed != nil {
		if err := d.store.SaveCredential(ctx, result.Refreshed); err != nil {
			logger.Warn("failed to persist refreshed credentials", avlog.Error(err))
		}
	}

	logger.Info("action completed",
		"provider", req.Provider,
		avlog.Duration("duration", elapsed.Milliseconds()))

	resp := &Response{Success: true, ActionID: entry.ID, Result: result.Data}
	if result.RateLimit != nil {
		resp.RateLimit = &RateLimitState{
			Remaining: result.RateLimit.Remaining,
			ResetAt:   result.RateLimit.ResetAt,
		}
	}
	return resp
}

func (d *Dispatcher) recordFailure(ctx context.Context, logger *slog.Logger, entry *store.ActionLogEntry, req *Request, execErr error, elapsed time.Duration) *Response {
	finishedAt := d.now().UTC()
	if err := d.store.UpdateActionLog(ctx, entry.ID, store.LogFailed, nil, execErr.Error(), finishedAt); err != nil {
		logger.Error("failed to record failure", avlog.Error(err))
	}
	if err := d.store.RecordConnectorFailure(ctx, req.WorkspaceID, req.Provider, execErr.Error()); err != nil {
		logger.Warn("failed to update connector health", avlog.Error(err))
	}

	// A credential the provider keeps rejecting needs a fresh handshake;
	// flag it so subsequent dispatches fail fast instead of hammering
	// the provider.
	if connector.CodeOf(execErr) == connector.CodeAuthError {
		if err := d.store.MarkCredentialStale(ctx, req.WorkspaceID, req.Provider); err != nil {
			logger.Warn("failed to mark credential stale", avlog.Error(err))
		}
	}

	logger.Warn("action failed",
		"provider", req.Provider,
		"error_code", string(connector.CodeOf(execErr)),
		avlog.Error(execErr),
		avlog.Duration("duration", elapsed.Milliseconds()))

	resp := failureFrom(execErr)
	resp.ActionID = entry.ID
	return resp
}

// Approve marks a pending action approved and executes it immediately.
// The approver must be a workspace admin.
func (d *Dispatcher) Approve(ctx context.Context, actionID, approverID string) *Response {
	qa, err := d.store.GetQueuedAction(ctx, actionID)
	if err != nil {
		return failure(connector.CodeValidationError, "queued action not found")
	}

	if resp := d.checkApprover(ctx, qa.WorkspaceID, approverID); resp != nil {
		return resp
	}

	if err := d.store.TransitionQueuedAction(ctx, actionID, store.QueuePending, store.QueueApproved, approverID); err != nil {
		return failure(connector.CodeValidationError, err.Error())
	}

	return d.ExecuteApproved(ctx, actionID)
}

// Reject declines a pending action. Rejected actions never execute.
func (d *Dispatcher) Reject(ctx context.Context, actionID, approverID string) *Response {
	qa, err := d.store.GetQueuedAction(ctx, actionID)
	if err != nil {
		return failure(connector.CodeValidationError, "queued action not found")
	}

	if resp := d.checkApprover(ctx, qa.WorkspaceID, approverID); resp != nil {
		return resp
	}

	if err := d.store.TransitionQueuedAction(ctx, actionID, store.QueuePending, store.QueueRejected, approverID); err != nil {
		return failure(connector.CodeValidationError, err.Error())
	}

	return &Response{Success: true, ActionID: actionID}
}

// ExecuteApproved runs an approved queued action. The approval gate is
// behind us; validation, quota, and execution still apply.
func (d *Dispatcher) ExecuteApproved(ctx context.Context, actionID string) *Response {
	qa, err := d.store.GetQueuedAction(ctx, actionID)
	if err != nil {
		return failure(connector.CodeValidationError, "queued action not found")
	}
	if qa.Status != store.QueueApproved {
		return failure(connector.CodeValidationError, "queued action is not approved")
	}

	logger := avlog.WithWorkspace(d.logger, qa.WorkspaceID)

	def, err := d.registry.Definition(qa.Provider)
	if err != nil {
		return failureFrom(err)
	}
	wc, resp := d.loadActiveConnector(ctx, logger, qa.WorkspaceID, qa.Provider)
	if resp != nil {
		return resp
	}
	creds, resp := d.loadCredential(ctx, logger, qa.WorkspaceID, qa.Provider)
	if resp != nil {
		return resp
	}

	// The approved to executed transition is the execute-once guard: it is
	// atomic in the store, so concurrent approvals cannot run the action
	// twice. Executed therefore means one execution attempt was made; the
	// attempt's outcome lives in the action log.
	if err := d.store.TransitionQueuedAction(ctx, actionID, store.QueueApproved, store.QueueExecuted, qa.DecidedBy); err != nil {
		return failure(connector.CodeValidationError, err.Error())
	}

	req := &Request{
		Provider:    qa.Provider,
		ActionType:  qa.ActionType,
		Params:      qa.Params,
		WorkspaceID: qa.WorkspaceID,
		UserID:      qa.UserID,
		AgentRunID:  qa.AgentRunID,
	}
	resp = d.execute(ctx, def, wc, creds, req)
	dispatchTotal.WithLabelValues(req.Provider, outcomeLabel(resp)).Inc()
	return resp
}

// PendingApprovals lists a workspace's approval queue. The caller must be
// a member.
func (d *Dispatcher) PendingApprovals(ctx context.Context, workspaceID, userID string) ([]*store.QueuedAction, *Response) {
	member, err := d.store.GetMembership(ctx, workspaceID, userID)
	if err != nil {
		return nil, failure(connector.CodeUnknown, "membership lookup failed")
	}
	if member == nil {
		return nil, failure(connector.CodeAccessDenied, "user is not a member of the workspace")
	}

	actions, err := d.store.ListPendingActions(ctx, workspaceID)
	if err != nil {
		return nil, failure(connector.CodeUnknown, "failed to list pending actions")
	}
	return actions, nil
}

// checkApprover verifies the approver is an admin of the workspace.
// Returns nil when the approval may proceed.
func (d *Dispatcher) checkApprover(ctx context.Context, workspaceID, approverID string) *Response {
	member, err := d.store.GetMembership(ctx, workspaceID, approverID)
	if err != nil {
		return failure(connector.CodeUnknown, "membership lookup failed")
	}
	if member == nil || member.Role != store.RoleAdmin {
		return failure(connector.CodeAccessDenied, "approval requires a workspace admin")
	}
	return nil
}

func outcomeLabel(resp *Response) string {
	switch {
	case resp.Pending:
		return "pending"
	case resp.Success:
		return "success"
	default:
		return string(resp.ErrorCode)
	}
}

func joinErrors(errs []string) string {
	msg := "invalid action"
	if len(errs) > 0 {
		msg = errs[0]
		for _, e := range errs[1:] {
			msg += "; " + e
		}
	}
	return msg
}
