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

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/avenueworks/avenue/internal/dispatch"
)

// maxBodyBytes bounds request bodies; action parameter bags are small.
const maxBodyBytes = 1 << 20

// handleDispatch handles POST /v1/actions.
func (r *Router) handleDispatch(w http.ResponseWriter, req *http.Request) {
	var dreq dispatch.Request
	if err := decodeBody(w, req, &dreq); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The requesting identity comes from the verified token, never from
	// the body.
	dreq.UserID = userID(req.Context())

	resp := r.dispatcher.Dispatch(req.Context(), &dreq)
	writeJSON(w, resp.HTTPStatus(), resp)
}

// BatchRequest is the request body for POST /v1/actions/batch: a list of
// actions extracted from one agent run.
type BatchRequest struct {
	WorkspaceID string `json:"workspaceId"`
	AgentRunID  string `json:"agentRunId,omitempty"`
	Actions     []struct {
		Provider   string         `json:"connectorKey"`
		ActionType string         `json:"actionType"`
		Params     map[string]any `json:"actionParams"`
	} `json:"actions"`
}

// handleBatch handles POST /v1/actions/batch.
func (r *Router) handleBatch(w http.ResponseWriter, req *http.Request) {
	var breq BatchRequest
	if err := decodeBody(w, req, &breq); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid := userID(req.Context())
	reqs := make([]*dispatch.Request, 0, len(breq.Actions))
	for _, action := range breq.Actions {
		reqs = append(reqs, &dispatch.Request{
			Provider:    action.Provider,
			ActionType:  action.ActionType,
			Params:      action.Params,
			WorkspaceID: breq.WorkspaceID,
			UserID:      uid,
			AgentRunID:  breq.AgentRunID,
		})
	}

	result := r.dispatcher.Intake(req.Context(), reqs)
	writeJSON(w, http.StatusOK, result)
}

// handleListApprovals handles GET /v1/approvals?workspace=.
func (r *Router) handleListApprovals(w http.ResponseWriter, req *http.Request) {
	workspaceID := req.URL.Query().Get("workspace")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace query parameter is required")
		return
	}

	actions, errResp := r.dispatcher.PendingApprovals(req.Context(), workspaceID, userID(req.Context()))
	if errResp != nil {
		writeJSON(w, errResp.HTTPStatus(), errResp)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"approvals": actions})
}

// handleApprove handles POST /v1/approvals/{id}/approve.
func (r *Router) handleApprove(w http.ResponseWriter, req *http.Request) {
	resp := r.dispatcher.Approve(req.Context(), req.PathValue("id"), userID(req.Context()))
	writeJSON(w, resp.HTTPStatus(), resp)
}

// handleReject handles POST /v1/approvals/{id}/reject.
func (r *Router) handleReject(w http.ResponseWriter, req *http.Request) {
	resp := r.dispatcher.Reject(req.Context(), req.PathValue("id"), userID(req.Context()))
	writeJSON(w, resp.HTTPStatus(), resp)
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	dec := json.NewDecoder(req.Body)
	return dec.Decode(dst)
}

func formatSeconds(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
