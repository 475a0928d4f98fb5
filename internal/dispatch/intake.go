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
	"context"
)

// MaxActionsPerRun caps how many actions are accepted from a single agent
// run. Actions past the cap are dropped silently; the truncation is
// reported in the batch outcome rather than as an error.
const MaxActionsPerRun = 10

// BatchResult is the outcome of one agent action batch.
type BatchResult struct {
	// Responses holds one dispatch response per accepted action, in
	// submission order
	Responses []*Response `json:"responses"`

	// Truncated reports that actions beyond the per-run ceiling were
	// dropped
	Truncated bool `json:"truncated"`
}

// Intake dispatches a list of agent-extracted action requests, enforcing
// the per-run ceiling. Each accepted action is dispatched independently;
// one action's failure does not stop the rest.
func (d *Dispatcher) Intake(ctx context.Context, reqs []*Request) *BatchResult {
	result := &BatchResult{}

	if len(reqs) > MaxActionsPerRun {
		result.Truncated = true
		reqs = reqs[:MaxActionsPerRun]
	}

	for _, req := range reqs {
		result.Responses = append(result.Responses, d.Dispatch(ctx, req))
	}

	return result
}
