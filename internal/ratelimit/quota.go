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

package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// QuotaWindow is the trailing period over which hourly quotas are counted.
const QuotaWindow = time.Hour

// quotaCounter is the slice of the storage layer the quota needs.
type quotaCounter interface {
	CountCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (int, error)
	OldestCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (time.Time, error)
}

// HourlyQuota enforces per-(workspace, provider) execution quotas by
// counting completed entries in the action log over the trailing hour.
// Counting the durable log means the quota holds across process restarts
// and across multiple dispatcher instances sharing one database.
type HourlyQuota struct {
	store  quotaCounter
	logger *slog.Logger
	now    func() time.Time
}

// NewHourlyQuota creates a quota checker backed by the action log.
func NewHourlyQuota(store quotaCounter, logger *slog.Logger) *HourlyQuota {
	return &HourlyQuota{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Check reports whether a (workspace, provider) pair has quota left.
// A limit of zero or below means the provider declares no quota.
//
// Storage failures fail open: an unreachable log should degrade quota
// accuracy, not block every action.
func (q *HourlyQuota) Check(ctx context.Context, workspaceID, provider string, limit int) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := q.now()
	since := now.Add(-QuotaWindow)

	used, err := q.store.CountCompletedSince(ctx, workspaceID, provider, since)
	if err != nil {
		q.logger.Warn("quota check failed, allowing action",
			"workspace_id", workspaceID,
			"provider", provider,
			"error", err)
		return Decision{Allowed: true, Remaining: -1}
	}

	if used < limit {
		return Decision{Allowed: true, Remaining: limit - used}
	}

	// The quota frees up when the oldest counted execution ages out of
	// the trailing window.
	retryAfter := QuotaWindow
	oldest, err := q.store.OldestCompletedSince(ctx, workspaceID, provider, since)
	if err == nil && !oldest.IsZero() {
		retryAfter = oldest.Add(QuotaWindow).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		if rem := retryAfter % time.Second; rem > 0 {
			retryAfter += time.Second - rem
		}
	}

	return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
}
