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
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeCounter is a canned quota data source.
type fakeCounter struct {
	count    int
	countErr error
	oldest   time.Time
	oldestErr error
}

func (f *fakeCounter) CountCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (int, error) {
	return f.count, f.countErr
}

func (f *fakeCounter) OldestCompletedSince(ctx context.Context, workspaceID, provider string, since time.Time) (time.Time, error) {
	return f.oldest, f.oldestErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHourlyQuotaUnderLimit(t *testing.T) {
	q := NewHourlyQuota(&fakeCounter{count: 3}, quietLogger())

	d := q.Check(context.Background(), "ws-1", "mailbox", 5)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestHourlyQuotaAtLimit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{count: 5, oldest: now.Add(-50 * time.Minute)}
	q := NewHourlyQuota(counter, quietLogger())
	q.now = func() time.Time { return now }

	d := q.Check(context.Background(), "ws-1", "mailbox", 5)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	// Oldest counted execution was 50 minutes ago, so the quota frees up
	// in 10 minutes.
	assert.Equal(t, 10*time.Minute, d.RetryAfter)
}

func TestHourlyQuotaNoDeclaredLimit(t *testing.T) {
	q := NewHourlyQuota(&fakeCounter{count: 1000}, quietLogger())

	assert.True(t, q.Check(context.Background(), "ws-1", "listings", 0).Allowed)
	assert.True(t, q.Check(context.Background(), "ws-1", "listings", -1).Allowed)
}

func TestHourlyQuotaFailsOpen(t *testing.T) {
	q := NewHourlyQuota(&fakeCounter{countErr: errors.New("database is locked")}, quietLogger())

	d := q.Check(context.Background(), "ws-1", "mailbox", 5)
	assert.True(t, d.Allowed, "storage failures must not block actions")
}

func TestHourlyQuotaResetFallback(t *testing.T) {
	// When the oldest entry cannot be determined, advertise the full
	// window rather than guessing short.
	q := NewHourlyQuota(&fakeCounter{count: 5, oldestErr: errors.New("query failed")}, quietLogger())

	d := q.Check(context.Background(), "ws-1", "mailbox", 5)
	assert.False(t, d.Allowed)
	assert.Equal(t, QuotaWindow, d.RetryAfter)
}
