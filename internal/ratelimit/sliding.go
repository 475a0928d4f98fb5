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

// Package ratelimit provides the two enforcement layers for action
// execution: an in-memory per-key request limiter for burst control and a
// durable per-workspace hourly quota backed by the action log.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed reports whether the request may proceed
	Allowed bool

	// Remaining is how many requests are left in the current window
	Remaining int

	// RetryAfter is how long until the window resets. Zero when allowed.
	RetryAfter time.Duration
}

// window tracks one key's usage inside the current fixed window.
type window struct {
	count   int
	startAt time.Time
}

// SlidingWindow is an in-memory request limiter keyed by caller identity.
// State does not survive a restart; the durable hourly quota is the
// backstop for limits that must hold across restarts.
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per period
// for each key.
func NewSlidingWindow(limit int, per time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		per:     per,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check records one request attempt for key and reports whether it is
// allowed. Denied attempts do not consume window capacity.
func (s *SlidingWindow) Check(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.startAt) >= s.per {
		w = &window{startAt: now}
		s.windows[key] = w
	}

	if w.count >= s.limit {
		resetAt := w.startAt.Add(s.per)
		retryAfter := resetAt.Sub(now)
		// Round up so callers never retry before the window opens
		if rem := retryAfter % time.Second; rem > 0 {
			retryAfter += time.Second - rem
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	w.count++
	return Decision{Allowed: true, Remaining: s.limit - w.count}
}

// Cleanup drops window state for keys whose window has fully elapsed.
// Call periodically to bound memory on long-running processes.
func (s *SlidingWindow) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		if now.Sub(w.startAt) >= s.per {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}
