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
	"log/slog"
	"time"

	avlog "github.com/avenueworks/avenue/internal/log"
	"github.com/avenueworks/avenue/internal/store"
)

// StaleExecutingThreshold is how long an entry may sit in executing before
// the sweeper considers the dispatching process dead and fails the entry.
// Comfortably above the longest connector timeout.
const StaleExecutingThreshold = 10 * time.Minute

// Sweeper periodically reclaims action log entries stuck in executing,
// typically left behind by a crashed process.
type Sweeper struct {
	store    store.Storage
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper. A non-positive interval defaults to one
// minute.
func NewSweeper(st store.Storage, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    st,
		logger:   avlog.WithComponent(logger, "sweeper"),
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one reclaim pass, returning how many entries were failed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().UTC().Add(-StaleExecutingThreshold)
	reclaimed, err := s.store.FailStaleExecuting(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale execution sweep failed", avlog.Error(err))
		return 0
	}
	if reclaimed > 0 {
		staleReclaimed.Add(float64(reclaimed))
		s.logger.Warn("reclaimed stale executions", "count", reclaimed)
	}
	return reclaimed
}
