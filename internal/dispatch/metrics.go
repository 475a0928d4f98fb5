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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal tracks dispatch outcomes by provider and result code
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avenue_dispatch_total",
			Help: "Total dispatched actions by provider and outcome code",
		},
		[]string{"provider", "code"},
	)

	// executionDuration tracks connector execution latency
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "avenue_execution_duration_seconds",
			Help:    "Connector execution latency by provider and action type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "action_type"},
	)

	// rateLimitDenials tracks quota and burst limiter denials
	rateLimitDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avenue_rate_limit_denials_total",
			Help: "Total rate limit denials by provider and limiter layer",
		},
		[]string{"provider", "layer"},
	)

	// approvalsQueued tracks actions held for approval
	approvalsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avenue_approvals_queued_total",
			Help: "Total actions queued for human approval by provider",
		},
		[]string{"provider"},
	)

	// staleReclaimed tracks executing entries reclaimed by the sweeper
	staleReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "avenue_stale_executions_reclaimed_total",
			Help: "Total action log entries reclaimed from a stuck executing state",
		},
	)
)
