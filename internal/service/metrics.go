// Copyright 2026 The scriptd Authors
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

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptd_lifecycle_transitions_total",
			Help: "Total lifecycle state transitions by resulting state",
		},
		[]string{"state"},
	)

	subscriberErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scriptd_subscriber_errors_total",
			Help: "Total subscriber errors absorbed at the dispatch boundary, by event category",
		},
		[]string{"category"},
	)

	forcedTerminationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptd_forced_terminations_total",
			Help: "Total script sessions forcibly terminated after the stop timeout",
		},
	)

	launchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scriptd_launch_failures_total",
			Help: "Total script session launch failures",
		},
	)
)
