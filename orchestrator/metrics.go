// Copyright 2025 AxonFlow
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

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepthink_stage_duration_milliseconds",
			Help:    "Pipeline stage duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 2000, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"stage"},
	)
	promStageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepthink_stage_failures_total",
			Help: "Total number of fatal stage failures",
		},
		[]string{"stage"},
	)
	promExpertResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepthink_expert_results_total",
			Help: "Total number of expert results by status",
		},
		[]string{"status"},
	)
	promLLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepthink_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"provider", "status"},
	)
	promSearches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepthink_search_requests_total",
			Help: "Search enrichment outcomes",
		},
		[]string{"outcome"},
	)
	promRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepthink_runs_total",
			Help: "Total number of finished runs by status",
		},
		[]string{"status"},
	)
	promRunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepthink_runs_in_flight",
			Help: "Number of background task runs currently executing",
		},
	)
	promTasksEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepthink_tasks_evicted_total",
			Help: "Total number of tasks evicted from the registry",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(promStageDuration)
	prometheus.MustRegister(promStageFailures)
	prometheus.MustRegister(promExpertResults)
	prometheus.MustRegister(promLLMCalls)
	prometheus.MustRegister(promSearches)
	prometheus.MustRegister(promRuns)
	prometheus.MustRegister(promRunsInFlight)
	prometheus.MustRegister(promTasksEvicted)
}
