// Copyright 2025 Kadir Pekel
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

// Package metrics exposes Prometheus instrumentation for the agent
// core's four components: tool invocations (registry), loop iterations
// (agentcore), intent matches (intent) and plan computations (planner).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram/gauge the core records. A nil
// *Metrics is valid and every method becomes a no-op, so instrumentation
// can be threaded through unconditionally and disabled by simply not
// constructing one.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	loopIterations *prometheus.CounterVec
	loopDuration   *prometheus.HistogramVec
	loopOutcomes   *prometheus.CounterVec

	intentMatches    *prometheus.CounterVec
	intentMatchScore prometheus.Histogram

	planComputations *prometheus.CounterVec
	planDuration     prometheus.Histogram
	planNodeCount    prometheus.Histogram
}

const namespace = "agentcore"

// New builds a Metrics instance registered against a fresh Prometheus
// registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "calls_total",
		Help: "Total number of tool invocations dispatched through the registry.",
	}, []string{"tool_name", "kind"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tool", Name: "call_duration_seconds",
		Help:    "Tool invocation duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"tool_name", "kind"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tool", Name: "errors_total",
		Help: "Total number of tool invocations that returned an error.",
	}, []string{"tool_name", "kind"})

	m.loopIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "loop", Name: "iterations_total",
		Help: "Total number of agent loop iterations executed.",
	}, []string{"decision"})

	m.loopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "loop", Name: "run_duration_seconds",
		Help:    "Wall-clock duration of a single Run/RunApproved call.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"outcome"})

	m.loopOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "loop", Name: "outcomes_total",
		Help: "Total number of loop runs by terminal outcome (final, staged, ceiling, failure).",
	}, []string{"outcome"})

	m.intentMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "intent", Name: "matches_total",
		Help: "Total number of local intent matches by result (hit, miss).",
	}, []string{"result"})

	m.intentMatchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "intent", Name: "match_score",
		Help:    "Cosine similarity score of the best local intent match.",
		Buckets: prometheus.LinearBuckets(0, 0.05, 21),
	})

	m.planComputations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "planner", Name: "computations_total",
		Help: "Total number of workflow plan computations by result (found, unreachable, error).",
	}, []string{"result"})

	m.planDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "planner", Name: "computation_duration_seconds",
		Help:    "Duration of a single minimum-cost plan computation.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
	})

	m.planNodeCount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "planner", Name: "plan_node_count",
		Help:    "Number of nodes in a computed plan.",
		Buckets: prometheus.LinearBuckets(0, 2, 20),
	})

	m.registry.MustRegister(
		m.toolCalls, m.toolCallDuration, m.toolErrors,
		m.loopIterations, m.loopDuration, m.loopOutcomes,
		m.intentMatches, m.intentMatchScore,
		m.planComputations, m.planDuration, m.planNodeCount,
	)
	return m
}

// RecordToolCall records one Registry.Invoke call.
func (m *Metrics) RecordToolCall(toolName, kind string, duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(toolName, kind).Inc()
	m.toolCallDuration.WithLabelValues(toolName, kind).Observe(duration.Seconds())
	if failed {
		m.toolErrors.WithLabelValues(toolName, kind).Inc()
	}
}

// RecordLoopIteration records one think-act-observe iteration, labeled
// by the decision variant it produced.
func (m *Metrics) RecordLoopIteration(decision string) {
	if m == nil {
		return
	}
	m.loopIterations.WithLabelValues(decision).Inc()
}

// RecordLoopRun records one Run/RunApproved call's outcome and
// duration.
func (m *Metrics) RecordLoopRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.loopOutcomes.WithLabelValues(outcome).Inc()
	m.loopDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordIntentMatch records a local intent matcher lookup. score is the
// best cosine similarity found regardless of whether it cleared the
// configured threshold.
func (m *Metrics) RecordIntentMatch(hit bool, score float64) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.intentMatches.WithLabelValues(result).Inc()
	m.intentMatchScore.Observe(score)
}

// RecordPlanComputation records one workflow planner minimum-cost-path
// computation.
func (m *Metrics) RecordPlanComputation(result string, duration time.Duration, nodeCount int) {
	if m == nil {
		return
	}
	m.planComputations.WithLabelValues(result).Inc()
	m.planDuration.Observe(duration.Seconds())
	m.planNodeCount.Observe(float64(nodeCount))
}

// Handler returns the Prometheus scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
