// Copyright 2026 Strand Authors
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

// Package observability provides the runtime's prometheus collectors
// and its otel tracer accessor. Exporter wiring (OTLP and friends) is
// deliberately out of scope; the tracer uses whatever global provider
// the host installed.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the runtime's prometheus collectors. All recording
// methods are nil-safe so instrumentation can stay unconditional.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished   *prometheus.CounterVec
	subscriberDropped prometheus.Counter
	toolExecutions    *prometheus.CounterVec
	turnsStarted      prometheus.Counter
	turnDuration      prometheus.Histogram
	turnIterations    prometheus.Histogram
}

// NewMetrics builds and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strand_events_published_total",
			Help: "Events appended to the per-context log, by kind.",
		}, []string{"kind"}),
		subscriberDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strand_subscriber_dropped_total",
			Help: "Events dropped because a subscriber buffer overflowed.",
		}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strand_tool_executions_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		turnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strand_turns_started_total",
			Help: "Turns accepted by the runtime.",
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strand_turn_duration_seconds",
			Help:    "Wall time of completed turns.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		turnIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strand_turn_iterations",
			Help:    "LLM iterations per completed turn.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	reg.MustRegister(
		m.eventsPublished,
		m.subscriberDropped,
		m.toolExecutions,
		m.turnsStarted,
		m.turnDuration,
		m.turnIterations,
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventPublished counts one published event.
func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

// SubscriberDropped counts one dropped event.
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.subscriberDropped.Inc()
}

// ToolExecuted counts one tool execution outcome (ok, error, missing).
func (m *Metrics) ToolExecuted(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

// TurnStarted counts one accepted turn.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.turnsStarted.Inc()
}

// TurnFinished records duration and iteration count of one turn.
func (m *Metrics) TurnFinished(d time.Duration, iterations int) {
	if m == nil {
		return
	}
	m.turnDuration.Observe(d.Seconds())
	m.turnIterations.Observe(float64(iterations))
}
