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

package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the OpenTelemetry instruments exported through Prometheus.
// A nil *Metrics is a no-op recorder.
type Metrics struct {
	requestsTotal metric.Int64Counter
	errorsTotal   metric.Int64Counter
	pathDuration  metric.Float64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	toolCalls     metric.Int64Counter

	// lastCache holds the previous snapshot so the monotonic counters
	// only receive deltas.
	lastCache cacheCounters
}

type cacheCounters struct {
	l1Hits, l1Misses, l2Hits, l2Misses int64
}

// InitMetrics wires the Prometheus exporter into a meter provider and
// creates the engine's instruments.
func InitMetrics() (*Metrics, error) {
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("seeker")

	m := &Metrics{}

	m.requestsTotal, err = meter.Int64Counter(
		"seeker_requests_total",
		metric.WithDescription("Total routed requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	m.errorsTotal, err = meter.Int64Counter(
		"seeker_request_errors_total",
		metric.WithDescription("Total failed requests by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errors counter: %w", err)
	}

	m.pathDuration, err = meter.Float64Histogram(
		"seeker_path_duration_seconds",
		metric.WithDescription("Execution path duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create path duration histogram: %w", err)
	}

	m.cacheHits, err = meter.Int64Counter(
		"seeker_cache_hits_total",
		metric.WithDescription("Cache hits by tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMisses, err = meter.Int64Counter(
		"seeker_cache_misses_total",
		metric.WithDescription("Cache misses by tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.toolCalls, err = meter.Int64Counter(
		"seeker_tool_calls_total",
		metric.WithDescription("MCP tool calls by server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) observeEvent(ev Event) {
	if m == nil {
		return
	}
	ctx := context.Background()
	modeAttr := attribute.String("mode", ev.Mode)

	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(modeAttr))
	if ev.ErrorKind != "" {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			modeAttr, attribute.String("kind", ev.ErrorKind)))
	}
	if ev.SpeculativeMs >= 0 {
		m.pathDuration.Record(ctx, ev.SpeculativeMs/1000, metric.WithAttributes(
			modeAttr, attribute.String("path", "speculative")))
	}
	if ev.AgenticMs >= 0 {
		m.pathDuration.Record(ctx, ev.AgenticMs/1000, metric.WithAttributes(
			modeAttr, attribute.String("path", "agentic")))
	}
}

func (m *Metrics) observeCache(l1Hits, l1Misses, l2Hits, l2Misses int64) {
	if m == nil {
		return
	}
	ctx := context.Background()
	l1 := attribute.String("tier", "l1")
	l2 := attribute.String("tier", "l2")

	m.cacheHits.Add(ctx, max64(0, l1Hits-m.lastCache.l1Hits), metric.WithAttributes(l1))
	m.cacheMisses.Add(ctx, max64(0, l1Misses-m.lastCache.l1Misses), metric.WithAttributes(l1))
	m.cacheHits.Add(ctx, max64(0, l2Hits-m.lastCache.l2Hits), metric.WithAttributes(l2))
	m.cacheMisses.Add(ctx, max64(0, l2Misses-m.lastCache.l2Misses), metric.WithAttributes(l2))
	m.lastCache = cacheCounters{l1Hits, l1Misses, l2Hits, l2Misses}
}

// ObserveToolCall counts one MCP tool invocation.
func (m *Metrics) ObserveToolCall(server string) {
	if m == nil {
		return
	}
	m.toolCalls.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("server", server)))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
