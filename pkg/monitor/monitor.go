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

// Package monitor collects per-request events into time-bucketed rolling
// windows and derives timing percentiles, confidence statistics, error
// rates, and alerts.
package monitor

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/logger"
)

// Event is one completed request as the router saw it. Durations and
// confidences are negative when the corresponding path did not run.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`

	// FirstPath names the path that completed first.
	FirstPath string `json:"first_path,omitempty"`

	SpeculativeMs   float64 `json:"speculative_ms"`
	AgenticMs       float64 `json:"agentic_ms"`
	SpeculativeConf float64 `json:"speculative_conf"`
	AgenticConf     float64 `json:"agentic_conf"`

	// ErrorKind is set when the request failed.
	ErrorKind string `json:"error_kind,omitempty"`

	// Anomaly marks a run where the agentic result scored strictly below
	// the speculative one.
	Anomaly bool `json:"anomaly,omitempty"`
}

// NewEvent returns an event with path fields marked absent.
func NewEvent(mode string) Event {
	return Event{
		Timestamp:       time.Now(),
		Mode:            mode,
		SpeculativeMs:   -1,
		AgenticMs:       -1,
		SpeculativeConf: -1,
		AgenticConf:     -1,
	}
}

// PathStats aggregates timings for one path within the window.
type PathStats struct {
	Count int     `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// Stats is a snapshot over the rolling window.
type Stats struct {
	Events int `json:"events"`

	// Speculative / Agentic timing percentiles, plus per-mode variants.
	Speculative PathStats            `json:"speculative"`
	Agentic     PathStats            `json:"agentic"`
	ByMode      map[string]PathStats `json:"by_mode"`

	SpeculativeConfMean float64 `json:"speculative_conf_mean"`
	AgenticConfMean     float64 `json:"agentic_conf_mean"`

	// ConfDeltaMean is the mean agentic-minus-speculative confidence gap
	// over requests where both paths reported.
	ConfDeltaMean float64 `json:"conf_delta_mean"`

	ErrorRate    float64        `json:"error_rate"`
	ErrorsByKind map[string]int `json:"errors_by_kind,omitempty"`
	ModeCounts   map[string]int `json:"mode_counts"`
	Anomalies    int            `json:"anomalies"`

	Alerts []string `json:"alerts,omitempty"`
}

type bucket struct {
	start  int64
	events []Event
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg     config.MonitorConfig
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	buckets []*bucket
}

// New creates a monitor. metrics may be nil when the exporter is disabled.
func New(cfg config.MonitorConfig, metrics *Metrics) *Monitor {
	return &Monitor{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.GetLogger().With("component", "monitor"),
	}
}

// Record files an event into the current bucket and forwards it to the
// exported instruments.
func (m *Monitor) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	bucketStart := ev.Timestamp.Unix() / int64(m.cfg.BucketSeconds) * int64(m.cfg.BucketSeconds)

	m.mu.Lock()
	var b *bucket
	if n := len(m.buckets); n > 0 && m.buckets[n-1].start == bucketStart {
		b = m.buckets[n-1]
	} else {
		b = &bucket{start: bucketStart}
		m.buckets = append(m.buckets, b)
		if len(m.buckets) > m.cfg.WindowBuckets {
			m.buckets = m.buckets[len(m.buckets)-m.cfg.WindowBuckets:]
		}
	}
	b.events = append(b.events, ev)
	m.mu.Unlock()

	m.metrics.observeEvent(ev)

	if ev.Anomaly {
		m.logger.Warn("Agentic result scored below speculative",
			"mode", ev.Mode,
			"speculative_conf", ev.SpeculativeConf,
			"agentic_conf", ev.AgenticConf)
	}
}

// Snapshot computes statistics and alerts over the rolling window.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	var events []Event
	for _, b := range m.buckets {
		events = append(events, b.events...)
	}
	m.mu.Unlock()

	stats := Stats{
		Events:       len(events),
		ByMode:       make(map[string]PathStats),
		ErrorsByKind: make(map[string]int),
		ModeCounts:   make(map[string]int),
	}
	if len(events) == 0 {
		return stats
	}

	var specMs, agentMs []float64
	byMode := make(map[string][]float64)
	var specConfSum, agentConfSum, deltaSum float64
	var specConfN, agentConfN, deltaN, errors int

	for _, ev := range events {
		stats.ModeCounts[ev.Mode]++
		if ev.SpeculativeMs >= 0 {
			specMs = append(specMs, ev.SpeculativeMs)
			byMode[ev.Mode] = append(byMode[ev.Mode], ev.SpeculativeMs)
		}
		if ev.AgenticMs >= 0 {
			agentMs = append(agentMs, ev.AgenticMs)
			byMode[ev.Mode] = append(byMode[ev.Mode], ev.AgenticMs)
		}
		if ev.SpeculativeConf >= 0 {
			specConfSum += ev.SpeculativeConf
			specConfN++
		}
		if ev.AgenticConf >= 0 {
			agentConfSum += ev.AgenticConf
			agentConfN++
		}
		if ev.SpeculativeConf >= 0 && ev.AgenticConf >= 0 {
			deltaSum += ev.AgenticConf - ev.SpeculativeConf
			deltaN++
		}
		if ev.ErrorKind != "" {
			errors++
			stats.ErrorsByKind[ev.ErrorKind]++
		}
		if ev.Anomaly {
			stats.Anomalies++
		}
	}

	stats.Speculative = pathStats(specMs)
	stats.Agentic = pathStats(agentMs)
	for mode, samples := range byMode {
		stats.ByMode[mode] = pathStats(samples)
	}
	if specConfN > 0 {
		stats.SpeculativeConfMean = specConfSum / float64(specConfN)
	}
	if agentConfN > 0 {
		stats.AgenticConfMean = agentConfSum / float64(agentConfN)
	}
	if deltaN > 0 {
		stats.ConfDeltaMean = deltaSum / float64(deltaN)
	}
	stats.ErrorRate = float64(errors) / float64(len(events))

	stats.Alerts = m.alerts(stats)
	return stats
}

func (m *Monitor) alerts(stats Stats) []string {
	var alerts []string
	if stats.ErrorRate > m.cfg.AlertErrorRate {
		alert := "error rate above threshold"
		m.logger.Error("Alert: windowed error rate exceeded",
			"error_rate", stats.ErrorRate, "threshold", m.cfg.AlertErrorRate)
		alerts = append(alerts, alert)
	}
	if stats.Agentic.Count > 0 && stats.Agentic.P95Ms > float64(m.cfg.AlertP95Ms) {
		alert := "agentic p95 latency regression"
		m.logger.Error("Alert: agentic p95 regressed",
			"p95_ms", stats.Agentic.P95Ms, "threshold_ms", m.cfg.AlertP95Ms)
		alerts = append(alerts, alert)
	}
	return alerts
}

// ObserveCache forwards cache counters to the exported instruments.
func (m *Monitor) ObserveCache(l1Hits, l1Misses, l2Hits, l2Misses int64) {
	m.metrics.observeCache(l1Hits, l1Misses, l2Hits, l2Misses)
}

func pathStats(samples []float64) PathStats {
	if len(samples) == 0 {
		return PathStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return PathStats{
		Count: len(sorted),
		P50Ms: percentile(sorted, 50),
		P95Ms: percentile(sorted, 95),
		P99Ms: percentile(sorted, 99),
	}
}

// percentile uses the nearest-rank method over an ascending sample.
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
