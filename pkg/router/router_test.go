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

package router

import (
	"context"
	"testing"
	"time"

	"github.com/kadirpekel/seeker/pkg/cache"
	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/monitor"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/strategy"
)

// fakePath returns a canned response after an optional delay, or fails fast.
// With delay set it honors the path context's deadline like a real path.
type fakePath struct {
	response *Response
	err      error
	delay    time.Duration
	calls    int
}

func (p *fakePath) Execute(ctx context.Context, q query.Query, analysis query.Analysis, sel strategy.Selection) (*Response, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, errkind.Wrap(errkind.KindOf(ctx.Err()), "path interrupted", ctx.Err())
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	resp := *p.response
	return &resp, nil
}

func testRouter(spec, agent Path, cfg config.RouterConfig) *Router {
	strategyCfg := config.StrategyConfig{}
	strategyCfg.SetDefaults()
	selector := strategy.NewSelector(strategy.NewTracker(strategyCfg.PerformanceWindowSize), strategyCfg)

	monitorCfg := config.MonitorConfig{}
	monitorCfg.SetDefaults()

	return New(query.NewAnalyzer(), selector, spec, agent,
		monitor.New(monitorCfg, nil), nil, cfg)
}

func routerConfig() config.RouterConfig {
	cfg := config.RouterConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestFastModeUsesSpeculativeOnly(t *testing.T) {
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.7}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.9}}
	r := testRouter(spec, agent, routerConfig())

	resp, err := r.Route(context.Background(), query.Query{Text: "What is the capital of France?", Mode: query.ModeFast}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "quick" || resp.Status != StatusFinal {
		t.Errorf("got %q/%s, want quick/final", resp.Answer, resp.Status)
	}
	if agent.calls != 0 {
		t.Errorf("agentic path ran %d times in fast mode", agent.calls)
	}
}

func TestDeepModeUsesAgenticOnly(t *testing.T) {
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.7}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.9, Iterations: 2}}
	r := testRouter(spec, agent, routerConfig())

	resp, err := r.Route(context.Background(), query.Query{Text: "Why did the system fail?", Mode: query.ModeDeep}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "deep" || resp.Status != StatusFinal {
		t.Errorf("got %q/%s, want deep/final", resp.Answer, resp.Status)
	}
	if spec.calls != 0 {
		t.Errorf("speculative path ran %d times in deep mode", spec.calls)
	}
}

func TestFastModeTimeoutIsAnError(t *testing.T) {
	cfg := routerConfig()
	cfg.SpeculativeTimeoutMs = 20
	spec := &fakePath{response: &Response{Answer: "late"}, delay: 500 * time.Millisecond}
	r := testRouter(spec, &fakePath{}, cfg)

	_, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeFast}, nil)
	if !errkind.Is(err, errkind.Timeout) {
		t.Fatalf("err = %v, want timeout kind", err)
	}
}

func TestBalancedAgenticSupersedes(t *testing.T) {
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.6}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.85}, delay: 30 * time.Millisecond}
	r := testRouter(spec, agent, routerConfig())

	var interims []Response
	resp, err := r.Route(context.Background(),
		query.Query{Text: "Explain the failure in detail", Mode: query.ModeBalanced},
		func(r Response) { interims = append(interims, r) })
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "deep" || resp.Status != StatusFinal {
		t.Errorf("final = %q/%s, want deep/final", resp.Answer, resp.Status)
	}
	if len(interims) != 1 {
		t.Fatalf("interims = %d, want 1", len(interims))
	}
	if interims[0].Answer != "quick" || interims[0].Status != StatusInterim {
		t.Errorf("interim = %q/%s, want quick/interim", interims[0].Answer, interims[0].Status)
	}
}

func TestBalancedKeepsStrongerSpeculative(t *testing.T) {
	// The agentic result scoring strictly below the speculative one is an
	// anomaly: the higher-confidence answer wins.
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.9}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.5}, delay: 20 * time.Millisecond}
	r := testRouter(spec, agent, routerConfig())

	resp, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeBalanced}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "quick" || resp.Status != StatusFinal {
		t.Errorf("got %q/%s, want quick/final", resp.Answer, resp.Status)
	}
	stats := r.monitor.Snapshot()
	if stats.Anomalies != 1 {
		t.Errorf("Anomalies = %d, want 1", stats.Anomalies)
	}
}

func TestBalancedEqualConfidencePrefersAgentic(t *testing.T) {
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.8}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.8}, delay: 20 * time.Millisecond}
	r := testRouter(spec, agent, routerConfig())

	resp, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeBalanced}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "deep" {
		t.Errorf("answer = %q, want deep on equal confidence", resp.Answer)
	}
}

func TestBalancedAgenticTimeoutFinalizesPreliminary(t *testing.T) {
	cfg := routerConfig()
	cfg.AgenticTimeoutMs = 30
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.7}}
	agent := &fakePath{response: &Response{Answer: "never"}, delay: 2 * time.Second}
	r := testRouter(spec, agent, cfg)

	resp, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeBalanced}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "quick" || resp.Status != StatusPreliminary {
		t.Errorf("got %q/%s, want quick/preliminary", resp.Answer, resp.Status)
	}
}

func TestBalancedAgenticFailureFallsBack(t *testing.T) {
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.7}}
	agent := &fakePath{err: errkind.New(errkind.GenerationFailure, "model unavailable")}
	r := testRouter(spec, agent, routerConfig())

	resp, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeBalanced}, nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Status != StatusFallback {
		t.Errorf("status = %s, want fallback", resp.Status)
	}
}

func TestBalancedBothFailReturnsMostInformative(t *testing.T) {
	spec := &fakePath{err: errkind.New(errkind.Internal, "index cold")}
	agent := &fakePath{err: errkind.New(errkind.GenerationFailure, "model unavailable")}
	r := testRouter(spec, agent, routerConfig())

	_, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeBalanced}, nil)
	if err == nil {
		t.Fatal("want error when both paths fail")
	}
	if !errkind.Is(err, errkind.GenerationFailure) {
		t.Errorf("err = %v, want the more informative generation failure", err)
	}
}

func TestBalancedZeroSpeculativeTimeoutSkipsSpeculative(t *testing.T) {
	cfg := routerConfig()
	cfg.SpeculativeTimeoutMs = 0
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.99}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.5}}
	r := testRouter(spec, agent, cfg)

	var interims []Response
	resp, err := r.Route(context.Background(),
		query.Query{Text: "anything", Mode: query.ModeBalanced},
		func(r Response) { interims = append(interims, r) })
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Answer != "deep" {
		t.Errorf("answer = %q, want deep", resp.Answer)
	}
	if spec.calls != 0 {
		t.Errorf("speculative ran %d times with a zero timeout", spec.calls)
	}
	if len(interims) != 0 {
		t.Errorf("interims = %d, want 0", len(interims))
	}
}

func TestLowConfidenceInterimNotStreamed(t *testing.T) {
	cfg := routerConfig()
	cfg.MinInterimConfidence = 0.5
	spec := &fakePath{response: &Response{Answer: "shaky", Confidence: 0.2}}
	agent := &fakePath{response: &Response{Answer: "deep", Confidence: 0.8}, delay: 30 * time.Millisecond}
	r := testRouter(spec, agent, cfg)

	var interims []Response
	resp, err := r.Route(context.Background(),
		query.Query{Text: "anything", Mode: query.ModeBalanced},
		func(r Response) { interims = append(interims, r) })
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(interims) != 0 {
		t.Errorf("interims = %d, want 0 below the confidence floor", len(interims))
	}
	if resp.Answer != "deep" {
		t.Errorf("answer = %q, want deep", resp.Answer)
	}
}

func TestFinalAnswerIsCachedAndReplayed(t *testing.T) {
	cacheCfg := config.CacheConfig{}
	cacheCfg.SetDefaults()
	answerCache := cache.New(cacheCfg)
	defer answerCache.Close()

	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.7}}
	strategyCfg := config.StrategyConfig{}
	strategyCfg.SetDefaults()
	selector := strategy.NewSelector(strategy.NewTracker(strategyCfg.PerformanceWindowSize), strategyCfg)
	monitorCfg := config.MonitorConfig{}
	monitorCfg.SetDefaults()
	r := New(query.NewAnalyzer(), selector, spec, &fakePath{},
		monitor.New(monitorCfg, nil), answerCache, routerConfig())

	q := query.Query{Text: "What is the capital of France?", Mode: query.ModeFast}
	if _, err := r.Route(context.Background(), q, nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	resp, err := r.Route(context.Background(), q, nil)
	if err != nil {
		t.Fatalf("Route (cached): %v", err)
	}
	if resp.Answer != "quick" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if spec.calls != 1 {
		t.Errorf("path ran %d times, want 1 with the second served from cache", spec.calls)
	}
}

func TestRouteRecordsMonitorEvent(t *testing.T) {
	spec := &fakePath{response: &Response{Answer: "quick", Confidence: 0.7}}
	r := testRouter(spec, &fakePath{}, routerConfig())

	if _, err := r.Route(context.Background(), query.Query{Text: "anything", Mode: query.ModeFast}, nil); err != nil {
		t.Fatalf("Route: %v", err)
	}
	stats := r.monitor.Snapshot()
	if stats.Events != 1 {
		t.Fatalf("Events = %d, want 1", stats.Events)
	}
	if stats.ModeCounts["fast"] != 1 {
		t.Errorf("ModeCounts = %v", stats.ModeCounts)
	}
}
