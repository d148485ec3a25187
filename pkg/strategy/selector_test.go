package strategy

import (
	"sync"
	"testing"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/query"
)

func testSelector() *Selector {
	cfg := config.StrategyConfig{}
	cfg.SetDefaults()
	return NewSelector(NewTracker(cfg.PerformanceWindowSize), cfg)
}

func TestRuleTable(t *testing.T) {
	tests := []struct {
		name     string
		analysis query.Analysis
		want     Name
		wantTopK int
	}{
		{"simple factual", query.Analysis{Complexity: 0.2, Type: query.TypeFactual}, Direct, 5},
		{"simple non-factual", query.Analysis{Complexity: 0.2, Type: query.TypeConversational}, Hybrid, 7},
		{"medium with reasoning", query.Analysis{Complexity: 0.5, Type: query.TypeAnalytical, RequiresReasoning: true}, SelfReflective, 10},
		{"medium without reasoning", query.Analysis{Complexity: 0.5, Type: query.TypeAnalytical}, Hybrid, 10},
		{"complex multi-step", query.Analysis{Complexity: 0.8, Type: query.TypeMultiStep}, MultiHop, 12},
		{"complex multi-source", query.Analysis{Complexity: 0.8, Type: query.TypeAnalytical, RequiresMultipleSources: true}, Corrective, 15},
		{"complex fallthrough", query.Analysis{Complexity: 0.8, Type: query.TypeAnalytical}, SelfReflective, 12},
		{"boundary 0.35 is medium", query.Analysis{Complexity: 0.35, Type: query.TypeFactual}, Hybrid, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := testSelector().Select(tt.analysis, Context{})
			if sel.Strategy != tt.want {
				t.Errorf("Strategy = %q, want %q", sel.Strategy, tt.want)
			}
			if sel.Parameters.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", sel.Parameters.TopK, tt.wantTopK)
			}
		})
	}
}

func TestMultiStepBelowHighComplexityStaysHybrid(t *testing.T) {
	// Rules apply in order: a medium-complexity multi-step query matches
	// the complexity rules before the multi-step rule.
	sel := testSelector().Select(query.Analysis{Complexity: 0.5, Type: query.TypeMultiStep}, Context{})
	if sel.Strategy != Hybrid {
		t.Errorf("Strategy = %q, want %q", sel.Strategy, Hybrid)
	}
}

func TestPerformanceOverride(t *testing.T) {
	s := testSelector()
	analysis := query.Analysis{Complexity: 0.2, Type: query.TypeFactual}

	// Direct is healthy before any history.
	if sel := s.Select(analysis, Context{}); sel.Strategy != Direct {
		t.Fatalf("Strategy = %q, want direct", sel.Strategy)
	}

	// Twenty weak runs push direct below the override threshold.
	for i := 0; i < 20; i++ {
		s.RecordOutcome(Direct, 0.4)
	}
	sel := s.Select(analysis, Context{})
	if sel.Strategy != Hybrid {
		t.Errorf("Strategy = %q, want hybrid after override", sel.Strategy)
	}
	if sel.OverrideReason == "" {
		t.Error("override must be annotated")
	}
}

func TestPerformanceOverrideNeedsFullSample(t *testing.T) {
	s := testSelector()
	for i := 0; i < 19; i++ {
		s.RecordOutcome(Direct, 0.1)
	}
	sel := s.Select(query.Analysis{Complexity: 0.2, Type: query.TypeFactual}, Context{})
	if sel.Strategy != Direct {
		t.Errorf("Strategy = %q; 19 samples must not trigger the override", sel.Strategy)
	}
}

func TestFastModeOverrides(t *testing.T) {
	s := testSelector()
	analysis := query.Analysis{Complexity: 0.5, RequiresReasoning: true}

	sel := s.Select(analysis, Context{FastMode: true})
	if sel.Strategy != Hybrid {
		t.Errorf("Strategy = %q, want hybrid under fast mode", sel.Strategy)
	}
	if sel.Parameters.TopK > 7 {
		t.Errorf("TopK = %d, want <= 7 under fast mode", sel.Parameters.TopK)
	}
}

func TestHighAccuracyOverrides(t *testing.T) {
	s := testSelector()
	analysis := query.Analysis{Complexity: 0.2, Type: query.TypeFactual}

	sel := s.Select(analysis, Context{HighAccuracy: true})
	if sel.Strategy != SelfReflective {
		t.Errorf("Strategy = %q, want self_reflective under high accuracy", sel.Strategy)
	}
	if sel.Parameters.MaxIterations < 3 {
		t.Errorf("MaxIterations = %d, want >= 3", sel.Parameters.MaxIterations)
	}
}

func TestWindowTrimsToCapacity(t *testing.T) {
	w := newPerformanceWindow(3)
	for _, v := range []float64{0.1, 0.2, 0.3, 0.4} {
		w.append(v)
	}
	avg, n := w.recentAverage(10)
	if n != 3 {
		t.Fatalf("samples = %d, want 3", n)
	}
	want := (0.2 + 0.3 + 0.4) / 3
	if avg < want-1e-9 || avg > want+1e-9 {
		t.Errorf("avg = %f, want %f", avg, want)
	}
}

func TestTrackerConcurrentAppends(t *testing.T) {
	tr := NewTracker(100)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.Record(Hybrid, 0.5)
			}
		}()
	}
	wg.Wait()

	avg, n := tr.RecentAverage(Hybrid, 100)
	if n != 100 {
		t.Errorf("samples = %d, want window capacity 100", n)
	}
	if avg != 0.5 {
		t.Errorf("avg = %f, want 0.5", avg)
	}
}
