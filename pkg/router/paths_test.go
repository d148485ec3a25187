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

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/reasoning"
	"github.com/kadirpekel/seeker/pkg/strategy"
	"github.com/kadirpekel/seeker/pkg/vector"
)

type fakeRetriever struct {
	results []vector.SearchResult
	err     error
	topK    int
}

func (f *fakeRetriever) Name() string { return "fake" }

func (f *fakeRetriever) Search(ctx context.Context, text string, topK int, filters map[string]string) ([]vector.SearchResult, error) {
	f.topK = topK
	return f.results, f.err
}

func (f *fakeRetriever) Health(ctx context.Context) error { return nil }

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []llms.Message, opts *llms.Options) (*llms.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llms.Result{Text: f.text}, nil
}

func TestSpeculativeExecuteProducesGradedAnswer(t *testing.T) {
	ret := &fakeRetriever{results: []vector.SearchResult{
		{ID: "a", Text: "Paris is the capital of France.", Score: 0.9},
		{ID: "b", Text: "France is in Europe.", Score: 0.7},
	}}
	path := NewSpeculativePath(ret, &fakeGenerator{text: "The capital of France is Paris."})

	resp, err := path.Execute(context.Background(),
		query.Query{Text: "What is the capital of France?"},
		query.Analysis{},
		strategy.Selection{Strategy: strategy.Direct, Parameters: strategy.Parameters{TopK: 5}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Answer != "The capital of France is Paris." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if ret.topK != 5 {
		t.Errorf("topK = %d, want 5", ret.topK)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(resp.Sources))
	}
	if resp.Confidence <= 0.3 {
		t.Errorf("confidence = %f, want a grounded answer to score above the floor", resp.Confidence)
	}
	if resp.Strategy != "direct" {
		t.Errorf("strategy = %q", resp.Strategy)
	}
}

func TestSpeculativeRetrievalErrorPropagates(t *testing.T) {
	ret := &fakeRetriever{err: context.DeadlineExceeded}
	path := NewSpeculativePath(ret, &fakeGenerator{text: "unused"})

	_, err := path.Execute(context.Background(), query.Query{Text: "anything"},
		query.Analysis{}, strategy.Selection{})
	if err == nil {
		t.Fatal("want retrieval error")
	}
}

type fakeEngine struct {
	result *reasoning.Result
	err    error
	params strategy.Parameters
}

func (f *fakeEngine) Execute(ctx context.Context, q query.Query, params strategy.Parameters) (*reasoning.Result, error) {
	f.params = params
	return f.result, f.err
}

func TestAgenticDefaultsIterationBudget(t *testing.T) {
	engineCfg := config.EngineConfig{}
	engineCfg.SetDefaults()

	eng := &fakeEngine{result: &reasoning.Result{
		Answer: "deep answer", Confidence: 0.8, Iterations: 2, State: reasoning.StateFinal,
	}}
	path := NewAgenticPath(eng, engineCfg)

	resp, err := path.Execute(context.Background(), query.Query{Text: "anything"},
		query.Analysis{},
		strategy.Selection{Strategy: strategy.Hybrid, Parameters: strategy.Parameters{TopK: 10}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if eng.params.MaxIterations != engineCfg.MaxIterations {
		t.Errorf("MaxIterations = %d, want configured default %d",
			eng.params.MaxIterations, engineCfg.MaxIterations)
	}
	if resp.Iterations != 2 || resp.Confidence != 0.8 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAgenticKeepsExplicitIterationBudget(t *testing.T) {
	engineCfg := config.EngineConfig{}
	engineCfg.SetDefaults()

	eng := &fakeEngine{result: &reasoning.Result{Answer: "x", State: reasoning.StateFinal}}
	path := NewAgenticPath(eng, engineCfg)

	_, err := path.Execute(context.Background(), query.Query{Text: "anything"},
		query.Analysis{},
		strategy.Selection{Parameters: strategy.Parameters{MaxIterations: 2}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if eng.params.MaxIterations != 2 {
		t.Errorf("MaxIterations = %d, want 2", eng.params.MaxIterations)
	}
}

func TestAgenticEmptyTerminalStateIsAnError(t *testing.T) {
	eng := &fakeEngine{result: &reasoning.Result{State: reasoning.StateBudgetExhausted}}
	path := NewAgenticPath(eng, config.EngineConfig{MaxIterations: 3})

	_, err := path.Execute(context.Background(), query.Query{Text: "anything"},
		query.Analysis{}, strategy.Selection{})
	if err == nil {
		t.Fatal("want error for an answerless terminal state")
	}
}
