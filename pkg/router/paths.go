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
	"fmt"
	"strings"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/reasoning"
	"github.com/kadirpekel/seeker/pkg/retriever"
	"github.com/kadirpekel/seeker/pkg/strategy"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// SpeculativePath is the single-shot retrieve-and-generate path. It grades
// its own output with cheap heuristics only; LLM-graded evaluation stays on
// the agentic side.
type SpeculativePath struct {
	retriever retriever.Retriever
	llm       llms.Generator
}

// NewSpeculativePath builds the fast path over the vector retriever.
func NewSpeculativePath(ret retriever.Retriever, llm llms.Generator) *SpeculativePath {
	return &SpeculativePath{retriever: ret, llm: llm}
}

var _ Path = (*SpeculativePath)(nil)

// Execute retrieves once and generates once.
func (p *SpeculativePath) Execute(ctx context.Context, q query.Query, analysis query.Analysis, sel strategy.Selection) (*Response, error) {
	topK := sel.Parameters.TopK
	if topK <= 0 {
		topK = 5
	}

	results, err := p.retriever.Search(ctx, q.Text, topK, q.Constraints)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for i, doc := range results {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, snippet(doc.Text, 800))
	}

	temp := sel.Parameters.Temperature
	prompt := fmt.Sprintf(`Answer the question concisely using the numbered context passages.
If the context does not cover the question, say so briefly.

Context:
%s
Question: %s`, sb.String(), q.Text)

	gen, err := p.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{Temperature: &temp})
	if err != nil {
		return nil, errkind.Wrapf(errkind.GenerationFailure, err, "speculative generation failed")
	}
	answer := strings.TrimSpace(gen.Text)

	return &Response{
		Answer:     answer,
		Sources:    results,
		Confidence: speculativeConfidence(results, q.Text, answer),
		Strategy:   string(sel.Strategy),
	}, nil
}

// speculativeConfidence blends retrieval strength (mean of the top scores)
// with a lexical answer-grounding estimate, weighted 0.4/0.6 like the
// agentic path's final score.
func speculativeConfidence(results []vector.SearchResult, question, answer string) float64 {
	var retrieval float64
	n := 0
	for i, r := range results {
		if i >= 3 {
			break
		}
		retrieval += r.Score
		n++
	}
	if n > 0 {
		retrieval /= float64(n)
	}

	grounding := termOverlapRatio(question, answer)
	conf := 0.4*retrieval + 0.6*grounding
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

// termOverlapRatio is the fraction of question terms echoed in the answer.
func termOverlapRatio(question, answer string) float64 {
	qTerms := strings.Fields(strings.ToLower(question))
	if len(qTerms) == 0 || answer == "" {
		return 0
	}
	answerLower := strings.ToLower(answer)
	hits := 0
	for _, term := range qTerms {
		term = strings.Trim(term, ".,?!\"'")
		if len(term) < 3 {
			continue
		}
		if strings.Contains(answerLower, term) {
			hits++
		}
	}
	// Anchor the ratio so a plausible answer lands in the useful range.
	ratio := float64(hits) / float64(len(qTerms))
	return 0.3 + 0.7*ratio
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// agenticEngine is the slice of the reasoning engine the path needs.
type agenticEngine interface {
	Execute(ctx context.Context, q query.Query, params strategy.Parameters) (*reasoning.Result, error)
}

// AgenticPath runs the full reasoning loop.
type AgenticPath struct {
	engine agenticEngine
	cfg    config.EngineConfig
}

// NewAgenticPath builds the deep path over the reasoning engine.
func NewAgenticPath(engine agenticEngine, cfg config.EngineConfig) *AgenticPath {
	return &AgenticPath{engine: engine, cfg: cfg}
}

var _ Path = (*AgenticPath)(nil)

// Execute runs the reasoning loop. Strategies that carry no iteration budget
// of their own get the configured default.
func (p *AgenticPath) Execute(ctx context.Context, q query.Query, analysis query.Analysis, sel strategy.Selection) (*Response, error) {
	params := sel.Parameters
	if params.MaxIterations <= 0 {
		params.MaxIterations = p.cfg.MaxIterations
	}

	result, err := p.engine.Execute(ctx, q, params)
	if err != nil {
		return nil, err
	}
	if result.State != reasoning.StateFinal && result.Answer == "" {
		return nil, errkind.Newf(errkind.Internal,
			"agentic loop ended in %s without an answer", result.State)
	}

	return &Response{
		Answer:     result.Answer,
		Sources:    result.Sources,
		Confidence: result.Confidence,
		Strategy:   string(sel.Strategy),
		Iterations: result.Iterations,
	}, nil
}
