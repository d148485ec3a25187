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

package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// Evaluator grades retrievals and generations. LLM-backed when a generator
// is available, with a deterministic heuristic fallback so evaluation never
// blocks the run.
type Evaluator struct {
	llm    llms.Generator
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. llm may be nil, forcing the heuristics.
func NewEvaluator(llm llms.Generator) *Evaluator {
	return &Evaluator{
		llm:    llm,
		logger: logger.GetLogger().With("component", "evaluator"),
	}
}

// EvaluateRetrieval grades one retrieval round against the query.
func (e *Evaluator) EvaluateRetrieval(ctx context.Context, queryText string, results []vector.SearchResult) RetrievalAssessment {
	if e.llm != nil {
		if a, err := e.llmRetrieval(ctx, queryText, results); err == nil {
			return a
		} else {
			e.logger.Warn("LLM retrieval evaluation failed, using heuristic", "error", err)
		}
	}
	return heuristicRetrieval(results)
}

func (e *Evaluator) llmRetrieval(ctx context.Context, queryText string, results []vector.SearchResult) (RetrievalAssessment, error) {
	var sb strings.Builder
	for i, r := range results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "[%d] (score %.2f) %s\n", i+1, r.Score, truncate(r.Text, 300))
	}

	prompt := fmt.Sprintf(`Grade how well these retrieved passages answer the query.

Query: %s

Passages:
%s
Respond with JSON only:
{"quality": "excellent|good|ambiguous|poor", "confidence": 0.0-1.0, "recommended_action": "use|refine_query|web_search|combine", "reasoning": "one sentence"}`,
		queryText, sb.String())

	result, err := e.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{MaxTokens: 200})
	if err != nil {
		return RetrievalAssessment{}, err
	}

	var a RetrievalAssessment
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &a); err != nil {
		return RetrievalAssessment{}, fmt.Errorf("unparseable assessment: %w", err)
	}
	if a.Quality == "" {
		return RetrievalAssessment{}, fmt.Errorf("assessment missing quality")
	}
	a.Confidence = clamp(a.Confidence)
	return a, nil
}

// heuristicRetrieval grades by score distribution: strong top hits mean a
// usable retrieval, thin or flat scores mean trouble.
func heuristicRetrieval(results []vector.SearchResult) RetrievalAssessment {
	if len(results) == 0 {
		return RetrievalAssessment{
			Quality:           QualityPoor,
			Confidence:        0,
			RecommendedAction: ActionWebSearch,
			Reasoning:         "no results retrieved",
		}
	}

	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	mean := sum / float64(len(results))
	top := results[0].Score

	switch {
	case top >= 0.8 && mean >= 0.5:
		return RetrievalAssessment{Quality: QualityExcellent, Confidence: mean, RecommendedAction: ActionUse}
	case top >= 0.6:
		return RetrievalAssessment{Quality: QualityGood, Confidence: mean, RecommendedAction: ActionUse}
	case top >= 0.4:
		return RetrievalAssessment{Quality: QualityAmbiguous, Confidence: mean, RecommendedAction: ActionRefineQuery,
			Reasoning: "top score below confident range"}
	default:
		return RetrievalAssessment{Quality: QualityPoor, Confidence: mean, RecommendedAction: ActionWebSearch,
			Reasoning: "all scores weak"}
	}
}

// EvaluateGeneration grades a generated answer against its context.
func (e *Evaluator) EvaluateGeneration(ctx context.Context, queryText, answer string, contexts []vector.SearchResult) GenerationAssessment {
	if e.llm != nil {
		if a, err := e.llmGeneration(ctx, queryText, answer, contexts); err == nil {
			return a
		} else {
			e.logger.Warn("LLM generation evaluation failed, using heuristic", "error", err)
		}
	}
	return heuristicGeneration(answer, contexts)
}

func (e *Evaluator) llmGeneration(ctx context.Context, queryText, answer string, contexts []vector.SearchResult) (GenerationAssessment, error) {
	var sb strings.Builder
	for i, r := range contexts {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, truncate(r.Text, 300))
	}

	prompt := fmt.Sprintf(`Grade this answer against the question and the provided context.

Question: %s

Answer: %s

Context:
%s
Respond with JSON only:
{"support": "fully_supported|partially_supported|not_supported", "usefulness": "useful|not_useful", "confidence": 0.0-1.0, "reasoning": "one sentence"}`,
		queryText, truncate(answer, 800), sb.String())

	result, err := e.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{MaxTokens: 200})
	if err != nil {
		return GenerationAssessment{}, err
	}

	var a GenerationAssessment
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &a); err != nil {
		return GenerationAssessment{}, fmt.Errorf("unparseable assessment: %w", err)
	}
	if a.Support == "" {
		return GenerationAssessment{}, fmt.Errorf("assessment missing support")
	}
	a.Confidence = clamp(a.Confidence)
	return a, nil
}

// heuristicGeneration checks lexical grounding: answers sharing vocabulary
// with the context are treated as supported.
func heuristicGeneration(answer string, contexts []vector.SearchResult) GenerationAssessment {
	if strings.TrimSpace(answer) == "" {
		return GenerationAssessment{Support: SupportNone, Usefulness: NotUseful, Confidence: 0}
	}

	answerTerms := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(answer)) {
		if len(w) > 3 {
			answerTerms[strings.Trim(w, ".,!?;:")] = true
		}
	}
	contextTerms := make(map[string]bool)
	for _, c := range contexts {
		for _, w := range strings.Fields(strings.ToLower(c.Text)) {
			if len(w) > 3 {
				contextTerms[strings.Trim(w, ".,!?;:")] = true
			}
		}
	}

	matched := 0
	for term := range answerTerms {
		if contextTerms[term] {
			matched++
		}
	}
	overlap := 0.0
	if len(answerTerms) > 0 {
		overlap = float64(matched) / float64(len(answerTerms))
	}

	switch {
	case overlap >= 0.5:
		return GenerationAssessment{Support: SupportFull, Usefulness: Useful, Confidence: overlap}
	case overlap >= 0.2:
		return GenerationAssessment{Support: SupportPartial, Usefulness: Useful, Confidence: overlap}
	default:
		return GenerationAssessment{Support: SupportNone, Usefulness: NotUseful, Confidence: overlap,
			Reasoning: "answer shares little vocabulary with context"}
	}
}

// extractJSON pulls the first {...} block out of an LLM reply, tolerating
// markdown fences and prose around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
