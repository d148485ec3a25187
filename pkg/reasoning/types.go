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

// Package reasoning implements the agentic engine: decompose, retrieve,
// observe, evaluate, and reflect under a strict iteration budget.
package reasoning

import "github.com/kadirpekel/seeker/pkg/vector"

// State is one step of the engine's state machine.
type State string

const (
	StateInit               State = "INIT"
	StateDecompose          State = "DECOMPOSE"
	StateRetrieve           State = "RETRIEVE"
	StateEvaluateRetrieval  State = "EVALUATE_RETRIEVAL"
	StateRefineQuery        State = "REFINE_QUERY"
	StateWebFallback        State = "WEB_FALLBACK"
	StateCombine            State = "COMBINE"
	StateGenerate           State = "GENERATE"
	StateEvaluateGeneration State = "EVALUATE_GENERATION"
	StateFinal              State = "FINAL"
	StateFailed             State = "FAILED"
	StateBudgetExhausted    State = "BUDGET_EXHAUSTED"
)

// Quality classifies a retrieval round.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityAmbiguous Quality = "ambiguous"
	QualityPoor      Quality = "poor"
)

// Action is a corrective step taken after a weak retrieval.
type Action string

const (
	ActionUse         Action = "use"
	ActionRefineQuery Action = "refine_query"
	ActionWebSearch   Action = "web_search"
	ActionCombine     Action = "combine"
	ActionRegenerate  Action = "regenerate"
)

// RetrievalAssessment is the evaluator's verdict on one retrieval round.
type RetrievalAssessment struct {
	Quality           Quality `json:"quality"`
	Confidence        float64 `json:"confidence"`
	RecommendedAction Action  `json:"recommended_action"`
	Reasoning         string  `json:"reasoning,omitempty"`
}

// Support classifies how well an answer is grounded in its context.
type Support string

const (
	SupportFull    Support = "fully_supported"
	SupportPartial Support = "partially_supported"
	SupportNone    Support = "not_supported"
)

// Usefulness classifies whether an answer addresses the question.
type Usefulness string

const (
	Useful    Usefulness = "useful"
	NotUseful Usefulness = "not_useful"
)

// GenerationAssessment is the evaluator's verdict on one generated answer.
type GenerationAssessment struct {
	Support    Support    `json:"support"`
	Usefulness Usefulness `json:"usefulness"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// Result is the outcome of one agentic run.
type Result struct {
	Answer      string                 `json:"answer"`
	Sources     []vector.SearchResult  `json:"sources"`
	Assessments []RetrievalAssessment  `json:"assessments,omitempty"`
	Generation  []GenerationAssessment `json:"generation_assessments,omitempty"`
	Iterations  int                    `json:"iterations"`
	Confidence  float64                `json:"confidence"`
	State       State                  `json:"state"`

	// Plan is the decomposition used, persisted with the episode.
	Plan []string `json:"plan,omitempty"`

	// WarmStarted notes that the decomposition came from a past episode.
	WarmStarted bool `json:"warm_started,omitempty"`
}
