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

// Package query defines the inbound query model and its derived analysis.
package query

// Mode selects the execution profile for a query.
type Mode string

const (
	// ModeFast runs only the speculative path.
	ModeFast Mode = "fast"

	// ModeBalanced runs both paths and streams interim then final.
	ModeBalanced Mode = "balanced"

	// ModeDeep runs only the agentic path.
	ModeDeep Mode = "deep"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeFast, ModeBalanced, ModeDeep:
		return true
	}
	return false
}

// Type classifies the shape of a query.
type Type string

const (
	TypeFactual        Type = "factual"
	TypeAnalytical     Type = "analytical"
	TypeMultiStep      Type = "multi_step"
	TypeConversational Type = "conversational"
)

// Query is an immutable inbound request.
type Query struct {
	// Text is the natural-language question.
	Text string `json:"text"`

	// SessionID optionally groups queries into a conversation.
	SessionID string `json:"session_id,omitempty"`

	// Mode is the requested execution profile.
	Mode Mode `json:"mode,omitempty"`

	// Constraints carries caller-supplied hints, e.g. "fast_mode",
	// "high_accuracy", "knowledgebase_id".
	Constraints map[string]string `json:"constraints,omitempty"`
}

// Constraint returns a constraint value, or "" when absent.
func (q Query) Constraint(key string) string {
	if q.Constraints == nil {
		return ""
	}
	return q.Constraints[key]
}

// HasConstraint reports whether a boolean-style constraint is set truthy.
func (q Query) HasConstraint(key string) bool {
	switch q.Constraint(key) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// Analysis is derived from a query's text alone. It is a pure function of the
// text and therefore cacheable by text hash.
type Analysis struct {
	// Complexity is in [0,1].
	Complexity float64 `json:"complexity"`

	// Type is the query classification.
	Type Type `json:"type"`

	// RequiresReasoning indicates multi-clause or causal questions.
	RequiresReasoning bool `json:"requires_reasoning"`

	// RequiresMultipleSources indicates comparative or aggregating questions.
	RequiresMultipleSources bool `json:"requires_multiple_sources"`

	// EstimatedTokens is the tokenizer estimate for the text.
	EstimatedTokens int `json:"estimated_tokens"`

	// Keywords are stopword-filtered salient terms.
	Keywords []string `json:"keywords,omitempty"`

	// Entities are capitalized spans detected in the text.
	Entities []string `json:"entities,omitempty"`

	// Language is a coarse language tag ("ko" or "en").
	Language string `json:"language"`

	// RecommendedMode is the analyzer's suggested execution profile.
	RecommendedMode Mode `json:"recommended_mode"`
}
