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

package query

import (
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// Analyzer derives an Analysis from query text. Analyze is deterministic, so
// results may be cached keyed by the text.
type Analyzer struct {
	enc *tiktoken.Tiktoken
}

// NewAnalyzer creates an analyzer. Tokenizer setup failure is not fatal; the
// analyzer falls back to a character-based token estimate.
func NewAnalyzer() *Analyzer {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Analyzer{enc: enc}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "do": true, "does": true, "for": true, "from": true,
	"how": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"with": true, "you": true,
}

var reasoningMarkers = []string{
	"why", "how", "explain", "analyze", "analyse", "compare", "contrast",
	"evaluate", "implication", "cause", "because", "relationship", "trade-off",
	"tradeoff", "pros and cons",
}

var multiSourceMarkers = []string{
	"compare", "versus", " vs ", "difference between", "both", "across",
	"latest", "recent", "combine", "summarize all", "overview of",
}

var multiStepMarkers = []string{
	"then", "first", "after that", "step by step", "and then", "followed by",
	"subsequently", "finally",
}

var conversationalMarkers = []string{
	"hi", "hello", "thanks", "thank you", "can you", "could you", "please",
	"what do you think",
}

// Analyze derives an Analysis from text. Pure function of the text.
func (a *Analyzer) Analyze(text string) Analysis {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(lower)

	an := Analysis{
		EstimatedTokens: a.estimateTokens(text),
		Keywords:        extractKeywords(words),
		Entities:        extractEntities(text),
		Language:        detectLanguage(text),
	}

	an.RequiresReasoning = containsAny(lower, reasoningMarkers)
	an.RequiresMultipleSources = containsAny(lower, multiSourceMarkers)
	an.Type = classify(lower, words)
	an.Complexity = complexity(lower, words, an)
	an.RecommendedMode = recommendMode(an)

	return an
}

// estimateTokens counts tokens with the tokenizer, falling back to len/4.
func (a *Analyzer) estimateTokens(text string) int {
	if a.enc != nil {
		return len(a.enc.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

func classify(lower string, words []string) Type {
	if containsAny(lower, multiStepMarkers) {
		return TypeMultiStep
	}
	// Two or more question marks, or enumerated sub-questions, imply steps.
	if strings.Count(lower, "?") >= 2 {
		return TypeMultiStep
	}
	if containsAny(lower, reasoningMarkers) {
		return TypeAnalytical
	}
	if len(words) <= 4 && containsAny(lower, conversationalMarkers) {
		return TypeConversational
	}
	if strings.HasPrefix(lower, "what is") || strings.HasPrefix(lower, "who is") ||
		strings.HasPrefix(lower, "when ") || strings.HasPrefix(lower, "where ") ||
		strings.HasPrefix(lower, "what are") {
		return TypeFactual
	}
	if containsAny(lower, conversationalMarkers) && !strings.Contains(lower, "?") {
		return TypeConversational
	}
	return TypeFactual
}

// complexity scores [0,1] from length, clause structure, and markers.
func complexity(lower string, words []string, an Analysis) float64 {
	score := 0.0

	// Length contributes up to 0.4.
	switch {
	case len(words) > 40:
		score += 0.4
	case len(words) > 20:
		score += 0.3
	case len(words) > 10:
		score += 0.2
	case len(words) > 5:
		score += 0.1
	}

	// Clause connectors contribute up to 0.2.
	connectors := strings.Count(lower, " and ") + strings.Count(lower, ",") +
		strings.Count(lower, ";")
	if connectors > 4 {
		connectors = 4
	}
	score += float64(connectors) * 0.05

	if an.RequiresReasoning {
		score += 0.25
	}
	if an.RequiresMultipleSources {
		score += 0.15
	}
	if an.Type == TypeMultiStep {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	return score
}

func recommendMode(an Analysis) Mode {
	switch {
	case an.Complexity < 0.3 && !an.RequiresReasoning:
		return ModeFast
	case an.Complexity > 0.7 || an.Type == TypeMultiStep:
		return ModeDeep
	default:
		return ModeBalanced
	}
}

func extractKeywords(words []string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}

// extractEntities picks runs of capitalized words, skipping sentence starts
// that are common question openers.
func extractEntities(text string) []string {
	var entities []string
	var current []string
	seen := make(map[string]bool)

	flush := func() {
		if len(current) == 0 {
			return
		}
		entity := strings.Join(current, " ")
		current = nil
		lower := strings.ToLower(entity)
		if stopwords[lower] || seen[entity] {
			return
		}
		seen[entity] = true
		entities = append(entities, entity)
	}

	for i, w := range strings.Fields(text) {
		trimmed := strings.Trim(w, ".,!?;:\"'()[]")
		if trimmed == "" {
			flush()
			continue
		}
		r := []rune(trimmed)
		if unicode.IsUpper(r[0]) {
			// Skip a capitalized first word that is a question opener.
			if i == 0 && stopwords[strings.ToLower(trimmed)] {
				continue
			}
			current = append(current, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return entities
}

// detectLanguage returns "ko" when Hangul dominates, "en" otherwise.
func detectLanguage(text string) string {
	hangul := 0
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.Is(unicode.Hangul, r) {
				hangul++
			}
		}
	}
	if letters > 0 && hangul*2 > letters {
		return "ko"
	}
	return "en"
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
