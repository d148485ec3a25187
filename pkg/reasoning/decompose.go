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
	"fmt"
	"strings"

	"github.com/kadirpekel/seeker/pkg/llms"
)

const maxSubQueries = 3

// decompose splits a query into at most maxSubQueries retrievable
// sub-queries. LLM failures fall back to the query itself; decomposition is
// never fatal.
func (e *Engine) decompose(ctx context.Context, queryText string) []string {
	if e.llm == nil {
		return []string{queryText}
	}

	prompt := fmt.Sprintf(`Break this question into at most %d self-contained search queries.
If the question is already simple, return it unchanged.

Question: %s

Respond with only the search queries, one per line, without numbering.`,
		maxSubQueries, queryText)

	result, err := e.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{MaxTokens: 150})
	if err != nil {
		e.logger.Warn("Decomposition failed, using query as-is", "error", err)
		return []string{queryText}
	}

	var subs []string
	for _, line := range strings.Split(result.Text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-*"))
		if line == "" {
			continue
		}
		subs = append(subs, line)
		if len(subs) == maxSubQueries {
			break
		}
	}
	if len(subs) == 0 {
		return []string{queryText}
	}
	return subs
}

// refineQuery rewrites a query after a weak retrieval. Falls back to the
// original text on failure.
func (e *Engine) refineQuery(ctx context.Context, queryText string, assessment RetrievalAssessment) string {
	if e.llm == nil {
		return queryText
	}

	prompt := fmt.Sprintf(`The search below returned weak results (%s). Rewrite it to
retrieve better documents: use more specific terms or resolve ambiguity.

Search: %s

Respond with only the rewritten search query.`, assessment.Quality, queryText)

	result, err := e.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{MaxTokens: 100})
	if err != nil {
		e.logger.Warn("Query refinement failed, keeping original", "error", err)
		return queryText
	}

	refined := strings.TrimSpace(result.Text)
	if refined == "" {
		return queryText
	}
	return refined
}
