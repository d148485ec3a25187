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

package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/logger"
)

// MultiQueryExpander generates alternative phrasings of a query to improve
// recall when documents use different terminology than the user.
type MultiQueryExpander struct {
	llm         llms.Generator
	numVariants int
	logger      *slog.Logger
}

// NewMultiQueryExpander creates an expander producing numVariants phrasings.
func NewMultiQueryExpander(llm llms.Generator, numVariants int) *MultiQueryExpander {
	if numVariants <= 0 {
		numVariants = 3
	}
	return &MultiQueryExpander{
		llm:         llm,
		numVariants: numVariants,
		logger:      logger.GetLogger().With("component", "retriever"),
	}
}

// Expand returns the original query plus generated variants. Generation
// failures degrade to the original query alone; expansion is best effort.
func (e *MultiQueryExpander) Expand(ctx context.Context, query string) []string {
	if e.llm == nil {
		return []string{query}
	}

	prompt := fmt.Sprintf(`Generate %d alternative versions of the following search query.
Each alternative should search for the same information with different
wording, synonyms, or a different angle.

Original query: %q

Respond with only the alternative queries, one per line, without numbering.`,
		e.numVariants, query)

	temp := 0.7
	result, err := e.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{Temperature: &temp, MaxTokens: 200})
	if err != nil {
		e.logger.Warn("Query expansion failed, using original query only", "error", err)
		return []string{query}
	}

	variants := []string{query}
	for _, line := range strings.Split(result.Text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-*"))
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		variants = append(variants, line)
		if len(variants) > e.numVariants {
			break
		}
	}
	return variants
}
