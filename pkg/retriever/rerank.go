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
	"sort"
	"strings"

	"github.com/kadirpekel/seeker/pkg/vector"
)

// Reranker reorders retrieved results by a second relevance signal.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []vector.SearchResult) ([]vector.SearchResult, error)
}

// LexicalReranker blends the vector score with query-term overlap. It is the
// default when no cross-encoder service is configured: cheap, deterministic,
// and good at demoting hits that match only in embedding space.
type LexicalReranker struct {
	// VectorWeight controls the blend; the lexical signal gets the rest.
	VectorWeight float64
}

// NewLexicalReranker creates a reranker with the default 0.7/0.3 blend.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{VectorWeight: 0.7}
}

// Rerank implements Reranker.
func (r *LexicalReranker) Rerank(_ context.Context, query string, results []vector.SearchResult) ([]vector.SearchResult, error) {
	terms := tokenize(query)
	if len(terms) == 0 || len(results) == 0 {
		return results, nil
	}

	out := make([]vector.SearchResult, len(results))
	copy(out, results)
	for i := range out {
		overlap := termOverlap(terms, out[i].Text)
		out[i].Score = r.VectorWeight*out[i].Score + (1-r.VectorWeight)*overlap
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func tokenize(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if len(word) > 2 {
			terms[word] = true
		}
	}
	return terms
}

// termOverlap is the fraction of query terms present in the text.
func termOverlap(terms map[string]bool, text string) float64 {
	docTerms := tokenize(text)
	matched := 0
	for term := range terms {
		if docTerms[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

var _ Reranker = (*LexicalReranker)(nil)
