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
	"encoding/json"
	"log/slog"

	"github.com/kadirpekel/seeker/pkg/cache"
	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/embedders"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// searcher is the slice of the vector store the retriever needs.
type searcher interface {
	Search(ctx context.Context, req vector.SearchRequest) ([]vector.SearchResult, error)
	HealthCheck(ctx context.Context) vector.Health
}

// VectorRetriever searches the Milvus-backed chunk store. Query complexity
// drives the store's adaptive probe parameters; optional multi-query
// expansion and reranking refine recall and precision.
type VectorRetriever struct {
	analyzer *query.Analyzer
	embedder embedders.Embedder
	store    searcher
	cache    *cache.Cache
	expander *MultiQueryExpander
	reranker Reranker
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

// NewVectorRetriever wires the vector retriever. expander and reranker may be
// nil, disabling the corresponding step.
func NewVectorRetriever(
	analyzer *query.Analyzer,
	embedder embedders.Embedder,
	store searcher,
	c *cache.Cache,
	expander *MultiQueryExpander,
	reranker Reranker,
	cfg config.RetrievalConfig,
) *VectorRetriever {
	return &VectorRetriever{
		analyzer: analyzer,
		embedder: embedder,
		store:    store,
		cache:    c,
		expander: expander,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger.GetLogger().With("component", "retriever", "source", "vector"),
	}
}

// Name implements Retriever.
func (r *VectorRetriever) Name() string { return "vector" }

// Search implements Retriever.
func (r *VectorRetriever) Search(ctx context.Context, text string, topK int, filters map[string]string) ([]vector.SearchResult, error) {
	if text == "" {
		return nil, errkind.New(errkind.InvalidArgument, "query text cannot be empty")
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	key := cacheKey("vector", text, topK, filters)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, cache.TypeRetrieval, key); ok {
			var results []vector.SearchResult
			if err := json.Unmarshal(cached, &results); err == nil {
				return results, nil
			}
		}
	}

	analysis := r.analyzer.Analyze(text)

	variants := []string{text}
	if r.cfg.EnableMultiQuery && r.expander != nil {
		variants = r.expander.Expand(ctx, text)
	}

	lists := make([][]vector.SearchResult, 0, len(variants))
	for _, variant := range variants {
		results, err := r.searchOne(ctx, variant, topK, analysis.Complexity, filters)
		if err != nil {
			// A failed variant is survivable unless it was the only one.
			if len(variants) == 1 {
				return nil, err
			}
			r.logger.Warn("Variant search failed", "error", err)
			continue
		}
		lists = append(lists, results)
	}
	if len(lists) == 0 {
		return nil, errkind.New(errkind.Internal, "all query variants failed")
	}

	var results []vector.SearchResult
	if len(lists) == 1 {
		results = lists[0]
	} else {
		results = reciprocalRankFusion(lists, topK)
	}

	if r.cfg.EnableRerank && r.reranker != nil {
		reranked, err := r.reranker.Rerank(ctx, text, results)
		if err != nil {
			r.logger.Warn("Rerank failed, keeping fused order", "error", err)
		} else {
			results = reranked
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}

	if r.cache != nil {
		if data, err := json.Marshal(results); err == nil {
			r.cache.Set(ctx, cache.TypeRetrieval, key, data)
		}
	}
	return results, nil
}

func (r *VectorRetriever) searchOne(ctx context.Context, text string, topK int, complexity float64, filters map[string]string) ([]vector.SearchResult, error) {
	embedding, err := r.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	return r.store.Search(ctx, vector.SearchRequest{
		Embedding:  embedding,
		TopK:       topK,
		Complexity: complexity,
		Filter:     filterExpr(filters),
	})
}

// embed computes or recalls the query embedding. Embeddings are the most
// expensive cacheable artifact on the hot path.
func (r *VectorRetriever) embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey("embed", text, 0, nil)
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, cache.TypeEmbedding, key); ok {
			var embedding []float32
			if err := json.Unmarshal(cached, &embedding); err == nil {
				return embedding, nil
			}
		}
	}

	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if data, err := json.Marshal(embedding); err == nil {
			r.cache.Set(ctx, cache.TypeEmbedding, key, data)
		}
	}
	return embedding, nil
}

// Health implements Retriever.
func (r *VectorRetriever) Health(ctx context.Context) error {
	h := r.store.HealthCheck(ctx)
	if !h.Connected {
		return errkind.Newf(errkind.Transport, "vector store unreachable: %s", h.Error)
	}
	return nil
}

var _ Retriever = (*VectorRetriever)(nil)
