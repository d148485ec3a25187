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
	"log/slog"

	"github.com/kadirpekel/seeker/pkg/embedders"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// observationFilter bounds context growth across iterations: a new document
// is admitted only when it adds information relative to what is already
// accepted, measured by embedding similarity.
type observationFilter struct {
	embedder  embedders.Embedder
	threshold float64
	logger    *slog.Logger

	accepted [][]float32
}

func newObservationFilter(embedder embedders.Embedder, threshold float64) *observationFilter {
	return &observationFilter{
		embedder:  embedder,
		threshold: threshold,
		logger:    logger.GetLogger().With("component", "observation"),
	}
}

// admit returns the subset of results worth adding to the running context.
// Near-duplicates of already-accepted content (similarity above the
// threshold) are dropped. Embedding failures admit the document; filtering
// is an optimization, not a gate.
func (f *observationFilter) admit(ctx context.Context, results []vector.SearchResult) []vector.SearchResult {
	if len(results) == 0 {
		return nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	embeddings, err := f.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		f.logger.Warn("Observation embedding failed, admitting all", "error", err)
		return results
	}

	var admitted []vector.SearchResult
	for i, r := range results {
		if f.redundant(embeddings[i]) {
			continue
		}
		f.accepted = append(f.accepted, embeddings[i])
		admitted = append(admitted, r)
	}
	if dropped := len(results) - len(admitted); dropped > 0 {
		f.logger.Debug("Observation filter dropped redundant documents", "dropped", dropped)
	}
	return admitted
}

func (f *observationFilter) redundant(embedding []float32) bool {
	for _, prior := range f.accepted {
		if embedders.CosineSimilarity(embedding, prior) >= f.threshold {
			return true
		}
	}
	return false
}
