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
	"sort"

	"github.com/kadirpekel/seeker/pkg/vector"
)

const rrfK = 60

// reciprocalRankFusion merges ranked lists from multiple query variants into
// one list. Each hit scores 1/(k+rank) per list it appears in; duplicates
// accumulate across lists, which favors results stable under rephrasing.
// Final scores are re-normalized to [0,1].
func reciprocalRankFusion(lists [][]vector.SearchResult, topK int) []vector.SearchResult {
	type fused struct {
		result vector.SearchResult
		score  float64
	}
	byID := make(map[string]*fused)

	for _, list := range lists {
		for rank, r := range list {
			f, ok := byID[r.ID]
			if !ok {
				f = &fused{result: r}
				byID[r.ID] = f
			}
			f.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	merged := make([]fused, 0, len(byID))
	for _, f := range byID {
		merged = append(merged, *f)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].result.ID < merged[j].result.ID
	})

	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}

	out := make([]vector.SearchResult, len(merged))
	var max float64
	for i, f := range merged {
		out[i] = f.result
		out[i].Score = f.score
		if f.score > max {
			max = f.score
		}
	}
	if max > 0 {
		for i := range out {
			out[i].Score /= max
		}
	}
	return out
}
