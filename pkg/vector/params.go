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

package vector

// IndexKind identifies the ANN index family chosen for a corpus.
type IndexKind string

const (
	IndexHNSW   IndexKind = "HNSW"
	IndexIVFPQ  IndexKind = "IVF_PQ"
	IndexIVFSQ8 IndexKind = "IVF_SQ8"
)

// Corpus size boundaries for index selection.
const (
	smallCorpusLimit  = 100_000
	mediumCorpusLimit = 1_000_000
)

// IndexParams is the concrete index build configuration for a corpus.
type IndexParams struct {
	Kind IndexKind

	// HNSW parameters.
	M              int
	EfConstruction int

	// IVF parameters.
	NList int
	PQM   int

	// Search bases, scaled by query complexity at search time.
	BaseEf     int
	BaseNProbe int
}

// SelectIndexParams picks index build parameters from the corpus size.
// Korean-optimized parameter sets trade build time for recall on Korean
// morphology-heavy corpora.
func SelectIndexParams(corpusSize int64, korean bool) IndexParams {
	switch {
	case corpusSize < smallCorpusLimit:
		if korean {
			return IndexParams{Kind: IndexHNSW, M: 24, EfConstruction: 300, BaseEf: 160}
		}
		return IndexParams{Kind: IndexHNSW, M: 16, EfConstruction: 200, BaseEf: 128}

	case corpusSize < mediumCorpusLimit:
		if korean {
			return IndexParams{Kind: IndexIVFPQ, NList: 2048, PQM: 16, BaseNProbe: 32}
		}
		return IndexParams{Kind: IndexIVFPQ, NList: 1024, PQM: 8, BaseNProbe: 16}

	default:
		if korean {
			return IndexParams{Kind: IndexIVFSQ8, NList: 4096, BaseNProbe: 64}
		}
		return IndexParams{Kind: IndexIVFSQ8, NList: 2048, BaseNProbe: 32}
	}
}

// SearchParams is the per-request ANN probe configuration.
type SearchParams struct {
	Ef     int
	NProbe int
}

// Complexity boundaries for search-time scaling.
const (
	fastComplexityLimit = 0.3
	deepComplexityFloor = 0.7
)

// AdaptiveSearchParams scales the index's base search parameters by query
// complexity: fast queries probe less, deep queries probe more.
func AdaptiveSearchParams(idx IndexParams, complexity float64) SearchParams {
	efScale, nprobeScale := 1.0, 1.0
	switch {
	case complexity < fastComplexityLimit:
		efScale, nprobeScale = 0.75, 0.5
	case complexity > deepComplexityFloor:
		efScale, nprobeScale = 1.5, 2.0
	}

	params := SearchParams{}
	if idx.BaseEf > 0 {
		params.Ef = scale(idx.BaseEf, efScale)
	}
	if idx.BaseNProbe > 0 {
		params.NProbe = scale(idx.BaseNProbe, nprobeScale)
	}
	return params
}

func scale(base int, factor float64) int {
	v := int(float64(base) * factor)
	if v < 1 {
		v = 1
	}
	return v
}
