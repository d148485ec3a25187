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

// Package retriever provides the specialist retrievers behind a uniform
// interface: the vector retriever over the Milvus store, and the web and
// local-data retrievers over MCP tool servers.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/seeker/pkg/vector"
)

// Retriever is the uniform search surface shared by all sources.
type Retriever interface {
	// Name identifies the retriever in logs and source attributions.
	Name() string

	// Search returns ranked results, scores normalized to [0,1].
	Search(ctx context.Context, text string, topK int, filters map[string]string) ([]vector.SearchResult, error)

	// Health reports whether the backing source is reachable.
	Health(ctx context.Context) error
}

// cacheKey builds a stable key over the search inputs. Filters are sorted so
// equal filter sets produce equal keys.
func cacheKey(source, text string, topK int, filters map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", source, text, topK)

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, filters[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// filterExpr renders a filter map as a Milvus boolean expression.
func filterExpr(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s == %q", k, filters[k]))
	}
	return strings.Join(parts, " and ")
}
