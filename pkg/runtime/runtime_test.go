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

package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kadirpekel/seeker/pkg/cache"
	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/mcp"
	"github.com/kadirpekel/seeker/pkg/retriever"
)

func TestWebOrNilFlattensTypedNil(t *testing.T) {
	if got := webOrNil(nil); got != nil {
		t.Fatalf("webOrNil(nil) = %v, want untyped nil", got)
	}
	ret := retriever.NewWebRetriever(nil, "web", "web_search")
	if got := webOrNil(ret); got == nil {
		t.Fatal("webOrNil(non-nil) must preserve the retriever")
	}
}

func TestListToolsServedFromCache(t *testing.T) {
	cacheCfg := config.CacheConfig{}
	cacheCfg.SetDefaults()
	r := &Runtime{
		cache: cache.New(cacheCfg),
		mux:   mcp.NewMultiplexer(config.MCPConfig{}, nil),
	}
	defer r.Close()

	ctx := context.Background()
	cached, _ := json.Marshal([]mcp.Tool{{Name: "web_search", Description: "search the web"}})
	r.cache.Set(ctx, cache.TypeToolList, "web", cached)

	// "web" has no configured server; a cache miss would fail with
	// not_found instead of returning the seeded listing.
	tools, err := r.ListTools(ctx, "web")
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "web_search" {
		t.Fatalf("tools = %+v, want the cached web_search entry", tools)
	}

	if _, err := r.ListTools(ctx, "local"); err == nil {
		t.Fatal("ListTools on an unconfigured, uncached server must fail")
	}
}

func TestCloseToleratesPartialConstruction(t *testing.T) {
	r := &Runtime{}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on empty runtime: %v", err)
	}

	cacheCfg := config.CacheConfig{}
	cacheCfg.SetDefaults()
	r = &Runtime{
		cache: cache.New(cacheCfg),
		mux:   mcp.NewMultiplexer(config.MCPConfig{}, nil),
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close on partial runtime: %v", err)
	}
}
