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

// Package runtime assembles the engine from configuration: the connection
// pool, stores, caches, tool sessions, retrievers, and finally the router.
// Components are built in dependency order and torn down in reverse.
package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/kadirpekel/seeker/pkg/cache"
	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/embedders"
	"github.com/kadirpekel/seeker/pkg/episode"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/mcp"
	"github.com/kadirpekel/seeker/pkg/monitor"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/reasoning"
	"github.com/kadirpekel/seeker/pkg/retriever"
	"github.com/kadirpekel/seeker/pkg/router"
	"github.com/kadirpekel/seeker/pkg/strategy"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// Options tunes runtime assembly beyond the config file.
type Options struct {
	// DisableMetrics skips the Prometheus exporter, e.g. for one-shot
	// CLI queries.
	DisableMetrics bool

	// CorpusSizeHint guides index selection when the chunk collection has
	// to be created. Zero means unknown, which selects the smallest tier.
	CorpusSizeHint int64
}

// Runtime owns every long-lived component of the engine.
type Runtime struct {
	cfg *config.Config

	pool     *vector.Pool
	store    *vector.Store
	episodes *episode.Store
	cache    *cache.Cache
	mux      *mcp.Multiplexer
	monitor  *monitor.Monitor
	router   *router.Router

	vectorRet *retriever.VectorRetriever
	webRet    *retriever.MCPRetriever
	localRet  *retriever.MCPRetriever

	logger *slog.Logger
}

// New builds the runtime in dependency order. The context bounds the
// startup calls against Milvus (collection and index creation, load).
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	r := &Runtime{
		cfg:    cfg,
		logger: logger.GetLogger().With("component", "runtime"),
	}

	var metrics *monitor.Metrics
	if !opts.DisableMetrics {
		var err error
		metrics, err = monitor.InitMetrics()
		if err != nil {
			return nil, errkind.Wrapf(errkind.Internal, err, "metrics initialization failed")
		}
	}
	r.monitor = monitor.New(cfg.Monitor, metrics)

	pool, err := vector.NewPool(cfg.Vector.Address, cfg.Vector.Username,
		cfg.Vector.Password, cfg.Vector.PoolSize)
	if err != nil {
		return nil, err
	}
	r.pool = pool

	store, err := vector.NewStore(pool, cfg.Vector.Collection,
		cfg.Embedder.Dimension, vector.Metric(cfg.Vector.Metric),
		cfg.Vector.EnableKoreanOptimization)
	if err != nil {
		r.Close()
		return nil, err
	}
	if err := store.EnsureCollection(ctx, opts.CorpusSizeHint); err != nil {
		r.Close()
		return nil, err
	}
	r.store = store

	embedder, err := embedders.NewOpenAIEmbedder(cfg.Embedder)
	if err != nil {
		r.Close()
		return nil, err
	}
	llm, err := llms.NewOpenAIGenerator(cfg.LLM)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.cache = cache.New(cfg.Cache)
	r.mux = mcp.NewMultiplexer(cfg.MCP, metrics)

	analyzer := query.NewAnalyzer()
	r.buildRetrievers(analyzer, embedder, llm)

	episodes, err := episode.NewStore(pool, cfg.Vector.EpisodeCollection,
		cfg.Embedder.Dimension, cfg.Engine.EpisodeSimilarityThreshold)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.episodes = episodes

	engine := reasoning.NewEngine(analyzer, llm, embedder,
		r.vectorRet, webOrNil(r.webRet), webOrNil(r.localRet),
		episodes, cfg.Engine)

	tracker := strategy.NewTracker(cfg.Strategy.PerformanceWindowSize)
	selector := strategy.NewSelector(tracker, cfg.Strategy)

	r.router = router.New(analyzer, selector,
		router.NewSpeculativePath(r.vectorRet, llm),
		router.NewAgenticPath(engine, cfg.Engine),
		r.monitor, r.cache, cfg.Router)

	r.logger.Info("Runtime assembled",
		"collection", cfg.Vector.Collection,
		"mcp_servers", len(cfg.MCP.Servers),
		"l2_cache", cfg.Cache.RedisAddr != "")
	return r, nil
}

// buildRetrievers wires the vector retriever and, when their tool servers
// are configured, the web and local-data retrievers.
func (r *Runtime) buildRetrievers(analyzer *query.Analyzer, embedder embedders.Embedder, llm llms.Generator) {
	cfg := r.cfg.Retrieval

	var expander *retriever.MultiQueryExpander
	if cfg.EnableMultiQuery {
		expander = retriever.NewMultiQueryExpander(llm, cfg.NumQueryVariants)
	}
	var reranker retriever.Reranker
	if cfg.EnableRerank {
		reranker = retriever.NewLexicalReranker()
	}
	r.vectorRet = retriever.NewVectorRetriever(analyzer, embedder, r.store,
		r.cache, expander, reranker, cfg)

	if _, ok := r.cfg.MCP.Servers[cfg.WebServer]; ok {
		r.webRet = retriever.NewWebRetriever(r.mux, cfg.WebServer, cfg.WebTool)
	}
	if _, ok := r.cfg.MCP.Servers[cfg.LocalServer]; ok {
		r.localRet = retriever.NewLocalRetriever(r.mux, cfg.LocalServer, cfg.LocalTool)
	}
}

// webOrNil flattens a typed nil into an untyped nil interface so the engine's
// nil checks behave.
func webOrNil(ret *retriever.MCPRetriever) retriever.Retriever {
	if ret == nil {
		return nil
	}
	return ret
}

// Router is the request entry point.
func (r *Runtime) Router() *router.Router { return r.router }

// Monitor exposes the rolling performance window.
func (r *Runtime) Monitor() *monitor.Monitor { return r.monitor }

// Store exposes the chunk store for ingestion and health checks.
func (r *Runtime) Store() *vector.Store { return r.store }

// Cache exposes the two-tier cache for invalidation endpoints.
func (r *Runtime) Cache() *cache.Cache { return r.cache }

// Config returns the effective configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// ToolServers returns the configured tool server names.
func (r *Runtime) ToolServers() []string { return r.mux.Servers() }

// ListTools returns the tools advertised by a configured server. Listings
// are cached so repeated lookups do not spawn or wake subprocesses.
func (r *Runtime) ListTools(ctx context.Context, server string) ([]mcp.Tool, error) {
	if raw, ok := r.cache.Get(ctx, cache.TypeToolList, server); ok {
		var tools []mcp.Tool
		if err := json.Unmarshal(raw, &tools); err == nil {
			return tools, nil
		}
	}

	tools, err := r.mux.ListTools(ctx, server)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(tools); err == nil {
		r.cache.Set(ctx, cache.TypeToolList, server, raw)
	}
	return tools, nil
}

// ReportCacheStats forwards current cache counters to the exported metrics.
func (r *Runtime) ReportCacheStats() {
	if r.cache == nil || r.monitor == nil {
		return
	}
	s := r.cache.Stats()
	r.monitor.ObserveCache(s.L1Hits, s.L1Misses, s.L2Hits, s.L2Misses)
}

// Close tears components down in reverse construction order. Safe to call
// on a partially constructed runtime.
func (r *Runtime) Close() error {
	var first error
	if r.mux != nil {
		if err := r.mux.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.cache != nil {
		if err := r.cache.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.pool != nil {
		if err := r.pool.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
