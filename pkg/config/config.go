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

// Package config defines the configuration surface of the engine.
//
// Every section follows the same convention: yaml tags, SetDefaults applied
// before validation, Validate returning the first problem found.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger,omitempty"`
	Server    ServerConfig    `yaml:"server,omitempty"`
	Router    RouterConfig    `yaml:"router,omitempty"`
	Engine    EngineConfig    `yaml:"engine,omitempty"`
	Strategy  StrategyConfig  `yaml:"strategy,omitempty"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Vector    VectorConfig    `yaml:"vector"`
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	MCP       MCPConfig       `yaml:"mcp,omitempty"`
	Monitor   MonitorConfig   `yaml:"monitor,omitempty"`
}

// LoggerConfig controls the process logger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is "simple" or "verbose".
	Format string `yaml:"format,omitempty"`

	// File redirects logs to a file when set.
	File string `yaml:"file,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ServerConfig configures the thin HTTP surface.
type ServerConfig struct {
	// Addr is the listen address (default: ":8420").
	Addr string `yaml:"addr,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8420"
	}
}

// RouterConfig configures the hybrid query router.
type RouterConfig struct {
	// SpeculativeTimeoutMs is the deadline for the speculative path.
	SpeculativeTimeoutMs int `yaml:"speculative_timeout_ms,omitempty"`

	// AgenticTimeoutMs is the deadline for the agentic path.
	AgenticTimeoutMs int `yaml:"agentic_timeout_ms,omitempty"`

	// MinInterimConfidence is the confidence a speculative result needs
	// before it is streamed as an interim update in balanced mode.
	MinInterimConfidence float64 `yaml:"min_interim_confidence,omitempty"`
}

func (c *RouterConfig) SetDefaults() {
	if c.SpeculativeTimeoutMs == 0 {
		c.SpeculativeTimeoutMs = 3000
	}
	if c.AgenticTimeoutMs == 0 {
		c.AgenticTimeoutMs = 30000
	}
	if c.MinInterimConfidence == 0 {
		c.MinInterimConfidence = 0.3
	}
}

func (c *RouterConfig) Validate() error {
	if c.SpeculativeTimeoutMs < 0 {
		return fmt.Errorf("speculative_timeout_ms cannot be negative")
	}
	if c.AgenticTimeoutMs < 0 {
		return fmt.Errorf("agentic_timeout_ms cannot be negative")
	}
	return nil
}

// SpeculativeTimeout returns the speculative deadline as a duration.
func (c *RouterConfig) SpeculativeTimeout() time.Duration {
	return time.Duration(c.SpeculativeTimeoutMs) * time.Millisecond
}

// AgenticTimeout returns the agentic deadline as a duration.
func (c *RouterConfig) AgenticTimeout() time.Duration {
	return time.Duration(c.AgenticTimeoutMs) * time.Millisecond
}

// EngineConfig configures the agentic reasoning engine.
type EngineConfig struct {
	// MaxIterations is the hard cap on agentic iterations.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// CorrectiveConfidenceBoost is added to retrieval confidence after a
	// successful corrective action. Heuristic, hence tunable.
	CorrectiveConfidenceBoost float64 `yaml:"corrective_confidence_boost,omitempty"`

	// EpisodeSimilarityThreshold is the cosine similarity required to
	// warm-start from a past episode.
	EpisodeSimilarityThreshold float64 `yaml:"episode_similarity_threshold,omitempty"`

	// ObservationRelevanceThreshold drops retrieved items whose marginal
	// information relative to accepted context falls below it.
	ObservationRelevanceThreshold float64 `yaml:"observation_relevance_threshold,omitempty"`
}

func (c *EngineConfig) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 3
	}
	if c.CorrectiveConfidenceBoost == 0 {
		c.CorrectiveConfidenceBoost = 0.1
	}
	if c.EpisodeSimilarityThreshold == 0 {
		c.EpisodeSimilarityThreshold = 0.92
	}
	if c.ObservationRelevanceThreshold == 0 {
		c.ObservationRelevanceThreshold = 0.82
	}
}

func (c *EngineConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations cannot be negative")
	}
	if c.EpisodeSimilarityThreshold < 0 || c.EpisodeSimilarityThreshold > 1 {
		return fmt.Errorf("episode_similarity_threshold must be in [0,1]")
	}
	return nil
}

// StrategyConfig configures strategy selection.
type StrategyConfig struct {
	// PerformanceWindowSize caps the per-strategy rolling confidence window.
	PerformanceWindowSize int `yaml:"performance_window_size,omitempty"`

	// OverrideThreshold triggers the hybrid substitution when a strategy's
	// rolling mean confidence drops below it.
	OverrideThreshold float64 `yaml:"override_threshold,omitempty"`

	// OverrideSampleSize is how many recent executions the override considers.
	OverrideSampleSize int `yaml:"override_sample_size,omitempty"`
}

func (c *StrategyConfig) SetDefaults() {
	if c.PerformanceWindowSize == 0 {
		c.PerformanceWindowSize = 100
	}
	if c.OverrideThreshold == 0 {
		c.OverrideThreshold = 0.60
	}
	if c.OverrideSampleSize == 0 {
		c.OverrideSampleSize = 20
	}
}

// LLMConfig configures the external generation service.
type LLMConfig struct {
	// BaseURL of an OpenAI-compatible chat completions endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for the generation service.
	APIKey string `yaml:"api_key,omitempty"`

	// Model name.
	Model string `yaml:"model,omitempty"`

	// Temperature default for generation.
	Temperature float64 `yaml:"temperature,omitempty"`

	// MaxTokens per generation.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// TimeoutSeconds per request.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 60
	}
}

func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("llm api_key is required")
	}
	return nil
}

// EmbedderConfig configures the embedding service.
type EmbedderConfig struct {
	// BaseURL of an OpenAI-compatible embeddings endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for the embedding service.
	APIKey string `yaml:"api_key,omitempty"`

	// Model name.
	Model string `yaml:"model,omitempty"`

	// Dimension of produced embeddings; must match collection dimension.
	Dimension int `yaml:"embedding_dim,omitempty"`

	// BatchSize for batched embedding calls.
	BatchSize int `yaml:"batch_size,omitempty"`

	// TimeoutSeconds per request.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *EmbedderConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("embedder api_key is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedding_dim must be positive")
	}
	return nil
}

// VectorConfig configures the Milvus-backed vector store layer.
type VectorConfig struct {
	// Address is the Milvus endpoint (default: localhost:19530).
	Address string `yaml:"address,omitempty"`

	// Username / Password for authenticated access (optional).
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Collection is the chunk collection name.
	Collection string `yaml:"collection,omitempty"`

	// EpisodeCollection stores completed agentic runs.
	EpisodeCollection string `yaml:"episode_collection,omitempty"`

	// Metric is the similarity metric for new collections: cosine, l2, ip.
	Metric string `yaml:"vector_metric,omitempty"`

	// EnableKoreanOptimization switches to Korean-tuned index/search params.
	EnableKoreanOptimization bool `yaml:"enable_korean_optimization,omitempty"`

	// PoolSize bounds concurrent client checkouts.
	PoolSize int `yaml:"pool_size,omitempty"`

	// Partitions optionally targeted by default searches.
	Partitions []string `yaml:"partitions,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = "localhost:19530"
	}
	if c.Collection == "" {
		c.Collection = "seeker_chunks"
	}
	if c.EpisodeCollection == "" {
		c.EpisodeCollection = "seeker_episodes"
	}
	if c.Metric == "" {
		c.Metric = "cosine"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 4
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Metric {
	case "cosine", "l2", "ip":
	default:
		return fmt.Errorf("vector_metric must be one of cosine, l2, ip; got %q", c.Metric)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	return nil
}

// RetrievalConfig configures the specialist retrievers.
type RetrievalConfig struct {
	// TopK is the default number of results per search.
	TopK int `yaml:"top_k,omitempty"`

	// EnableMultiQuery turns on query-variant expansion with
	// reciprocal-rank fusion in the vector retriever.
	EnableMultiQuery bool `yaml:"enable_multi_query,omitempty"`

	// NumQueryVariants is how many alternative phrasings to generate.
	NumQueryVariants int `yaml:"num_query_variants,omitempty"`

	// EnableRerank applies the reranker to fused results.
	EnableRerank bool `yaml:"enable_rerank,omitempty"`

	// WebServer / WebTool name the MCP server and tool for web search.
	WebServer string `yaml:"web_server,omitempty"`
	WebTool   string `yaml:"web_tool,omitempty"`

	// LocalServer / LocalTool name the MCP server and tool for local data.
	LocalServer string `yaml:"local_server,omitempty"`
	LocalTool   string `yaml:"local_tool,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.NumQueryVariants == 0 {
		c.NumQueryVariants = 3
	}
	if c.WebServer == "" {
		c.WebServer = "web"
	}
	if c.WebTool == "" {
		c.WebTool = "web_search"
	}
	if c.LocalServer == "" {
		c.LocalServer = "local"
	}
	if c.LocalTool == "" {
		c.LocalTool = "local_search"
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1")
	}
	if c.NumQueryVariants < 1 {
		return fmt.Errorf("num_query_variants must be at least 1")
	}
	return nil
}

// CacheConfig configures the two-tier cache.
type CacheConfig struct {
	// L1TTLSeconds is the in-process TTL.
	L1TTLSeconds int `yaml:"l1_ttl_s,omitempty"`

	// L1Capacity is the per-type ring buffer capacity.
	L1Capacity int `yaml:"l1_capacity,omitempty"`

	// L2TTLSeconds is the remote TTL.
	L2TTLSeconds int `yaml:"l2_ttl_s,omitempty"`

	// L2MaxSize caps the byte size of a single cached value in L2.
	L2MaxSize int `yaml:"l2_max_size,omitempty"`

	// RedisAddr is the L2 endpoint. Empty disables L2.
	RedisAddr string `yaml:"redis_addr,omitempty"`

	// RedisPassword for authenticated access (optional).
	RedisPassword string `yaml:"redis_password,omitempty"`

	// RedisDB selects the logical database.
	RedisDB int `yaml:"redis_db,omitempty"`
}

func (c *CacheConfig) SetDefaults() {
	if c.L1TTLSeconds == 0 {
		c.L1TTLSeconds = 300
	}
	if c.L1Capacity == 0 {
		c.L1Capacity = 256
	}
	if c.L2TTLSeconds == 0 {
		c.L2TTLSeconds = 3600
	}
	if c.L2MaxSize == 0 {
		c.L2MaxSize = 1 << 20
	}
}

// L1TTL returns the in-process TTL as a duration.
func (c *CacheConfig) L1TTL() time.Duration { return time.Duration(c.L1TTLSeconds) * time.Second }

// L2TTL returns the remote TTL as a duration.
func (c *CacheConfig) L2TTL() time.Duration { return time.Duration(c.L2TTLSeconds) * time.Second }

// MCPServerConfig describes one stdio tool server.
type MCPServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

func (c *MCPServerConfig) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

// MCPConfig maps server names to their spawn parameters.
type MCPConfig struct {
	// Servers keyed by name, e.g. "web", "local".
	Servers map[string]MCPServerConfig `yaml:"mcp_servers,omitempty"`

	// CallTimeoutSeconds is the default per-call deadline.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds,omitempty"`
}

func (c *MCPConfig) SetDefaults() {
	if c.CallTimeoutSeconds == 0 {
		c.CallTimeoutSeconds = 30
	}
}

func (c *MCPConfig) Validate() error {
	for name, srv := range c.Servers {
		if err := srv.Validate(); err != nil {
			return fmt.Errorf("mcp server %q: %w", name, err)
		}
	}
	return nil
}

// MonitorConfig configures the performance monitor.
type MonitorConfig struct {
	// AlertErrorRate triggers an alert when the windowed error rate exceeds it.
	AlertErrorRate float64 `yaml:"alert_error_rate,omitempty"`

	// AlertP95Ms triggers an alert when p95 latency regresses past it.
	AlertP95Ms int `yaml:"alert_p95_ms,omitempty"`

	// BucketSeconds is the width of a rolling window bucket.
	BucketSeconds int `yaml:"bucket_seconds,omitempty"`

	// WindowBuckets is how many buckets the rolling window keeps.
	WindowBuckets int `yaml:"window_buckets,omitempty"`
}

func (c *MonitorConfig) SetDefaults() {
	if c.AlertErrorRate == 0 {
		c.AlertErrorRate = 0.25
	}
	if c.AlertP95Ms == 0 {
		c.AlertP95Ms = 10000
	}
	if c.BucketSeconds == 0 {
		c.BucketSeconds = 60
	}
	if c.WindowBuckets == 0 {
		c.WindowBuckets = 15
	}
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Router.SetDefaults()
	c.Engine.SetDefaults()
	c.Strategy.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Cache.SetDefaults()
	c.MCP.SetDefaults()
	c.Monitor.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// Load reads, expands, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration bytes after environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
