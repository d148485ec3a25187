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
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/mcp"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// toolHit is the shape a search tool returns per result. Tools report loose
// JSON; mapstructure tolerates extra fields and numeric type drift.
type toolHit struct {
	ID       string         `mapstructure:"id"`
	Title    string         `mapstructure:"title"`
	Text     string         `mapstructure:"text"`
	Snippet  string         `mapstructure:"snippet"`
	URL      string         `mapstructure:"url"`
	Score    float64        `mapstructure:"score"`
	Metadata map[string]any `mapstructure:",remain"`
}

// MCPRetriever searches through a named tool on an MCP server. Both the web
// and local-data retrievers are instances of it.
type MCPRetriever struct {
	name   string
	server string
	tool   string
	mux    *mcp.Multiplexer
}

// NewWebRetriever targets the configured web-search tool server.
func NewWebRetriever(mux *mcp.Multiplexer, server, tool string) *MCPRetriever {
	return &MCPRetriever{name: "web", server: server, tool: tool, mux: mux}
}

// NewLocalRetriever targets the configured local-data tool server.
func NewLocalRetriever(mux *mcp.Multiplexer, server, tool string) *MCPRetriever {
	return &MCPRetriever{name: "local", server: server, tool: tool, mux: mux}
}

// Name implements Retriever.
func (r *MCPRetriever) Name() string { return r.name }

// Search implements Retriever. Filters are forwarded to the tool as-is.
func (r *MCPRetriever) Search(ctx context.Context, text string, topK int, filters map[string]string) ([]vector.SearchResult, error) {
	if text == "" {
		return nil, errkind.New(errkind.InvalidArgument, "query text cannot be empty")
	}

	args := map[string]any{"query": text, "limit": topK}
	for k, v := range filters {
		args[k] = v
	}

	result, err := r.mux.CallTool(ctx, r.server, r.tool, args)
	if err != nil {
		return nil, err
	}
	return decodeToolHits(r.name, result.Text())
}

// decodeToolHits parses a tool's JSON payload into normalized results. Hits
// arrive best-ranked first; scores default to rank order when absent.
func decodeToolHits(source, payload string) ([]vector.SearchResult, error) {
	var raw []map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, errkind.Wrap(errkind.ToolExecution, "tool returned non-JSON result", err)
	}

	results := make([]vector.SearchResult, 0, len(raw))
	for i, item := range raw {
		var hit toolHit
		if err := mapstructure.WeakDecode(item, &hit); err != nil {
			return nil, errkind.Wrap(errkind.ToolExecution, "malformed tool hit", err)
		}

		text := hit.Text
		if text == "" {
			text = hit.Snippet
		}
		score := hit.Score
		if score == 0 {
			score = 1.0 / float64(i+1)
		}
		id := hit.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", source, i)
		}

		meta := hit.Metadata
		if hit.URL != "" {
			if meta == nil {
				meta = make(map[string]any)
			}
			meta["url"] = hit.URL
		}

		results = append(results, vector.SearchResult{
			ID:           id,
			Text:         text,
			Score:        score,
			DocumentName: hit.Title,
			Metadata:     meta,
		})
	}
	return results, nil
}

// Health implements Retriever. The server is reachable when its tool list
// can be fetched and advertises the configured tool.
func (r *MCPRetriever) Health(ctx context.Context) error {
	tools, err := r.mux.ListTools(ctx, r.server)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if t.Name == r.tool {
			return nil
		}
	}
	return errkind.Newf(errkind.NotFound, "tool %q not advertised by server %q", r.tool, r.server)
}

var _ Retriever = (*MCPRetriever)(nil)
