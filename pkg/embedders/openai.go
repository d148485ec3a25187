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

package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	dimension int
	batchSize int
}

// embedRequest is the embeddings request payload.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the embeddings response payload.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an embedder from configuration.
func NewOpenAIEmbedder(cfg config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errkind.New(errkind.InvalidArgument, "api key is required for embedder")
	}
	if cfg.Dimension <= 0 {
		return nil, errkind.New(errkind.InvalidArgument, "embedding dimension must be positive")
	}

	return &OpenAIEmbedder{
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

// Dimension returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements Embedder. Inputs beyond the batch size are split into
// multiple calls. Transport failures are retried once per call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errkind.New(errkind.InvalidArgument, "texts cannot be empty")
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.call(ctx, texts[start:end])
		if err != nil && errkind.Is(err, errkind.Transport) && ctx.Err() == nil {
			batch, err = e.call(ctx, texts[start:end])
		}
		if err != nil {
			switch errkind.KindOf(err) {
			case errkind.Timeout, errkind.Cancelled, errkind.IndexMismatch, errkind.InvalidArgument:
				return nil, err
			}
			return nil, errkind.Wrap(errkind.EmbeddingFailure, "embedding failed after retry", err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.Wrap(errkind.KindOf(ctx.Err()), "embedding call aborted", ctx.Err())
		}
		return nil, errkind.Wrap(errkind.Transport, "embeddings request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transport, "failed to read embed response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, errkind.Newf(errkind.Transport, "embedding service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.EmbeddingFailure, "embedding service returned %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errkind.Wrap(errkind.EmbeddingFailure, "failed to parse embed response", err)
	}
	if parsed.Error != nil {
		return nil, errkind.Newf(errkind.EmbeddingFailure, "embedding error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, errkind.Newf(errkind.EmbeddingFailure, "embedding count mismatch: got %d, want %d", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, errkind.Newf(errkind.EmbeddingFailure, "embedding index %d out of range", item.Index)
		}
		if len(item.Embedding) != e.dimension {
			return nil, errkind.Newf(errkind.IndexMismatch, "embedding dimension %d does not match configured %d", len(item.Embedding), e.dimension)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Ensure OpenAIEmbedder implements Embedder.
var _ Embedder = (*OpenAIEmbedder)(nil)
