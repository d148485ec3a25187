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

package llms

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

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
}

// chatRequest is the chat completions request payload.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatResponse is the chat completions response payload.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator creates a generator from configuration.
func NewOpenAIGenerator(cfg config.LLMConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errkind.New(errkind.InvalidArgument, "api key is required for generation service")
	}

	return &OpenAIGenerator{
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate implements Generator. Transport failures are retried once; a
// second failure surfaces as GenerationFailure.
func (g *OpenAIGenerator) Generate(ctx context.Context, messages []Message, opts *Options) (*Result, error) {
	if len(messages) == 0 {
		return nil, errkind.New(errkind.InvalidArgument, "messages cannot be empty")
	}

	temperature := g.temperature
	maxTokens := g.maxTokens
	if opts != nil {
		if opts.Temperature != nil {
			temperature = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}

	payload := chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	result, err := g.call(ctx, payload)
	if err != nil && errkind.Is(err, errkind.Transport) && ctx.Err() == nil {
		result, err = g.call(ctx, payload)
	}
	if err != nil {
		if errkind.Is(err, errkind.Timeout) || errkind.Is(err, errkind.Cancelled) {
			return nil, err
		}
		return nil, errkind.Wrap(errkind.GenerationFailure, "generation failed after retry", err)
	}
	return result, nil
}

func (g *OpenAIGenerator) call(ctx context.Context, payload chatRequest) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.Wrap(errkind.KindOf(ctx.Err()), "generation call aborted", ctx.Err())
		}
		return nil, errkind.Wrap(errkind.Transport, "chat completions request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transport, "failed to read chat response", err)
	}

	if resp.StatusCode >= 500 {
		return nil, errkind.Newf(errkind.Transport, "generation service returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.GenerationFailure, "generation service returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errkind.Wrap(errkind.GenerationFailure, "failed to parse chat response", err)
	}
	if parsed.Error != nil {
		return nil, errkind.Newf(errkind.GenerationFailure, "generation error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, errkind.New(errkind.GenerationFailure, "generation returned no choices")
	}

	return &Result{
		Text:             parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Ensure OpenAIGenerator implements Generator.
var _ Generator = (*OpenAIGenerator)(nil)
