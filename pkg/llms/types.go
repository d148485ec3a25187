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

// Package llms provides the client contract for the external generation
// service. The engine never talks to a model vendor directly; it goes through
// Generator so tests can substitute deterministic fakes.
package llms

import "context"

// Message is a single chat turn.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Options tunes a single generation call. Zero values fall back to client
// defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Result is a completed generation.
type Result struct {
	// Text is the generated content.
	Text string

	// PromptTokens and CompletionTokens are usage counts when reported.
	PromptTokens     int
	CompletionTokens int
}

// Generator is the generation-service contract.
type Generator interface {
	// Generate produces a completion for the conversation.
	Generate(ctx context.Context, messages []Message, opts *Options) (*Result, error)
}
