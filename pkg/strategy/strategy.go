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

// Package strategy maps analyzed queries to execution strategies and adapts
// selection using rolling per-strategy performance.
package strategy

import "github.com/kadirpekel/seeker/pkg/query"

// Name is one of the closed set of execution strategies.
type Name string

const (
	Direct         Name = "direct"
	Hybrid         Name = "hybrid"
	SelfReflective Name = "self_reflective"
	Corrective     Name = "corrective"
	MultiHop       Name = "multi_hop"
)

// Parameters tune the strategy's execution.
type Parameters struct {
	TopK          int     `json:"top_k"`
	MaxIterations int     `json:"max_iterations"`
	MaxHops       int     `json:"max_hops"`
	EnableWeb     bool    `json:"enable_web"`
	Temperature   float64 `json:"temperature"`
}

// Selection is the outcome of strategy selection.
type Selection struct {
	Strategy   Name       `json:"strategy"`
	Parameters Parameters `json:"parameters"`

	// OverrideReason is set when the performance override substituted the
	// rule-selected strategy.
	OverrideReason string `json:"override_reason,omitempty"`
}

// Context carries caller-side hints into selection.
type Context struct {
	// FastMode caps top_k and downgrades reflective and corrective
	// strategies to hybrid.
	FastMode bool

	// HighAccuracy upgrades direct to self-reflective and raises the
	// iteration floor.
	HighAccuracy bool
}

// Complexity boundaries for the selection rules.
const (
	lowComplexity  = 0.35
	highComplexity = 0.70
)

// selectByRules applies the rule table in order, first match wins.
func selectByRules(analysis query.Analysis) Selection {
	c := analysis.Complexity

	switch {
	case c < lowComplexity && analysis.Type == query.TypeFactual:
		return Selection{Strategy: Direct, Parameters: Parameters{TopK: 5}}

	case c < lowComplexity:
		return Selection{Strategy: Hybrid, Parameters: Parameters{TopK: 7}}

	case c < highComplexity && analysis.RequiresReasoning:
		return Selection{Strategy: SelfReflective, Parameters: Parameters{TopK: 10, MaxIterations: 2}}

	case c < highComplexity:
		return Selection{Strategy: Hybrid, Parameters: Parameters{TopK: 10}}

	case analysis.Type == query.TypeMultiStep:
		return Selection{Strategy: MultiHop, Parameters: Parameters{TopK: 12, MaxHops: 3}}

	case analysis.RequiresMultipleSources:
		return Selection{Strategy: Corrective, Parameters: Parameters{TopK: 15, EnableWeb: true}}

	default:
		return Selection{Strategy: SelfReflective, Parameters: Parameters{TopK: 12, MaxIterations: 3}}
	}
}
