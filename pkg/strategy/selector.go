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

package strategy

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/query"
)

// Selector chooses a strategy for an analyzed query: the rule table first,
// then the performance override, then context overrides.
type Selector struct {
	tracker *Tracker
	cfg     config.StrategyConfig
	logger  *slog.Logger
}

// NewSelector wires a selector around the shared performance tracker.
func NewSelector(tracker *Tracker, cfg config.StrategyConfig) *Selector {
	return &Selector{
		tracker: tracker,
		cfg:     cfg,
		logger:  logger.GetLogger().With("component", "strategy"),
	}
}

// Select maps the analysis and context to a strategy and parameters.
func (s *Selector) Select(analysis query.Analysis, sctx Context) Selection {
	sel := selectByRules(analysis)

	// Performance override: a strategy that keeps underdelivering is
	// replaced by hybrid until its rolling average recovers. The override
	// needs a full sample to trigger.
	if sel.Strategy != Hybrid {
		avg, n := s.tracker.RecentAverage(sel.Strategy, s.cfg.OverrideSampleSize)
		if n >= s.cfg.OverrideSampleSize && avg < s.cfg.OverrideThreshold {
			s.logger.Info("Performance override engaged",
				"strategy", sel.Strategy, "avg_confidence", avg)
			sel.OverrideReason = fmt.Sprintf(
				"%s averaged %.2f confidence over last %d runs, below %.2f",
				sel.Strategy, avg, n, s.cfg.OverrideThreshold)
			sel.Strategy = Hybrid
		}
	}

	if sctx.FastMode {
		if sel.Parameters.TopK > 7 {
			sel.Parameters.TopK = 7
		}
		if sel.Strategy == SelfReflective || sel.Strategy == Corrective {
			sel.Strategy = Hybrid
			sel.Parameters.MaxIterations = 0
		}
	}
	if sctx.HighAccuracy {
		if sel.Strategy == Direct {
			sel.Strategy = SelfReflective
		}
		if sel.Parameters.MaxIterations < 3 {
			sel.Parameters.MaxIterations = 3
		}
	}

	return sel
}

// RecordOutcome feeds an execution's confidence back into the tracker.
func (s *Selector) RecordOutcome(name Name, confidence float64) {
	s.tracker.Record(name, confidence)
}
