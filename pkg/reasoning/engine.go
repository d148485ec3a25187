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

package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/embedders"
	"github.com/kadirpekel/seeker/pkg/episode"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/retriever"
	"github.com/kadirpekel/seeker/pkg/strategy"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// episodeStore is the slice of the episode store the engine needs.
type episodeStore interface {
	FindSimilar(ctx context.Context, embedding []float32, language string) (*episode.Episode, error)
	Save(ctx context.Context, ep episode.Episode, embedding []float32) error
}

// Engine runs the agentic loop. One Engine serves many concurrent queries;
// per-run state lives in the run struct.
type Engine struct {
	analyzer  *query.Analyzer
	llm       llms.Generator
	embedder  embedders.Embedder
	vectorRet retriever.Retriever
	webRet    retriever.Retriever
	localRet  retriever.Retriever
	episodes  episodeStore
	evaluator *Evaluator
	cfg       config.EngineConfig
	logger    *slog.Logger
}

// NewEngine wires the engine. webRet, localRet, and episodes may be nil,
// disabling web fallback, combine, and warm starts respectively.
func NewEngine(
	analyzer *query.Analyzer,
	llm llms.Generator,
	embedder embedders.Embedder,
	vectorRet retriever.Retriever,
	webRet retriever.Retriever,
	localRet retriever.Retriever,
	episodes episodeStore,
	cfg config.EngineConfig,
) *Engine {
	return &Engine{
		analyzer:  analyzer,
		llm:       llm,
		embedder:  embedder,
		vectorRet: vectorRet,
		webRet:    webRet,
		localRet:  localRet,
		episodes:  episodes,
		evaluator: NewEvaluator(llm),
		cfg:       cfg,
		logger:    logger.GetLogger().With("component", "engine"),
	}
}

// run is the mutable state of one agentic execution.
type run struct {
	query    query.Query
	analysis query.Analysis
	params   strategy.Parameters
	plan     []string

	queryEmbedding []float32
	filter         *observationFilter
	contextDocs    []vector.SearchResult

	// currentQuery is the retrieval text, rewritten by refine_query.
	currentQuery string

	// useWeb / useLocal widen the next retrieval round.
	useWeb   bool
	useLocal bool

	// lastAction prevents the same corrective action in consecutive
	// iterations.
	lastAction Action

	// correctiveApplied marks that a corrective action preceded the
	// current retrieval, earning the confidence boost on success.
	correctiveApplied bool

	result Result
}

// Execute runs the agentic loop to completion. params.MaxIterations is an
// absolute cap honored literally: zero iterations terminates immediately
// with an empty answer.
func (e *Engine) Execute(ctx context.Context, q query.Query, params strategy.Parameters) (*Result, error) {
	r := &run{
		query:        q,
		analysis:     e.analyzer.Analyze(q.Text),
		params:       params,
		currentQuery: q.Text,
		useWeb:       params.EnableWeb,
		filter:       newObservationFilter(e.embedder, e.cfg.ObservationRelevanceThreshold),
	}
	r.result.State = StateInit

	if params.MaxIterations <= 0 {
		r.result.State = StateBudgetExhausted
		return &r.result, nil
	}

	e.warmStart(ctx, r)
	if len(r.plan) == 0 {
		r.result.State = StateDecompose
		r.plan = e.decompose(ctx, q.Text)
	}
	r.result.Plan = r.plan

	var retrievalConf float64
	for iter := 1; iter <= params.MaxIterations; iter++ {
		r.result.Iterations = iter

		retrieved, retrieveErr := e.retrieve(ctx, r)
		if retrieveErr != nil {
			if errkind.Is(retrieveErr, errkind.Cancelled) || errkind.Is(retrieveErr, errkind.Timeout) {
				r.result.State = StateFailed
				return &r.result, retrieveErr
			}
			// No retrieval succeeded this iteration: count it and try an
			// alternative action next time.
			e.logger.Warn("Retrieval failed this iteration", "iteration", iter, "error", retrieveErr)
			e.forceAlternativeAction(r)
			continue
		}

		admitted := r.filter.admit(ctx, retrieved)
		r.contextDocs = append(r.contextDocs, admitted...)

		r.result.State = StateEvaluateRetrieval
		assessment := e.evaluator.EvaluateRetrieval(ctx, r.currentQuery, retrieved)
		if r.correctiveApplied && (assessment.Quality == QualityExcellent || assessment.Quality == QualityGood) {
			assessment.Confidence = clamp(assessment.Confidence + e.cfg.CorrectiveConfidenceBoost)
			r.correctiveApplied = false
		}
		r.result.Assessments = append(r.result.Assessments, assessment)
		retrievalConf = assessment.Confidence

		if (assessment.Quality == QualityPoor || assessment.Quality == QualityAmbiguous) && iter < params.MaxIterations {
			if e.applyCorrective(ctx, r, assessment) {
				continue
			}
		}

		r.result.State = StateGenerate
		answer, err := e.generate(ctx, r)
		if err != nil {
			r.result.State = StateFailed
			return &r.result, err
		}
		r.result.Answer = answer

		r.result.State = StateEvaluateGeneration
		genAssessment := e.evaluator.EvaluateGeneration(ctx, q.Text, answer, r.contextDocs)
		r.result.Generation = append(r.result.Generation, genAssessment)

		if (genAssessment.Support == SupportNone || genAssessment.Usefulness == NotUseful) && iter < params.MaxIterations {
			// Regenerate next iteration with a widened context.
			r.params.TopK += r.params.TopK / 2
			r.lastAction = ActionRegenerate
			continue
		}

		r.result.State = StateFinal
		r.result.Confidence = clamp(0.4*retrievalConf + 0.6*genAssessment.Confidence)
		r.result.Sources = r.contextDocs
		e.saveEpisode(ctx, r)
		return &r.result, nil
	}

	// Budget exhausted: return what we have, which may be an empty answer.
	r.result.State = StateBudgetExhausted
	r.result.Sources = r.contextDocs
	if r.result.Answer != "" && len(r.result.Generation) > 0 {
		last := r.result.Generation[len(r.result.Generation)-1]
		r.result.Confidence = clamp(0.4*retrievalConf + 0.6*last.Confidence)
	}
	return &r.result, nil
}

// warmStart seeds the plan from a semantically similar past episode.
func (e *Engine) warmStart(ctx context.Context, r *run) {
	embedding, err := e.embedder.Embed(ctx, r.query.Text)
	if err != nil {
		e.logger.Warn("Query embedding failed, skipping warm start", "error", err)
		return
	}
	r.queryEmbedding = embedding

	if e.episodes == nil {
		return
	}
	ep, err := e.episodes.FindSimilar(ctx, embedding, r.analysis.Language)
	if err != nil {
		e.logger.Warn("Episode lookup failed", "error", err)
		return
	}
	if ep != nil && len(ep.Plan) > 0 {
		e.logger.Info("Warm starting from past episode", "episode", ep.ID)
		r.plan = ep.Plan
		r.result.WarmStarted = true
	}
}

// retrieve runs one retrieval round over the plan's sub-queries plus any
// widened sources. Partial failures are survivable; total failure is not.
func (e *Engine) retrieve(ctx context.Context, r *run) ([]vector.SearchResult, error) {
	r.result.State = StateRetrieve

	queries := r.plan
	if r.currentQuery != r.query.Text {
		queries = []string{r.currentQuery}
	}

	var all []vector.SearchResult
	var lastErr error
	succeeded := false

	for _, sub := range queries {
		results, err := e.vectorRet.Search(ctx, sub, r.params.TopK, r.query.Constraints)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true
		all = append(all, results...)
	}

	if r.useWeb && e.webRet != nil {
		results, err := e.webRet.Search(ctx, r.currentQuery, r.params.TopK, nil)
		if err != nil {
			e.logger.Warn("Web retrieval failed", "error", err)
		} else {
			succeeded = true
			all = append(all, results...)
		}
	}
	if r.useLocal && e.localRet != nil {
		results, err := e.localRet.Search(ctx, r.currentQuery, r.params.TopK, nil)
		if err != nil {
			e.logger.Warn("Local retrieval failed", "error", err)
		} else {
			succeeded = true
			all = append(all, results...)
		}
	}

	if !succeeded {
		if lastErr == nil {
			lastErr = errkind.New(errkind.Internal, "no retrieval source available")
		}
		return nil, lastErr
	}
	return all, nil
}

// applyCorrective takes at most one corrective action per iteration and
// never repeats the previous iteration's action. Returns false when no
// admissible action remains, letting the engine generate with what it has.
func (e *Engine) applyCorrective(ctx context.Context, r *run, assessment RetrievalAssessment) bool {
	action := assessment.RecommendedAction
	if action == ActionUse || action == "" {
		return false
	}
	if action == r.lastAction {
		action = e.alternativeAction(r, action)
		if action == "" {
			return false
		}
	}

	switch action {
	case ActionRefineQuery:
		r.result.State = StateRefineQuery
		r.currentQuery = e.refineQuery(ctx, r.currentQuery, assessment)
	case ActionWebSearch:
		if e.webRet == nil {
			return false
		}
		r.result.State = StateWebFallback
		r.useWeb = true
	case ActionCombine:
		r.result.State = StateCombine
		r.useWeb = e.webRet != nil
		r.useLocal = e.localRet != nil
		if !r.useWeb && !r.useLocal {
			return false
		}
	default:
		return false
	}

	r.lastAction = action
	r.correctiveApplied = true
	e.logger.Debug("Corrective action applied", "action", action)
	return true
}

// alternativeAction picks a different corrective action than the blocked
// one, preferring escalation over repetition.
func (e *Engine) alternativeAction(r *run, blocked Action) Action {
	candidates := []Action{ActionWebSearch, ActionRefineQuery, ActionCombine}
	for _, c := range candidates {
		if c == blocked {
			continue
		}
		if c == ActionWebSearch && e.webRet == nil {
			continue
		}
		if c == ActionCombine && e.webRet == nil && e.localRet == nil {
			continue
		}
		return c
	}
	return ""
}

// forceAlternativeAction reacts to a fully failed retrieval round.
func (e *Engine) forceAlternativeAction(r *run) {
	if alt := e.alternativeAction(r, r.lastAction); alt != "" {
		switch alt {
		case ActionWebSearch:
			r.useWeb = true
		case ActionCombine:
			r.useWeb = e.webRet != nil
			r.useLocal = e.localRet != nil
		}
		r.lastAction = alt
	}
}

// generate produces an answer from the accumulated context.
func (e *Engine) generate(ctx context.Context, r *run) (string, error) {
	if e.llm == nil {
		return "", errkind.New(errkind.GenerationFailure, "no generator configured")
	}

	var sb strings.Builder
	for i, doc := range r.contextDocs {
		if i >= 20 {
			break
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, truncate(doc.Text, 1200))
	}

	temp := r.params.Temperature
	prompt := fmt.Sprintf(`Answer the question using the numbered context passages.
Cite passage numbers like [1] where relevant. If the context is
insufficient, say what is missing.

Context:
%s
Question: %s`, sb.String(), r.query.Text)

	result, err := e.llm.Generate(ctx,
		[]llms.Message{{Role: "user", Content: prompt}},
		&llms.Options{Temperature: &temp})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// saveEpisode persists a successful run for future warm starts. Best effort.
func (e *Engine) saveEpisode(ctx context.Context, r *run) {
	if e.episodes == nil || r.queryEmbedding == nil {
		return
	}
	err := e.episodes.Save(ctx, episode.Episode{
		Query:      r.query.Text,
		Response:   r.result.Answer,
		Plan:       r.plan,
		Language:   r.analysis.Language,
		Confidence: r.result.Confidence,
		Iterations: r.result.Iterations,
	}, r.queryEmbedding)
	if err != nil {
		e.logger.Warn("Episode save failed", "error", err)
	}
}
