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

// Package router coordinates the speculative and agentic execution paths
// and merges their outcomes per query mode.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/kadirpekel/seeker/pkg/cache"
	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/monitor"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/strategy"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// Status marks how a response relates to the run that produced it.
type Status string

const (
	// StatusInterim is a speculative result streamed while the agentic
	// path is still running.
	StatusInterim Status = "interim"

	// StatusFinal is the run's definitive answer.
	StatusFinal Status = "final"

	// StatusPreliminary is a speculative answer finalized because the
	// agentic path timed out.
	StatusPreliminary Status = "preliminary"

	// StatusFallback is a speculative answer finalized because the
	// agentic path failed.
	StatusFallback Status = "fallback"
)

// Response is one routed answer.
type Response struct {
	Answer     string                `json:"answer"`
	Sources    []vector.SearchResult `json:"sources,omitempty"`
	Confidence float64               `json:"confidence"`
	Strategy   string                `json:"strategy_used"`
	Status     Status                `json:"status"`
	Iterations int                   `json:"iterations,omitempty"`
}

// outcome is the explicit completion value of one path: exactly one of ok,
// err, or timeout.
type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	outcomeErr
	outcomeTimeout
)

type outcome struct {
	kind     outcomeKind
	response *Response
	err      error
	elapsed  time.Duration
}

// Path executes one of the two strategies end to end.
type Path interface {
	// Execute answers the query or fails; it must honor ctx.
	Execute(ctx context.Context, q query.Query, analysis query.Analysis, sel strategy.Selection) (*Response, error)
}

// Emit receives streamed responses in balanced mode. The final response is
// both emitted and returned.
type Emit func(Response)

// Router launches paths per mode, merges completions, and reports events to
// the monitor.
type Router struct {
	analyzer    *query.Analyzer
	selector    *strategy.Selector
	speculative Path
	agentic     Path
	monitor     *monitor.Monitor
	cache       *cache.Cache
	cfg         config.RouterConfig
	logger      *slog.Logger
}

// New wires a router over the two paths. c may be nil to disable answer
// caching.
func New(
	analyzer *query.Analyzer,
	selector *strategy.Selector,
	speculative, agentic Path,
	mon *monitor.Monitor,
	c *cache.Cache,
	cfg config.RouterConfig,
) *Router {
	return &Router{
		analyzer:    analyzer,
		selector:    selector,
		speculative: speculative,
		agentic:     agentic,
		monitor:     mon,
		cache:       c,
		cfg:         cfg,
		logger:      logger.GetLogger().With("component", "router"),
	}
}

// Route answers the query according to its mode. emit may be nil; it is
// only used for interim results in balanced mode.
func (r *Router) Route(ctx context.Context, q query.Query, emit Emit) (*Response, error) {
	mode := q.Mode
	if mode == "" {
		mode = query.ModeBalanced
	}
	analysis := r.analyzer.Analyze(q.Text)

	if cached := r.cachedAnswer(ctx, q, mode); cached != nil {
		return cached, nil
	}

	sel := r.selector.Select(analysis, strategy.Context{
		FastMode:     mode == query.ModeFast || q.HasConstraint("fast_mode"),
		HighAccuracy: q.HasConstraint("high_accuracy"),
	})

	ev := monitor.NewEvent(string(mode))
	defer func() { r.monitor.Record(ev) }()

	var resp *Response
	var err error
	switch mode {
	case query.ModeFast:
		resp, err = r.routeSingle(ctx, q, analysis, sel, r.speculative, r.cfg.SpeculativeTimeout(), &ev, "speculative")
	case query.ModeDeep:
		resp, err = r.routeSingle(ctx, q, analysis, sel, r.agentic, r.cfg.AgenticTimeout(), &ev, "agentic")
	default:
		resp, err = r.routeBalanced(ctx, q, analysis, sel, emit, &ev)
	}
	if err == nil && resp.Status == StatusFinal {
		r.storeAnswer(ctx, q, mode, resp)
	}
	return resp, err
}

// answerKey hashes the cacheable request identity. Constraints participate
// so filtered queries never share answers.
func answerKey(q query.Query, mode query.Mode) string {
	h := sha256.New()
	h.Write([]byte(q.Text))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	keys := make([]string, 0, len(q.Constraints))
	for k := range q.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k + "=" + q.Constraints[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Router) cachedAnswer(ctx context.Context, q query.Query, mode query.Mode) *Response {
	if r.cache == nil {
		return nil
	}
	data, ok := r.cache.Get(ctx, cache.TypeAnswer, answerKey(q, mode))
	if !ok {
		return nil
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil
	}
	return &resp
}

func (r *Router) storeAnswer(ctx context.Context, q query.Query, mode query.Mode, resp *Response) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	r.cache.Set(ctx, cache.TypeAnswer, answerKey(q, mode), data)
}

// routeSingle runs one path under its timeout. In single-path modes a
// timeout is a failure; there is nothing to fall back to.
func (r *Router) routeSingle(
	ctx context.Context,
	q query.Query,
	analysis query.Analysis,
	sel strategy.Selection,
	path Path,
	timeout time.Duration,
	ev *monitor.Event,
	pathName string,
) (*Response, error) {
	out := r.runPath(ctx, q, analysis, sel, path, timeout)
	r.observePath(ev, pathName, out)
	ev.FirstPath = pathName

	switch out.kind {
	case outcomeOK:
		out.response.Status = StatusFinal
		r.recordStrategy(sel, out.response)
		return out.response, nil
	case outcomeTimeout:
		ev.ErrorKind = string(errkind.Timeout)
		return nil, errkind.Wrapf(errkind.Timeout, out.err, "%s path exceeded its deadline", pathName)
	default:
		ev.ErrorKind = string(errkind.KindOf(out.err))
		return nil, out.err
	}
}

// routeBalanced launches both paths in parallel. The speculative result
// streams as an interim update; the agentic result supersedes it unless it
// scores strictly lower.
func (r *Router) routeBalanced(
	ctx context.Context,
	q query.Query,
	analysis query.Analysis,
	sel strategy.Selection,
	emit Emit,
	ev *monitor.Event,
) (*Response, error) {
	// A zero speculative timeout disables the speculative path entirely.
	if r.cfg.SpeculativeTimeoutMs == 0 {
		return r.routeSingle(ctx, q, analysis, sel, r.agentic, r.cfg.AgenticTimeout(), ev, "agentic")
	}

	// Each path gets its own cancellation scope.
	specCh := make(chan outcome, 1)
	agentCh := make(chan outcome, 1)
	go func() {
		specCh <- r.runPath(ctx, q, analysis, sel, r.speculative, r.cfg.SpeculativeTimeout())
	}()
	go func() {
		agentCh <- r.runPath(ctx, q, analysis, sel, r.agentic, r.cfg.AgenticTimeout())
	}()

	var spec, agent *outcome
	for spec == nil || agent == nil {
		select {
		case out := <-specCh:
			spec = &out
			if ev.FirstPath == "" {
				ev.FirstPath = "speculative"
			}
			r.observePath(ev, "speculative", out)
			if out.kind == outcomeOK && agent == nil && emit != nil &&
				out.response.Confidence >= r.cfg.MinInterimConfidence {
				interim := *out.response
				interim.Status = StatusInterim
				emit(interim)
			}
		case out := <-agentCh:
			agent = &out
			if ev.FirstPath == "" {
				ev.FirstPath = "agentic"
			}
			r.observePath(ev, "agentic", out)
		case <-ctx.Done():
			ev.ErrorKind = string(errkind.KindOf(ctx.Err()))
			return nil, errkind.Wrap(errkind.KindOf(ctx.Err()), "request cancelled", ctx.Err())
		}
	}

	return r.merge(sel, spec, agent, ev)
}

// merge applies the tie-break rules to the two completed paths.
func (r *Router) merge(sel strategy.Selection, spec, agent *outcome, ev *monitor.Event) (*Response, error) {
	specOK := spec.kind == outcomeOK
	agentOK := agent.kind == outcomeOK

	switch {
	case specOK && agentOK:
		// Agentic supersedes unless strictly weaker.
		if agent.response.Confidence < spec.response.Confidence {
			ev.Anomaly = true
			spec.response.Status = StatusFinal
			r.recordStrategy(sel, spec.response)
			return spec.response, nil
		}
		agent.response.Status = StatusFinal
		r.recordStrategy(sel, agent.response)
		return agent.response, nil

	case specOK && agent.kind == outcomeTimeout:
		spec.response.Status = StatusPreliminary
		r.recordStrategy(sel, spec.response)
		return spec.response, nil

	case specOK:
		spec.response.Status = StatusFallback
		r.recordStrategy(sel, spec.response)
		return spec.response, nil

	case agentOK:
		agent.response.Status = StatusFinal
		r.recordStrategy(sel, agent.response)
		return agent.response, nil

	default:
		err := errkind.MostInformative(pathError(spec), pathError(agent))
		ev.ErrorKind = string(errkind.KindOf(err))
		return nil, err
	}
}

func pathError(out *outcome) error {
	if out.kind == outcomeTimeout {
		return errkind.Wrap(errkind.Timeout, "path exceeded its deadline", out.err)
	}
	return out.err
}

// runPath executes one path under its own deadline and classifies the
// completion as ok, err, or timeout.
func (r *Router) runPath(
	ctx context.Context,
	q query.Query,
	analysis query.Analysis,
	sel strategy.Selection,
	path Path,
	timeout time.Duration,
) outcome {
	pathCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pathCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := path.Execute(pathCtx, q, analysis, sel)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		return outcome{kind: outcomeOK, response: resp, elapsed: elapsed}
	case pathCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		return outcome{kind: outcomeTimeout, err: err, elapsed: elapsed}
	default:
		return outcome{kind: outcomeErr, err: err, elapsed: elapsed}
	}
}

func (r *Router) observePath(ev *monitor.Event, pathName string, out outcome) {
	ms := float64(out.elapsed.Milliseconds())
	if pathName == "speculative" {
		ev.SpeculativeMs = ms
		if out.kind == outcomeOK {
			ev.SpeculativeConf = out.response.Confidence
		}
	} else {
		ev.AgenticMs = ms
		if out.kind == outcomeOK {
			ev.AgenticConf = out.response.Confidence
		}
	}
	if out.kind != outcomeOK {
		r.logger.Debug("Path did not complete", "path", pathName,
			"timeout", out.kind == outcomeTimeout, "error", out.err)
	}
}

// recordStrategy feeds the winning response's confidence back into the
// strategy performance window.
func (r *Router) recordStrategy(sel strategy.Selection, resp *Response) {
	if resp.Strategy == "" {
		resp.Strategy = string(sel.Strategy)
	}
	r.selector.RecordOutcome(sel.Strategy, resp.Confidence)
}
