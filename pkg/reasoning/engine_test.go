package reasoning

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/episode"
	"github.com/kadirpekel/seeker/pkg/llms"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/strategy"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// scriptedLLM answers prompts by kind: decomposition, retrieval grading,
// generation grading, refinement, and final answers each get a scripted
// response queue.
type scriptedLLM struct {
	retrievalGrades  []string
	generationGrades []string
	answers          []string
	refined          string
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llms.Message, _ *llms.Options) (*llms.Result, error) {
	prompt := messages[len(messages)-1].Content
	pop := func(queue *[]string) string {
		if len(*queue) == 0 {
			return ""
		}
		head := (*queue)[0]
		*queue = (*queue)[1:]
		return head
	}

	switch {
	case strings.Contains(prompt, "Break this question"):
		return &llms.Result{Text: "scripted sub query"}, nil
	case strings.Contains(prompt, "Grade how well these retrieved passages"):
		return &llms.Result{Text: pop(&s.retrievalGrades)}, nil
	case strings.Contains(prompt, "Grade this answer"):
		return &llms.Result{Text: pop(&s.generationGrades)}, nil
	case strings.Contains(prompt, "returned weak results"):
		return &llms.Result{Text: s.refined}, nil
	default:
		return &llms.Result{Text: pop(&s.answers)}, nil
	}
}

type scriptedRetriever struct {
	name    string
	results []vector.SearchResult
	queries []string
}

func (r *scriptedRetriever) Name() string { return r.name }

func (r *scriptedRetriever) Search(_ context.Context, text string, _ int, _ map[string]string) ([]vector.SearchResult, error) {
	r.queries = append(r.queries, text)
	return r.results, nil
}

func (r *scriptedRetriever) Health(context.Context) error { return nil }

// distinctEmbedder gives every distinct text its own direction so the
// observation filter never sees duplicates.
type distinctEmbedder struct {
	seen map[string]int
}

func (f *distinctEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	idx, ok := f.seen[text]
	if !ok {
		idx = len(f.seen)
		f.seen[text] = idx
	}
	vec := make([]float32, 8)
	vec[idx%8] = 1
	return vec, nil
}

func (f *distinctEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.Embed(ctx, t)
	}
	return out, nil
}

func (f *distinctEmbedder) Dimension() int { return 8 }

func testEngineConfig() config.EngineConfig {
	cfg := config.EngineConfig{}
	cfg.SetDefaults()
	return cfg
}

func newTestEngine(llm llms.Generator, vectorRet, webRet *scriptedRetriever) *Engine {
	var web *scriptedRetriever
	if webRet != nil {
		web = webRet
	}
	e := NewEngine(query.NewAnalyzer(), llm, &distinctEmbedder{}, vectorRet, nil, nil, nil, testEngineConfig())
	if web != nil {
		e.webRet = web
	}
	return e
}

func TestZeroIterationsExhaustsBudgetImmediately(t *testing.T) {
	e := newTestEngine(&scriptedLLM{}, &scriptedRetriever{name: "vector"}, nil)

	result, err := e.Execute(context.Background(),
		query.Query{Text: "anything"}, strategy.Parameters{TopK: 5, MaxIterations: 0})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateBudgetExhausted {
		t.Errorf("State = %q, want %q", result.State, StateBudgetExhausted)
	}
	if result.Answer != "" {
		t.Errorf("Answer = %q, want empty", result.Answer)
	}
	if result.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", result.Iterations)
	}
}

func TestHappyPathConfidenceFormula(t *testing.T) {
	llm := &scriptedLLM{
		retrievalGrades:  []string{`{"quality": "good", "confidence": 0.5, "recommended_action": "use"}`},
		generationGrades: []string{`{"support": "fully_supported", "usefulness": "useful", "confidence": 1.0}`},
		answers:          []string{"Kubernetes schedules pods [1]."},
	}
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "kubernetes scheduling documentation", Score: 0.9},
	}}
	e := newTestEngine(llm, vectorRet, nil)

	result, err := e.Execute(context.Background(),
		query.Query{Text: "How does Kubernetes schedule pods?"},
		strategy.Parameters{TopK: 5, MaxIterations: 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateFinal {
		t.Fatalf("State = %q, want FINAL", result.State)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	// 0.4*0.5 retrieval + 0.6*1.0 generation.
	if result.Confidence < 0.799 || result.Confidence > 0.801 {
		t.Errorf("Confidence = %f, want 0.8", result.Confidence)
	}
	if len(result.Sources) == 0 {
		t.Error("final result must carry sources")
	}
}

func TestRetrievalRoundEntersRetrieveState(t *testing.T) {
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "document", Score: 0.5},
	}}
	e := newTestEngine(&scriptedLLM{}, vectorRet, nil)

	r := &run{
		query:        query.Query{Text: "q"},
		plan:         []string{"q"},
		currentQuery: "q",
		params:       strategy.Parameters{TopK: 3},
	}
	if _, err := e.retrieve(context.Background(), r); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if r.result.State != StateRetrieve {
		t.Errorf("State = %q, want %q", r.result.State, StateRetrieve)
	}
}

func TestCorrectiveRefineThenBoost(t *testing.T) {
	llm := &scriptedLLM{
		retrievalGrades: []string{
			`{"quality": "poor", "confidence": 0.2, "recommended_action": "refine_query"}`,
			`{"quality": "good", "confidence": 0.5, "recommended_action": "use"}`,
		},
		generationGrades: []string{`{"support": "fully_supported", "usefulness": "useful", "confidence": 1.0}`},
		answers:          []string{"answer"},
		refined:          "rewritten query",
	}
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "some document", Score: 0.5},
	}}
	e := newTestEngine(llm, vectorRet, nil)

	result, err := e.Execute(context.Background(),
		query.Query{Text: "original query"},
		strategy.Parameters{TopK: 5, MaxIterations: 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateFinal {
		t.Fatalf("State = %q, want FINAL", result.State)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}

	// The second round must have searched with the rewritten query.
	found := false
	for _, q := range vectorRet.queries {
		if q == "rewritten query" {
			found = true
		}
	}
	if !found {
		t.Errorf("refined query never searched; queries = %v", vectorRet.queries)
	}

	// Corrective boost: second assessment 0.5 + 0.1 boost = 0.6, so
	// final confidence is 0.4*0.6 + 0.6*1.0 = 0.84.
	if result.Confidence < 0.839 || result.Confidence > 0.841 {
		t.Errorf("Confidence = %f, want 0.84", result.Confidence)
	}
}

func TestNoConsecutiveRepeatOfCorrectiveAction(t *testing.T) {
	llm := &scriptedLLM{
		retrievalGrades: []string{
			`{"quality": "poor", "confidence": 0.1, "recommended_action": "refine_query"}`,
			`{"quality": "poor", "confidence": 0.1, "recommended_action": "refine_query"}`,
			`{"quality": "poor", "confidence": 0.1, "recommended_action": "use"}`,
		},
		generationGrades: []string{`{"support": "fully_supported", "usefulness": "useful", "confidence": 0.9}`},
		answers:          []string{"answer"},
		refined:          "rewritten query",
	}
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "weak document", Score: 0.2},
	}}
	webRet := &scriptedRetriever{name: "web", results: []vector.SearchResult{
		{ID: "w", Text: "web hit", Score: 0.6},
	}}
	e := newTestEngine(llm, vectorRet, webRet)

	result, err := e.Execute(context.Background(),
		query.Query{Text: "q"}, strategy.Parameters{TopK: 5, MaxIterations: 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Iteration 1 refines; iteration 2 cannot refine again and must fall
	// back to web search instead of looping on refinement.
	if len(webRet.queries) == 0 {
		t.Error("second corrective should have engaged the web retriever")
	}
	if result.State != StateFinal {
		t.Errorf("State = %q, want FINAL", result.State)
	}
}

func TestRegenerateOnUnsupportedAnswer(t *testing.T) {
	llm := &scriptedLLM{
		retrievalGrades: []string{
			`{"quality": "good", "confidence": 0.7, "recommended_action": "use"}`,
			`{"quality": "good", "confidence": 0.7, "recommended_action": "use"}`,
		},
		generationGrades: []string{
			`{"support": "not_supported", "usefulness": "not_useful", "confidence": 0.1}`,
			`{"support": "fully_supported", "usefulness": "useful", "confidence": 0.9}`,
		},
		answers: []string{"bad answer", "good answer"},
	}
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "document", Score: 0.8},
	}}
	e := newTestEngine(llm, vectorRet, nil)

	result, err := e.Execute(context.Background(),
		query.Query{Text: "q"}, strategy.Parameters{TopK: 4, MaxIterations: 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateFinal {
		t.Fatalf("State = %q, want FINAL", result.State)
	}
	if result.Answer != "good answer" {
		t.Errorf("Answer = %q, want regenerated answer", result.Answer)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
}

// At the last allowed iteration a weak answer finalizes instead of looping.
func TestLastIterationFinalizesWeakAnswer(t *testing.T) {
	llm := &scriptedLLM{
		retrievalGrades: []string{
			`{"quality": "good", "confidence": 0.7, "recommended_action": "use"}`,
			`{"quality": "good", "confidence": 0.7, "recommended_action": "use"}`,
		},
		generationGrades: []string{
			`{"support": "not_supported", "usefulness": "not_useful", "confidence": 0.1}`,
			`{"support": "not_supported", "usefulness": "not_useful", "confidence": 0.2}`,
		},
		answers: []string{"attempt one", "attempt two"},
	}
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "document", Score: 0.8},
	}}
	e := newTestEngine(llm, vectorRet, nil)

	result, err := e.Execute(context.Background(),
		query.Query{Text: "q"}, strategy.Parameters{TopK: 4, MaxIterations: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.State != StateFinal {
		t.Errorf("State = %q, want FINAL", result.State)
	}
	if result.Answer != "attempt two" {
		t.Errorf("Answer = %q, want the last attempt", result.Answer)
	}
	// 0.4*0.7 retrieval + 0.6*0.2 generation.
	if result.Confidence < 0.399 || result.Confidence > 0.401 {
		t.Errorf("Confidence = %f, want 0.4", result.Confidence)
	}
}

type fakeEpisodes struct {
	saved  []episode.Episode
	stored *episode.Episode
}

func (f *fakeEpisodes) FindSimilar(context.Context, []float32, string) (*episode.Episode, error) {
	return f.stored, nil
}

func (f *fakeEpisodes) Save(_ context.Context, ep episode.Episode, _ []float32) error {
	f.saved = append(f.saved, ep)
	return nil
}

func TestWarmStartUsesEpisodePlan(t *testing.T) {
	llm := &scriptedLLM{
		retrievalGrades:  []string{`{"quality": "good", "confidence": 0.6, "recommended_action": "use"}`},
		generationGrades: []string{`{"support": "fully_supported", "usefulness": "useful", "confidence": 0.9}`},
		answers:          []string{"answer"},
	}
	vectorRet := &scriptedRetriever{name: "vector", results: []vector.SearchResult{
		{ID: "a", Text: "document", Score: 0.8},
	}}
	episodes := &fakeEpisodes{stored: &episode.Episode{
		ID:   "past",
		Plan: []string{"prior sub query"},
	}}

	e := NewEngine(query.NewAnalyzer(), llm, &distinctEmbedder{}, vectorRet, nil, nil, episodes, testEngineConfig())

	result, err := e.Execute(context.Background(),
		query.Query{Text: "familiar question"}, strategy.Parameters{TopK: 5, MaxIterations: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.WarmStarted {
		t.Error("run should be warm-started")
	}
	if vectorRet.queries[0] != "prior sub query" {
		t.Errorf("first search = %q, want the episode's plan", vectorRet.queries[0])
	}
	if len(episodes.saved) != 1 {
		t.Errorf("episodes saved = %d, want 1", len(episodes.saved))
	}
}

func TestHeuristicRetrievalGrades(t *testing.T) {
	tests := []struct {
		name    string
		results []vector.SearchResult
		want    Quality
	}{
		{"empty", nil, QualityPoor},
		{"strong", []vector.SearchResult{{Score: 0.9}, {Score: 0.7}}, QualityExcellent},
		{"decent", []vector.SearchResult{{Score: 0.65}, {Score: 0.2}}, QualityGood},
		{"thin", []vector.SearchResult{{Score: 0.45}}, QualityAmbiguous},
		{"weak", []vector.SearchResult{{Score: 0.1}}, QualityPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := heuristicRetrieval(tt.results); got.Quality != tt.want {
				t.Errorf("Quality = %q, want %q", got.Quality, tt.want)
			}
		})
	}
}

func TestHeuristicGenerationGrades(t *testing.T) {
	contexts := []vector.SearchResult{{Text: "kubernetes schedules pods onto nodes using filters"}}

	grounded := heuristicGeneration("kubernetes schedules pods onto nodes", contexts)
	if grounded.Support != SupportFull || grounded.Usefulness != Useful {
		t.Errorf("grounded answer graded %+v", grounded)
	}

	ungrounded := heuristicGeneration("bananas ripen faster inside paper bags", contexts)
	if ungrounded.Support != SupportNone {
		t.Errorf("ungrounded answer graded %+v", ungrounded)
	}

	empty := heuristicGeneration("  ", contexts)
	if empty.Usefulness != NotUseful {
		t.Errorf("empty answer graded %+v", empty)
	}
}

func TestObservationFilterDropsDuplicates(t *testing.T) {
	f := newObservationFilter(&distinctEmbedder{}, 0.82)
	ctx := context.Background()

	first := f.admit(ctx, []vector.SearchResult{
		{ID: "a", Text: "alpha"},
		{ID: "b", Text: "beta"},
	})
	if len(first) != 2 {
		t.Fatalf("first round admitted %d, want 2", len(first))
	}

	// Same text embeds identically, so the rerun is redundant.
	second := f.admit(ctx, []vector.SearchResult{
		{ID: "a2", Text: "alpha"},
		{ID: "c", Text: "gamma"},
	})
	if len(second) != 1 || second[0].ID != "c" {
		t.Errorf("second round admitted %+v, want only gamma", second)
	}
}

func TestExtractJSON(t *testing.T) {
	text := "Here you go:\n```json\n{\"quality\": \"good\"}\n```"
	if got := extractJSON(text); got != `{"quality": "good"}` {
		t.Errorf("extractJSON = %q", got)
	}
}
