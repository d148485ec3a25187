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

// Package episode persists completed agentic runs and looks them up by query
// similarity so the reasoning engine can warm-start on familiar queries.
package episode

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/vector"
)

// Episode is one persisted agentic run.
type Episode struct {
	ID       string `json:"id"`
	Query    string `json:"query"`
	Response string `json:"response"`

	// Plan is the decomposition the run used, reusable as a warm start.
	Plan       []string  `json:"plan,omitempty"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	Iterations int       `json:"iterations"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store keeps episodes in a dedicated Milvus collection. Reads dominate:
// every agentic run probes for a similar episode, writes happen only on
// successful completion.
type Store struct {
	pool       *vector.Pool
	collection string
	dimension  int
	threshold  float64
	logger     *slog.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewStore wires the episode store. threshold is the cosine similarity a
// past query must reach to count as a warm-start match.
func NewStore(pool *vector.Pool, collection string, dimension int, threshold float64) (*Store, error) {
	if collection == "" {
		return nil, errkind.New(errkind.InvalidArgument, "episode collection name is required")
	}
	if dimension <= 0 {
		return nil, errkind.New(errkind.InvalidArgument, "embedding dimension must be positive")
	}
	return &Store{
		pool:       pool,
		collection: collection,
		dimension:  dimension,
		threshold:  threshold,
		logger:     logger.GetLogger().With("component", "episode"),
	}, nil
}

// ensureLoaded creates the collection on first use and loads it. Episodes
// always use cosine HNSW; the corpus stays small.
func (s *Store) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	exists, err := client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return errkind.Wrap(errkind.Transport, "failed to check episode collection", err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(s.collection).
			WithField(entity.NewField().WithName("id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName("query").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192)).
			WithField(entity.NewField().WithName("response").WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName("plan").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192)).
			WithField(entity.NewField().WithName("language").WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
			WithField(entity.NewField().WithName("confidence").WithDataType(entity.FieldTypeDouble)).
			WithField(entity.NewField().WithName("iterations").WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName("timestamp").WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName("embedding").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dimension)))

		if err := client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, schema)); err != nil {
			return errkind.Wrap(errkind.Transport, "failed to create episode collection", err)
		}
		idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
		task, err := client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, "embedding", idx))
		if err != nil {
			return errkind.Wrap(errkind.Transport, "failed to create episode index", err)
		}
		if err := task.Await(ctx); err != nil {
			return errkind.Wrap(errkind.Transport, "episode index build did not complete", err)
		}
	}

	task, err := client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return errkind.Wrap(errkind.Transport, "failed to load episode collection", err)
	}
	if err := task.Await(ctx); err != nil {
		return errkind.Wrap(errkind.Transport, "episode collection load did not complete", err)
	}

	s.loaded = true
	return nil
}

// FindSimilar returns the best past episode whose query embedding reaches
// the similarity threshold and whose language matches. A miss is (nil, nil).
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, language string) (*Episode, error) {
	if len(embedding) != s.dimension {
		return nil, errkind.Newf(errkind.IndexMismatch,
			"episode query dimension %d does not match %d", len(embedding), s.dimension)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	opt := milvusclient.NewSearchOption(s.collection, 1,
		[]entity.Vector{entity.FloatVector(embedding)}).
		WithANNSField("embedding").
		WithOutputFields("query", "response", "plan", "language", "confidence", "iterations", "timestamp")
	if language != "" {
		opt = opt.WithFilter(`language == "` + language + `"`)
	}

	resultSets, err := client.Search(ctx, opt)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transport, "episode search failed", err)
	}
	if len(resultSets) == 0 || resultSets[0].IDs.Len() == 0 {
		return nil, nil
	}

	rs := resultSets[0]
	if float64(rs.Scores[0]) < s.threshold {
		return nil, nil
	}

	ep := &Episode{}
	ep.ID, _ = rs.IDs.GetAsString(0)
	if col := rs.GetColumn("query"); col != nil {
		ep.Query, _ = col.GetAsString(0)
	}
	if col := rs.GetColumn("response"); col != nil {
		ep.Response, _ = col.GetAsString(0)
	}
	if col := rs.GetColumn("plan"); col != nil {
		raw, _ := col.GetAsString(0)
		if raw != "" {
			_ = json.Unmarshal([]byte(raw), &ep.Plan)
		}
	}
	if col := rs.GetColumn("language"); col != nil {
		ep.Language, _ = col.GetAsString(0)
	}
	if col := rs.GetColumn("confidence"); col != nil {
		ep.Confidence, _ = col.GetAsDouble(0)
	}
	if col := rs.GetColumn("iterations"); col != nil {
		iters, _ := col.GetAsInt64(0)
		ep.Iterations = int(iters)
	}
	if col := rs.GetColumn("timestamp"); col != nil {
		ts, _ := col.GetAsInt64(0)
		ep.Timestamp = time.Unix(ts, 0)
	}
	return ep, nil
}

// Save persists a completed run. Called only after successful agentic
// completion; failures are logged by the caller, not retried.
func (s *Store) Save(ctx context.Context, ep Episode, embedding []float32) error {
	if len(embedding) != s.dimension {
		return errkind.Newf(errkind.IndexMismatch,
			"episode embedding dimension %d does not match %d", len(embedding), s.dimension)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	opt := milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar("id", []string{ep.ID}),
		column.NewColumnVarChar("query", []string{ep.Query}),
		column.NewColumnVarChar("response", []string{ep.Response}),
		column.NewColumnVarChar("plan", []string{marshalPlan(ep.Plan)}),
		column.NewColumnVarChar("language", []string{ep.Language}),
		column.NewColumnDouble("confidence", []float64{ep.Confidence}),
		column.NewColumnInt64("iterations", []int64{int64(ep.Iterations)}),
		column.NewColumnInt64("timestamp", []int64{ep.Timestamp.Unix()}),
		column.NewColumnFloatVector("embedding", s.dimension, [][]float32{embedding}),
	)
	if _, err := client.Insert(ctx, opt); err != nil {
		return errkind.Wrap(errkind.Transport, "episode insert failed", err)
	}

	s.logger.Debug("Episode saved", "id", ep.ID, "confidence", ep.Confidence)
	return nil
}

func marshalPlan(plan []string) string {
	if len(plan) == 0 {
		return ""
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return ""
	}
	return string(data)
}
