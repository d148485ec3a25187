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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
)

// SearchRequest carries one ANN query against a collection.
type SearchRequest struct {
	Embedding  []float32
	TopK       int
	Complexity float64
	Filter     string
	Partitions []string
}

// Store manages one Milvus collection: schema and index lifecycle, inserts,
// adaptive searches, deletes, and health checks. Clients come from the shared
// pool so concurrent callers never exceed the configured connection budget.
type Store struct {
	pool       *Pool
	collection string
	dimension  int
	metric     Metric
	korean     bool
	logger     *slog.Logger

	mu     sync.Mutex
	loaded bool
	params IndexParams
}

// NewStore wires a store for the given collection. The collection is created
// and loaded lazily on first use.
func NewStore(pool *Pool, collection string, dimension int, metric Metric, korean bool) (*Store, error) {
	if collection == "" {
		return nil, errkind.New(errkind.InvalidArgument, "collection name is required")
	}
	if dimension <= 0 {
		return nil, errkind.New(errkind.InvalidArgument, "embedding dimension must be positive")
	}
	if _, err := metric.MilvusType(); err != nil {
		return nil, err
	}
	return &Store{
		pool:       pool,
		collection: collection,
		dimension:  dimension,
		metric:     metric,
		korean:     korean,
		logger:     logger.GetLogger().With("component", "vector", "collection", collection),
	}, nil
}

// Collection returns the managed collection name.
func (s *Store) Collection() string {
	return s.collection
}

// Dimension returns the embedding dimension the collection was created with.
func (s *Store) Dimension() int {
	return s.dimension
}

// EnsureCollection creates the collection and its index if missing, verifies
// the existing index metric otherwise, and loads the collection into memory.
// corpusSizeHint drives index family selection for new collections; pass 0
// when unknown.
func (s *Store) EnsureCollection(ctx context.Context, corpusSizeHint int64) error {
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
		return errkind.Wrap(errkind.Transport, "failed to check collection", err)
	}

	if !exists {
		if err := s.createCollection(ctx, client, corpusSizeHint); err != nil {
			return err
		}
	} else if err := s.verifyIndexMetric(ctx, client); err != nil {
		return err
	}

	loadTask, err := client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return errkind.Wrap(errkind.Transport, "failed to load collection", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return errkind.Wrap(errkind.Transport, "collection load did not complete", err)
	}

	s.loaded = true
	s.logger.Info("Collection ready", "index", s.params.Kind)
	return nil
}

func (s *Store) createCollection(ctx context.Context, client *milvusclient.Client, corpusSizeHint int64) error {
	metricType, err := s.metric.MilvusType()
	if err != nil {
		return err
	}

	schema := entity.NewSchema().
		WithName(s.collection).
		WithDynamicFieldEnabled(true).
		WithField(entity.NewField().WithName(FieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(FieldDocumentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
		WithField(entity.NewField().WithName(FieldKnowledgebaseID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
		WithField(entity.NewField().WithName(FieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(FieldChunkIndex).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldDocumentName).WithDataType(entity.FieldTypeVarChar).WithMaxLength(512)).
		WithField(entity.NewField().WithName(FieldFileType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
		WithField(entity.NewField().WithName(FieldUploadDate).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldAuthor).WithDataType(entity.FieldTypeVarChar).WithMaxLength(256)).
		WithField(entity.NewField().WithName(FieldLanguage).WithDataType(entity.FieldTypeVarChar).WithMaxLength(16)).
		WithField(entity.NewField().WithName(FieldKeywords).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
		WithField(entity.NewField().WithName(FieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dimension)))

	if err := client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, schema)); err != nil {
		return errkind.Wrap(errkind.Transport, "failed to create collection", err)
	}

	s.params = SelectIndexParams(corpusSizeHint, s.korean)
	idx, err := buildIndex(s.params, metricType)
	if err != nil {
		return err
	}

	indexTask, err := client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, FieldEmbedding, idx))
	if err != nil {
		return errkind.Wrap(errkind.Transport, "failed to create index", err)
	}
	if err := indexTask.Await(ctx); err != nil {
		return errkind.Wrap(errkind.Transport, "index build did not complete", err)
	}

	s.logger.Info("Created collection",
		"dimension", s.dimension, "metric", s.metric, "index", s.params.Kind)
	return nil
}

func buildIndex(p IndexParams, metricType entity.MetricType) (index.Index, error) {
	switch p.Kind {
	case IndexHNSW:
		return index.NewHNSWIndex(metricType, p.M, p.EfConstruction), nil
	case IndexIVFPQ:
		return index.NewIvfPQIndex(metricType, p.NList, p.PQM, 8), nil
	case IndexIVFSQ8:
		return index.NewIvfSQ8Index(metricType, p.NList), nil
	default:
		return nil, errkind.Newf(errkind.InvalidArgument, "unknown index kind %q", p.Kind)
	}
}

// verifyIndexMetric rejects collections whose existing index was built with a
// different metric than configured. Scores across metrics are not comparable,
// so the mismatch is an error rather than a silent override.
func (s *Store) verifyIndexMetric(ctx context.Context, client *milvusclient.Client) error {
	desc, err := client.DescribeIndex(ctx, milvusclient.NewDescribeIndexOption(s.collection, FieldEmbedding))
	if err != nil {
		return errkind.Wrap(errkind.Transport, "failed to describe index", err)
	}

	params := desc.Params()
	existing := MetricFromMilvus(entity.MetricType(params[index.MetricTypeKey]))
	if existing != s.metric {
		return errkind.Newf(errkind.IndexMismatch,
			"collection %s indexed with metric %q but %q is configured", s.collection, existing, s.metric)
	}

	s.params = paramsFromIndex(params)
	return nil
}

// paramsFromIndex reconstructs search bases from a described index so that
// adaptive search scaling works on pre-existing collections.
func paramsFromIndex(raw map[string]string) IndexParams {
	kind := IndexKind(raw[index.IndexTypeKey])
	switch kind {
	case IndexHNSW:
		p := IndexParams{Kind: IndexHNSW, BaseEf: 128}
		fmt.Sscanf(raw["M"], "%d", &p.M)
		if p.M >= 24 {
			p.BaseEf = 160
		}
		return p
	case IndexIVFPQ:
		p := IndexParams{Kind: IndexIVFPQ, BaseNProbe: 16}
		fmt.Sscanf(raw["nlist"], "%d", &p.NList)
		if p.NList >= 2048 {
			p.BaseNProbe = 32
		}
		return p
	case IndexIVFSQ8:
		p := IndexParams{Kind: IndexIVFSQ8, BaseNProbe: 32}
		fmt.Sscanf(raw["nlist"], "%d", &p.NList)
		if p.NList >= 4096 {
			p.BaseNProbe = 64
		}
		return p
	default:
		return IndexParams{Kind: kind, BaseEf: 128, BaseNProbe: 16}
	}
}

// Insert writes chunks to the collection and flushes them so they are
// immediately searchable. Every embedding must match the configured dimension.
func (s *Store) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return errkind.New(errkind.InvalidArgument, "no chunks to insert")
	}

	ids := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	kbIDs := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	chunkIdx := make([]int64, len(chunks))
	docNames := make([]string, len(chunks))
	fileTypes := make([]string, len(chunks))
	uploadDates := make([]int64, len(chunks))
	authors := make([]string, len(chunks))
	languages := make([]string, len(chunks))
	keywords := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))

	for i, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return errkind.Newf(errkind.IndexMismatch,
				"chunk %s embedding dimension %d does not match collection dimension %d",
				c.ID, len(c.Embedding), s.dimension)
		}
		ids[i] = c.ID
		docIDs[i] = c.DocumentID
		kbIDs[i] = c.KnowledgebaseID
		texts[i] = c.Text
		chunkIdx[i] = c.ChunkIndex
		docNames[i] = c.DocumentName
		fileTypes[i] = c.FileType
		uploadDates[i] = c.UploadDate
		authors[i] = c.Author
		languages[i] = c.Language
		keywords[i] = c.Keywords
		embeddings[i] = c.Embedding
	}

	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	opt := milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnVarChar(FieldDocumentID, docIDs),
		column.NewColumnVarChar(FieldKnowledgebaseID, kbIDs),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnInt64(FieldChunkIndex, chunkIdx),
		column.NewColumnVarChar(FieldDocumentName, docNames),
		column.NewColumnVarChar(FieldFileType, fileTypes),
		column.NewColumnInt64(FieldUploadDate, uploadDates),
		column.NewColumnVarChar(FieldAuthor, authors),
		column.NewColumnVarChar(FieldLanguage, languages),
		column.NewColumnVarChar(FieldKeywords, keywords),
		column.NewColumnFloatVector(FieldEmbedding, s.dimension, embeddings),
	)
	if _, err := client.Insert(ctx, opt); err != nil {
		return errkind.Wrap(errkind.Transport, "insert failed", err)
	}

	flushTask, err := client.Flush(ctx, milvusclient.NewFlushOption(s.collection))
	if err != nil {
		return errkind.Wrap(errkind.Transport, "flush failed", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return errkind.Wrap(errkind.Transport, "flush did not complete", err)
	}

	s.logger.Debug("Inserted chunks", "count", len(chunks))
	return nil
}

// Search runs one ANN query with complexity-scaled probe parameters and
// returns hits with scores normalized to [0,1], best first.
func (s *Store) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if len(req.Embedding) != s.dimension {
		return nil, errkind.Newf(errkind.IndexMismatch,
			"query embedding dimension %d does not match collection dimension %d",
			len(req.Embedding), s.dimension)
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	params := AdaptiveSearchParams(s.params, req.Complexity)
	s.mu.Unlock()

	annParam := index.NewCustomAnnParam()
	if params.Ef > 0 {
		annParam.WithExtraParam("ef", params.Ef)
	}
	if params.NProbe > 0 {
		annParam.WithExtraParam("nprobe", params.NProbe)
	}

	opt := milvusclient.NewSearchOption(s.collection, req.TopK,
		[]entity.Vector{entity.FloatVector(req.Embedding)}).
		WithANNSField(FieldEmbedding).
		WithAnnParam(annParam).
		WithOutputFields(FieldDocumentID, FieldText, FieldDocumentName, FieldChunkIndex)
	if req.Filter != "" {
		opt = opt.WithFilter(req.Filter)
	}
	if len(req.Partitions) > 0 {
		opt = opt.WithPartitions(req.Partitions...)
	}

	resultSets, err := client.Search(ctx, opt)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transport, "search failed", err)
	}
	if len(resultSets) == 0 {
		return nil, nil
	}

	rs := resultSets[0]
	results := make([]SearchResult, 0, rs.IDs.Len())
	for i := 0; i < rs.IDs.Len(); i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, "malformed search result id", err)
		}
		r := SearchResult{ID: id, Score: float64(rs.Scores[i])}
		if col := rs.GetColumn(FieldDocumentID); col != nil {
			r.DocumentID, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(FieldText); col != nil {
			r.Text, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(FieldDocumentName); col != nil {
			r.DocumentName, _ = col.GetAsString(i)
		}
		if col := rs.GetColumn(FieldChunkIndex); col != nil {
			r.ChunkIndex, _ = col.GetAsInt64(i)
		}
		results = append(results, r)
	}

	NormalizeScores(results, s.metric)
	return results, nil
}

// NormalizeScores rewrites raw metric scores into [0,1], higher better.
// Cosine and IP similarities already rank descending; L2 distances rank
// ascending and are inverted. Min-max over the result set keeps downstream
// confidence arithmetic metric-agnostic.
func NormalizeScores(results []SearchResult, metric Metric) {
	if len(results) == 0 {
		return
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	spread := max - min
	if spread == 0 {
		for i := range results {
			results[i].Score = 1.0
		}
		return
	}

	for i := range results {
		n := (results[i].Score - min) / spread
		if metric == MetricL2 {
			n = 1.0 - n
		}
		results[i].Score = n
	}
}

// Delete removes entities matching the boolean expression and returns the
// number deleted.
func (s *Store) Delete(ctx context.Context, expr string) (int64, error) {
	if expr == "" {
		return 0, errkind.New(errkind.InvalidArgument, "delete expression is required")
	}

	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	res, err := client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithExpr(expr))
	if err != nil {
		return 0, errkind.Wrap(errkind.Transport, "delete failed", err)
	}

	flushTask, err := client.Flush(ctx, milvusclient.NewFlushOption(s.collection))
	if err != nil {
		return res.DeleteCount, errkind.Wrap(errkind.Transport, "flush after delete failed", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return res.DeleteCount, errkind.Wrap(errkind.Transport, "flush after delete did not complete", err)
	}

	s.logger.Debug("Deleted entities", "expr", expr, "count", res.DeleteCount)
	return res.DeleteCount, nil
}

// HealthCheck reports connectivity, collection existence, and entity count.
// It never returns an error; failures are folded into the Health struct.
func (s *Store) HealthCheck(ctx context.Context) Health {
	client, release, err := s.pool.Acquire(ctx)
	if err != nil {
		return Health{Error: err.Error()}
	}
	defer release()

	exists, err := client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return Health{Error: err.Error()}
	}
	h := Health{Connected: true, CollectionExists: exists}
	if !exists {
		return h
	}

	rs, err := client.Query(ctx, milvusclient.NewQueryOption(s.collection).
		WithOutputFields("count(*)"))
	if err != nil {
		h.Error = err.Error()
		return h
	}
	if col := rs.GetColumn("count(*)"); col != nil && col.Len() > 0 {
		h.EntityCount, _ = col.GetAsInt64(0)
	}
	return h
}
