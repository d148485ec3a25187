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

// Package vector implements the Milvus-backed vector store layer: collection
// lifecycle, adaptive index and search parameters, partitioning, and a
// bounded client pool.
package vector

import (
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kadirpekel/seeker/pkg/errkind"
)

// Collection field names. The schema is shared by every collection the engine
// creates; dynamic fields cover anything beyond these.
const (
	FieldID              = "id"
	FieldDocumentID      = "document_id"
	FieldKnowledgebaseID = "knowledgebase_id"
	FieldText            = "text"
	FieldChunkIndex      = "chunk_index"
	FieldDocumentName    = "document_name"
	FieldFileType        = "file_type"
	FieldUploadDate      = "upload_date"
	FieldAuthor          = "author"
	FieldLanguage        = "language"
	FieldKeywords        = "keywords"
	FieldEmbedding       = "embedding"
)

// Metric is a similarity metric name as configured.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricIP     Metric = "ip"
)

// MilvusType maps the configured metric to the client metric type.
func (m Metric) MilvusType() (entity.MetricType, error) {
	switch m {
	case MetricCosine:
		return entity.COSINE, nil
	case MetricL2:
		return entity.L2, nil
	case MetricIP:
		return entity.IP, nil
	default:
		return "", errkind.Newf(errkind.InvalidArgument, "unknown metric %q", m)
	}
}

// MetricFromMilvus converts a client metric type back to the config name.
func MetricFromMilvus(mt entity.MetricType) Metric {
	switch mt {
	case entity.COSINE:
		return MetricCosine
	case entity.L2:
		return MetricL2
	case entity.IP:
		return MetricIP
	default:
		return Metric(string(mt))
	}
}

// Chunk is one stored unit of a document.
type Chunk struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	KnowledgebaseID string    `json:"knowledgebase_id"`
	Text            string    `json:"text"`
	ChunkIndex      int64     `json:"chunk_index"`
	DocumentName    string    `json:"document_name"`
	FileType        string    `json:"file_type"`
	UploadDate      int64     `json:"upload_date"`
	Author          string    `json:"author,omitempty"`
	Language        string    `json:"language,omitempty"`
	Keywords        string    `json:"keywords,omitempty"`
	Embedding       []float32 `json:"-"`
}

// SearchResult is a ranked hit. Score is normalized to [0,1], higher better.
type SearchResult struct {
	ID           string         `json:"id"`
	DocumentID   string         `json:"document_id"`
	Text         string         `json:"text"`
	Score        float64        `json:"score"`
	DocumentName string         `json:"document_name"`
	ChunkIndex   int64          `json:"chunk_index"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Health reports store connectivity and collection state.
type Health struct {
	Connected        bool   `json:"connected"`
	CollectionExists bool   `json:"collection_exists"`
	EntityCount      int64  `json:"entity_count"`
	Error            string `json:"error,omitempty"`
}
