// Package store defines the vector store contract shared by the chromem and
// pgvector backends.
package store

import (
	"context"
	"fmt"

	"github.com/nheososweet/60days-rag/internal/models"
)

// StoredChunk is one chunk as persisted: id, vector, raw text and the
// metadata map with the reserved document_id/chunk_index keys.
type StoredChunk struct {
	ID        string            `json:"chunk_id"`
	Content   string            `json:"text"`
	Embedding []float32         `json:"-"`
	Metadata  map[string]string `json:"metadata"`
}

// SearchResult pairs a chunk with the cosine distance to one query vector.
// Lower distance means more similar. Not persisted.
type SearchResult struct {
	ID       string            `json:"chunk_id"`
	Content  string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Distance float32           `json:"distance"`
}

// DocumentSummary is one row of the aggregate document listing, grouped by
// document id from the underlying chunk metadata.
type DocumentSummary struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunk_count"`
	TotalWords int    `json:"total_word_count"`
}

// Stats reports aggregate store state.
type Stats struct {
	TotalChunks int `json:"total_chunks"`
}

// VectorStore persists chunk vectors with text and metadata and serves
// nearest-neighbor search over them. Write operations are idempotent per
// call; search on an empty store returns an empty result, not an error.
type VectorStore interface {
	// Upsert stores the chunks of one document. Chunk ids follow the
	// ChunkID scheme; ids already present are overwritten. The vector
	// dimension of every chunk is checked before anything is written.
	Upsert(ctx context.Context, documentID string, chunks []models.ChunkEmbedding, extra map[string]string) (int, error)

	// Search returns up to k results ranked ascending by cosine distance.
	Search(ctx context.Context, queryEmbedding []float32, k int, filter Filter) ([]SearchResult, error)

	// DeleteByDocument removes all chunks of the document and returns how
	// many were removed. An unknown document id yields 0, not an error.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// ListDocuments aggregates the stored chunks per document.
	ListDocuments(ctx context.Context) ([]DocumentSummary, error)

	// GetDocument returns the document's chunks sorted by chunk index, or
	// models.ErrDocumentNotFound if the id is unknown.
	GetDocument(ctx context.Context, documentID string) ([]StoredChunk, error)

	Stats(ctx context.Context) (Stats, error)
}

// ChunkID builds the store-wide unique chunk id for a document and a
// zero-based chunk index.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s::chunk_%d", documentID, index)
}

// Filter restricts search results by chunk metadata. The closed predicate
// set keeps provider-specific query DSLs out of the core.
type Filter interface {
	// Match reports whether a chunk's metadata satisfies the predicate.
	Match(metadata map[string]string) bool
}

// Equals matches chunks whose metadata key equals the given value.
type Equals struct {
	Key   string
	Value string
}

func (f Equals) Match(metadata map[string]string) bool {
	return metadata[f.Key] == f.Value
}

// In matches chunks whose metadata key equals any of the given values.
type In struct {
	Key    string
	Values []string
}

func (f In) Match(metadata map[string]string) bool {
	v, ok := metadata[f.Key]
	if !ok {
		return false
	}
	for _, want := range f.Values {
		if v == want {
			return true
		}
	}
	return false
}

// ByDocument is the common case of filtering to a single document.
func ByDocument(documentID string) Filter {
	return Equals{Key: models.MetaDocumentID, Value: documentID}
}
