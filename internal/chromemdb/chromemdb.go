// Package chromemdb implements the vector store on top of chromem-go, either
// in memory or persisted to disk.
package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/store"
)

const (
	compress        = false
	catalogFilename = "catalog.json"
)

// catalogEntry tracks per-document aggregates. chromem-go has no collection
// scan API, so the store keeps this catalog itself, persisted next to the
// chromem data.
type catalogEntry struct {
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	TotalWords int       `json:"total_word_count"`
	TextLength int       `json:"text_length"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Store is a chromem-go backed vector store. All mutations of the collection
// and the catalog happen under one lock, so a document's chunk set is never
// partially visible to concurrent readers.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	dbPath     string

	mu      sync.RWMutex
	catalog map[string]catalogEntry
}

// New opens (or creates) a store. An empty dbPath selects the in-memory
// database, used by tests and dry runs; otherwise the collection and the
// document catalog are persisted under dbPath.
func New(dbPath, collectionName string, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, models.NewValidationError("vector dimension must be positive, got %d", dimension)
	}

	var db *chromem.DB
	var err error
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, &models.StoreError{Op: "open", Err: err}
		}
	}

	collection, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, &models.StoreError{Op: "open collection", Err: err}
	}

	s := &Store{
		db:         db,
		collection: collection,
		dimension:  dimension,
		dbPath:     dbPath,
		catalog:    map[string]catalogEntry{},
	}
	if err := s.loadCatalog(); err != nil {
		return nil, err
	}
	return s, nil
}

// Upsert stores one document's chunks. Every vector is dimension-checked
// before anything is written, and chunks of a previous pass for the same
// document id are removed first so stale ids cannot survive a re-embedding
// with a different chunk count.
func (s *Store) Upsert(ctx context.Context, documentID string, chunks []models.ChunkEmbedding, extra map[string]string) (int, error) {
	if documentID == "" {
		return 0, models.NewValidationError("document id must not be empty")
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.dimension {
			return 0, &models.EmbeddingDimensionError{Want: s.dimension, Got: len(c.Embedding)}
		}
	}

	docs := make([]chromem.Document, 0, len(chunks))
	totalWords := 0
	textLength := 0
	for _, c := range chunks {
		metadata := map[string]string{
			models.MetaDocumentID: documentID,
			models.MetaChunkIndex: strconv.Itoa(c.Index),
			models.MetaWords:      strconv.Itoa(c.Words),
			models.MetaLength:     strconv.Itoa(c.Length),
		}
		for k, v := range extra {
			metadata[k] = v
		}
		docs = append(docs, chromem.Document{
			ID:        store.ChunkID(documentID, c.Index),
			Content:   c.Content,
			Metadata:  metadata,
			Embedding: c.Embedding,
		})
		totalWords += c.Words
		textLength += c.Length
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[documentID]; ok {
		if err := s.collection.Delete(ctx, map[string]string{models.MetaDocumentID: documentID}, nil); err != nil {
			return 0, &models.StoreError{Op: "delete stale chunks", Err: err}
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, &models.StoreError{Op: "add documents", Err: err}
	}

	s.catalog[documentID] = catalogEntry{
		Filename:   extra[models.MetaFilename],
		ChunkCount: len(chunks),
		TotalWords: totalWords,
		TextLength: textLength,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.saveCatalog(); err != nil {
		return 0, err
	}

	log.Debug().Str("document_id", documentID).Int("chunks", len(chunks)).Msg("stored document chunks")
	return len(chunks), nil
}

// Search returns up to k results ranked ascending by cosine distance. An
// empty store (or a filter no chunk satisfies) yields an empty result.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int, filter store.Filter) ([]store.SearchResult, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, &models.EmbeddingDimensionError{Want: s.dimension, Got: len(queryEmbedding)}
	}
	if k <= 0 {
		return nil, models.NewValidationError("k must be positive, got %d", k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.collection.Count()
	if total == 0 {
		return nil, nil
	}

	// Equality filters are pushed down to chromem; anything else is
	// applied to an over-fetched result set below.
	opts := chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       minInt(k, total),
	}
	postFilter := false
	switch f := filter.(type) {
	case nil:
	case store.Equals:
		opts.Where = map[string]string{f.Key: f.Value}
	default:
		opts.NResults = total
		postFilter = true
	}

	results, err := s.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, &models.StoreError{Op: "query", Err: err}
	}

	out := make([]store.SearchResult, 0, minInt(k, len(results)))
	for _, r := range results {
		if postFilter && !filter.Match(r.Metadata) {
			continue
		}
		out = append(out, store.SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Distance: 1 - r.Similarity,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// DeleteByDocument removes all chunks of a document. Unknown document ids
// report zero deleted, not an error.
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.catalog[documentID]
	if !ok {
		return 0, nil
	}

	if err := s.collection.Delete(ctx, map[string]string{models.MetaDocumentID: documentID}, nil); err != nil {
		return 0, &models.StoreError{Op: "delete document", Err: err}
	}

	delete(s.catalog, documentID)
	if err := s.saveCatalog(); err != nil {
		return 0, err
	}

	log.Debug().Str("document_id", documentID).Int("chunks", entry.ChunkCount).Msg("deleted document chunks")
	return entry.ChunkCount, nil
}

// ListDocuments aggregates the stored documents, ordered by upload time and
// id for a stable listing.
func (s *Store) ListDocuments(ctx context.Context) ([]store.DocumentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		summary    store.DocumentSummary
		uploadedAt time.Time
	}
	rows := make([]row, 0, len(s.catalog))
	for id, entry := range s.catalog {
		rows = append(rows, row{
			summary: store.DocumentSummary{
				DocumentID: id,
				Filename:   entry.Filename,
				ChunkCount: entry.ChunkCount,
				TotalWords: entry.TotalWords,
			},
			uploadedAt: entry.UploadedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].uploadedAt.Equal(rows[j].uploadedAt) {
			return rows[i].uploadedAt.Before(rows[j].uploadedAt)
		}
		return rows[i].summary.DocumentID < rows[j].summary.DocumentID
	})

	out := make([]store.DocumentSummary, len(rows))
	for i, r := range rows {
		out[i] = r.summary
	}
	return out, nil
}

// GetDocument returns the document's chunks sorted by chunk index. Chunk ids
// are deterministic, so the chunks are fetched by id without a scan.
func (s *Store) GetDocument(ctx context.Context, documentID string) ([]store.StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.catalog[documentID]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}

	chunks := make([]store.StoredChunk, 0, entry.ChunkCount)
	for i := 0; i < entry.ChunkCount; i++ {
		doc, err := s.collection.GetByID(ctx, store.ChunkID(documentID, i))
		if err != nil {
			return nil, &models.StoreError{Op: "get chunk", Err: err}
		}
		chunks = append(chunks, store.StoredChunk{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		})
	}
	return chunks, nil
}

// Stats reports the total number of stored chunks.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Stats{TotalChunks: s.collection.Count()}, nil
}

func (s *Store) catalogPath() string {
	return filepath.Join(s.dbPath, catalogFilename)
}

func (s *Store) loadCatalog() error {
	if s.dbPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.catalogPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &models.StoreError{Op: "load catalog", Err: err}
	}
	if err := json.Unmarshal(data, &s.catalog); err != nil {
		return &models.StoreError{Op: "load catalog", Err: err}
	}
	return nil
}

// saveCatalog writes the catalog atomically so a crash mid-write cannot
// leave a corrupt file behind.
func (s *Store) saveCatalog() error {
	if s.dbPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.catalog, "", "  ")
	if err != nil {
		return &models.StoreError{Op: "save catalog", Err: err}
	}
	tmp := s.catalogPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.StoreError{Op: "save catalog", Err: err}
	}
	if err := os.Rename(tmp, s.catalogPath()); err != nil {
		return &models.StoreError{Op: "save catalog", Err: fmt.Errorf("rename %s: %w", tmp, err)}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
