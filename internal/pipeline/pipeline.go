// Package pipeline is the ingestion path: parse a document, chunk it, embed
// the chunks and store them.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nheososweet/60days-rag/internal/chunker"
	"github.com/nheososweet/60days-rag/internal/config"
	"github.com/nheososweet/60days-rag/internal/embedding"
	"github.com/nheososweet/60days-rag/internal/helper"
	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/parser"
	"github.com/nheososweet/60days-rag/internal/store"
)

// Processor runs the ingestion pipeline against its injected collaborators.
type Processor struct {
	store    store.VectorStore
	embedder embedding.Embedder

	chunkSize    int
	chunkOverlap int
	batchSize    int
}

func NewProcessor(vs store.VectorStore, emb embedding.Embedder, ragConfig *config.RAGConfig) *Processor {
	return &Processor{
		store:        vs,
		embedder:     emb,
		chunkSize:    ragConfig.ChunkSize,
		chunkOverlap: ragConfig.ChunkOverlap,
		batchSize:    ragConfig.BatchSize,
	}
}

// IngestFile parses the file at path and ingests its text under a fresh
// document id.
func (p *Processor) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	text, err := parser.ExtractText(path)
	if err != nil {
		return nil, err
	}
	return p.IngestText(ctx, helper.NewDocumentID(), filepath.Base(path), text)
}

// IngestText chunks, embeds and stores one document's text. Re-ingesting an
// existing document id replaces its chunks.
func (p *Processor) IngestText(ctx context.Context, documentID, filename, text string) (*models.IngestResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewValidationError("document %q contains no extractable text", filename)
	}

	chunks, err := chunker.Split(text, p.chunkSize, p.chunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, models.NewValidationError("document %q contains no extractable text", filename)
	}

	embedded, err := p.embedder.EmbedBatch(ctx, chunks, p.batchSize)
	if err != nil {
		return nil, err
	}
	if len(embedded) == 0 {
		return nil, &models.ProviderError{Op: "embed document", Err: errors.New("no chunks could be embedded")}
	}
	if len(embedded) < len(chunks) {
		log.Warn().
			Str("document_id", documentID).
			Int("requested", len(chunks)).
			Int("embedded", len(embedded)).
			Msg("some chunks failed to embed and were skipped")
	}

	stored, err := p.store.Upsert(ctx, documentID, embedded, map[string]string{
		models.MetaFilename: filename,
	})
	if err != nil {
		return nil, err
	}

	totalWords := 0
	for _, c := range embedded {
		totalWords += c.Words
	}

	log.Info().
		Str("document_id", documentID).
		Str("filename", filename).
		Int("chunks", stored).
		Msg("document ingested")

	return &models.IngestResult{
		DocumentID:    documentID,
		Filename:      filename,
		ChunksCreated: stored,
		TotalWords:    totalWords,
		TextLength:    len(text),
	}, nil
}
