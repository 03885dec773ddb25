// Package pgstore implements the vector store on Postgres with the pgvector
// extension, via bun.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/store"
)

// chunkRow is one persisted chunk. The reserved metadata keys are first-class
// columns so that grouping and ordering stay typed; anything else lands in
// the extra jsonb column.
type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         string            `bun:"id,pk"`
	DocumentID string            `bun:"document_id,notnull"`
	ChunkIndex int               `bun:"chunk_index,notnull"`
	Content    string            `bun:"content,notnull"`
	Words      int               `bun:"words,notnull"`
	Length     int               `bun:"length,notnull"`
	Filename   string            `bun:"filename,notnull,default:''"`
	Extra      map[string]string `bun:"extra,type:jsonb"`
	Embedding  string            `bun:"embedding"`
}

// Store is a Postgres/pgvector backed vector store.
type Store struct {
	db        *bun.DB
	dimension int
}

// Connect opens the database connection; the pgdriver connector expects a
// Supabase-style DSN plus password.
func Connect(dsn, password string) *sql.DB {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn+"?sslmode=disable"), pgdriver.WithPassword(password))
	return sql.OpenDB(connector)
}

// New wraps an open connection and ensures the chunks table exists with the
// configured vector dimension.
func New(ctx context.Context, sqldb *sql.DB, dimension int, debug bool) (*Store, error) {
	if dimension <= 0 {
		return nil, models.NewValidationError("vector dimension must be positive, got %d", dimension)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	// DDL cannot take the dimension as a bind parameter.
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
		id text PRIMARY KEY,
		document_id text NOT NULL,
		chunk_index integer NOT NULL,
		content text NOT NULL,
		words integer NOT NULL,
		length integer NOT NULL,
		filename text NOT NULL DEFAULT '',
		extra jsonb,
		embedding vector(%d) NOT NULL,
		uploaded_at timestamptz NOT NULL DEFAULT now()
	)`, dimension)
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, &models.StoreError{Op: "create extension", Err: err}
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, &models.StoreError{Op: "create table", Err: err}
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS chunks_document_id_idx ON chunks (document_id)"); err != nil {
		return nil, &models.StoreError{Op: "create index", Err: err}
	}

	return &Store{db: db, dimension: dimension}, nil
}

// Upsert replaces the document's chunk set in one transaction, so readers
// never observe a partially written document.
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

	rows := make([]chunkRow, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkRow{
			ID:         store.ChunkID(documentID, c.Index),
			DocumentID: documentID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Words:      c.Words,
			Length:     c.Length,
			Filename:   extra[models.MetaFilename],
			Extra:      extraWithoutFilename(extra),
			Embedding:  vectorLiteral(c.Embedding),
		}
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*chunkRow)(nil)).
			Where("document_id = ?", documentID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return 0, &models.StoreError{Op: "upsert", Err: err}
	}
	return len(chunks), nil
}

type searchRow struct {
	chunkRow
	Distance float32 `bun:"distance"`
}

// Search ranks chunks by the pgvector cosine distance operator.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, k int, filter store.Filter) ([]store.SearchResult, error) {
	if len(queryEmbedding) != s.dimension {
		return nil, &models.EmbeddingDimensionError{Want: s.dimension, Got: len(queryEmbedding)}
	}
	if k <= 0 {
		return nil, models.NewValidationError("k must be positive, got %d", k)
	}

	literal := vectorLiteral(queryEmbedding)
	q := s.db.NewSelect().Model((*chunkRow)(nil)).
		Column("id", "document_id", "chunk_index", "content", "words", "length", "filename", "extra").
		ColumnExpr("embedding <=> ? AS distance", literal).
		OrderExpr("embedding <=> ?, id", literal).
		Limit(k)

	switch f := filter.(type) {
	case nil:
	case store.Equals:
		col, err := filterColumn(f.Key)
		if err != nil {
			return nil, err
		}
		q = q.Where("? = ?", bun.Ident(col), f.Value)
	case store.In:
		col, err := filterColumn(f.Key)
		if err != nil {
			return nil, err
		}
		q = q.Where("? IN (?)", bun.Ident(col), bun.In(f.Values))
	default:
		return nil, models.NewValidationError("unsupported metadata filter %T", filter)
	}

	var rows []searchRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, &models.StoreError{Op: "search", Err: err}
	}

	out := make([]store.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = store.SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: rowMetadata(r.chunkRow),
			Distance: r.Distance,
		}
	}
	return out, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	res, err := s.db.NewDelete().Model((*chunkRow)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return 0, &models.StoreError{Op: "delete document", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &models.StoreError{Op: "delete document", Err: err}
	}
	return int(n), nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]store.DocumentSummary, error) {
	var summaries []store.DocumentSummary
	err := s.db.NewSelect().Model((*chunkRow)(nil)).
		ColumnExpr("document_id").
		ColumnExpr("min(filename) AS filename").
		ColumnExpr("count(*) AS chunk_count").
		ColumnExpr("sum(words) AS total_words").
		GroupExpr("document_id").
		OrderExpr("min(uploaded_at), document_id").
		Scan(ctx, &summaries)
	if err != nil {
		return nil, &models.StoreError{Op: "list documents", Err: err}
	}
	return summaries, nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) ([]store.StoredChunk, error) {
	var rows []chunkRow
	err := s.db.NewSelect().Model(&rows).
		Where("document_id = ?", documentID).
		OrderExpr("chunk_index").
		Scan(ctx)
	if err != nil {
		return nil, &models.StoreError{Op: "get document", Err: err}
	}
	if len(rows) == 0 {
		return nil, models.ErrDocumentNotFound
	}

	chunks := make([]store.StoredChunk, len(rows))
	for i, r := range rows {
		embedding, err := parseVector(r.Embedding)
		if err != nil {
			return nil, &models.StoreError{Op: "get document", Err: err}
		}
		chunks[i] = store.StoredChunk{
			ID:        r.ID,
			Content:   r.Content,
			Embedding: embedding,
			Metadata:  rowMetadata(r),
		}
	}
	return chunks, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	count, err := s.db.NewSelect().Model((*chunkRow)(nil)).Count(ctx)
	if err != nil {
		return store.Stats{}, &models.StoreError{Op: "stats", Err: err}
	}
	return store.Stats{TotalChunks: count}, nil
}

// filterColumn maps reserved metadata keys to their columns. Arbitrary keys
// are rejected rather than interpolated into SQL.
func filterColumn(key string) (string, error) {
	switch key {
	case models.MetaDocumentID, models.MetaChunkIndex, models.MetaFilename, models.MetaWords, models.MetaLength:
		return key, nil
	default:
		return "", models.NewValidationError("unsupported filter key %q", key)
	}
}

func rowMetadata(r chunkRow) map[string]string {
	metadata := map[string]string{
		models.MetaDocumentID: r.DocumentID,
		models.MetaChunkIndex: strconv.Itoa(r.ChunkIndex),
		models.MetaWords:      strconv.Itoa(r.Words),
		models.MetaLength:     strconv.Itoa(r.Length),
	}
	if r.Filename != "" {
		metadata[models.MetaFilename] = r.Filename
	}
	for k, v := range r.Extra {
		metadata[k] = v
	}
	return metadata
}

func extraWithoutFilename(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	out := map[string]string{}
	for k, v := range extra {
		if k == models.MetaFilename {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// vectorLiteral renders a pgvector input literal, e.g. [0.1,0.2,0.3].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", s)
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
