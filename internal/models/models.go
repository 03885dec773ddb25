package models

// ChunkEmbedding pairs a chunk of text with its embedding vector and
// per-chunk stats, in document order.
type ChunkEmbedding struct {
	Index     int
	Content   string
	Embedding []float32
	Words     int
	Length    int
}

// Source is one retrieved chunk as cited in an answer. SourceNumber is
// 1-based and follows search rank order, so "[Source 2]" in the generated
// answer always maps back to Sources[1].
type Source struct {
	ChunkID      string            `json:"chunk_id"`
	Text         string            `json:"text"`
	TextPreview  string            `json:"text_preview"`
	Distance     float32           `json:"distance"`
	Similarity   float32           `json:"similarity"`
	Metadata     map[string]string `json:"metadata"`
	SourceNumber int               `json:"source_number"`
}

// RAGResponse is the synchronous query result.
type RAGResponse struct {
	Question    string        `json:"question"`
	Answer      string        `json:"answer"`
	Sources     []Source      `json:"sources"`
	ContextUsed *string       `json:"context_used,omitempty"`
	Metadata    QueryMetadata `json:"metadata"`
}

// QueryMetadata carries the stats reported with a completed query.
type QueryMetadata struct {
	ChunksUsed           int     `json:"chunks_used"`
	TotalChunksAvailable int     `json:"total_chunks_available"`
	ContextLength        int     `json:"context_length"`
	AnswerLength         int     `json:"answer_length"`
	ProcessingSeconds    float64 `json:"processing_time_seconds"`
	Model                string  `json:"model"`
	EmbeddingModel       string  `json:"embedding_model"`
}

// IngestResult reports what the ingestion pipeline stored for one document.
type IngestResult struct {
	DocumentID    string `json:"document_id"`
	Filename      string `json:"filename"`
	ChunksCreated int    `json:"chunks_created"`
	TotalWords    int    `json:"total_words"`
	TextLength    int    `json:"text_length"`
}
