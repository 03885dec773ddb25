package models

import "regexp"

// ThinkTag matches a complete reasoning block, for stripping it from
// non-streamed answers.
var ThinkTag = regexp.MustCompile(`(?s)<think>.*?</think>`)

const (
	// ContextSeparator joins the numbered source blocks in the prompt
	// context. The prompt template and answer citations depend on it, do
	// not change one without the other.
	ContextSeparator = "\n\n---\n\n"

	// ThinkStartTag and ThinkEndTag delimit the reasoning sub-channel in
	// provider output for models that emit one.
	ThinkStartTag = "<think>"
	ThinkEndTag   = "</think>"

	// Reserved metadata keys. Retrieval grouping and chunk ordering depend
	// on these being present on every stored chunk.
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaFilename   = "filename"
	MetaWords      = "words"
	MetaLength     = "length"

	DefaultChunkSize    = 500 // words
	DefaultChunkOverlap = 50  // words
	DefaultBatchSize    = 5
	DefaultVectorSize   = 768
	DefaultTopK         = 5
	MinTopK             = 1
	MaxTopK             = 20

	TextPreviewLen = 200
)

var (
	RAGPromptTemplate = `You are a helpful AI assistant. Answer the question based ONLY on the context provided below.

CONTEXT FROM DOCUMENTS:
%s

QUESTION: %s

INSTRUCTIONS:
- Answer in the same language as the question
- Base your answer ONLY on the information in the context above
- If the context doesn't contain relevant information, say "I don't have enough information to answer this question based on the provided documents."
- Be specific and cite which source ([Source 1], [Source 2], etc.) supports your answer
- Use clear and concise language
- If multiple sources say the same thing, mention that for credibility

ANSWER:`
)
