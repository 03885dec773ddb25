// Package rag ties retrieval and generation together: it turns a question
// into a ranked context, prompts the chat model and returns (or streams) a
// grounded answer with its sources.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nheososweet/60days-rag/internal/embedding"
	"github.com/nheososweet/60days-rag/internal/helper"
	"github.com/nheososweet/60days-rag/internal/llmservice"
	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/store"
)

// Options carries what the engine needs beyond its collaborators.
type Options struct {
	Model          string
	EmbeddingModel string
	DefaultTopK    int
}

// Engine answers questions against the vector store. All collaborators are
// injected, so tests run it against fakes.
type Engine struct {
	store    store.VectorStore
	embedder embedding.Embedder
	llm      llmservice.Client
	opts     Options
}

func NewEngine(vs store.VectorStore, emb embedding.Embedder, llm llmservice.Client, opts Options) *Engine {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = models.DefaultTopK
	}
	return &Engine{store: vs, embedder: emb, llm: llm, opts: opts}
}

// QueryOptions narrows a single query. A zero TopK uses the engine default;
// a non-empty DocumentID restricts retrieval to that document.
type QueryOptions struct {
	TopK           int
	DocumentID     string
	IncludeContext bool
}

func (e *Engine) resolveTopK(k int) (int, error) {
	if k == 0 {
		return e.opts.DefaultTopK, nil
	}
	if k < models.MinTopK || k > models.MaxTopK {
		return 0, models.NewValidationError("top_k must be between %d and %d, got %d", models.MinTopK, models.MaxTopK, k)
	}
	return k, nil
}

func documentFilter(documentID string) store.Filter {
	if documentID == "" {
		return nil
	}
	return store.ByDocument(documentID)
}

// Retrieve embeds the question and returns the k closest chunks as numbered
// sources, plus the store stats the retrieval ran against.
func (e *Engine) Retrieve(ctx context.Context, question string, k int, filter store.Filter) ([]models.Source, store.Stats, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, store.Stats{}, models.NewValidationError("question must not be empty")
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, store.Stats{}, err
	}
	if stats.TotalChunks == 0 {
		return nil, stats, models.ErrNoDocuments
	}

	vector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, stats, err
	}

	results, err := e.store.Search(ctx, vector, k, filter)
	if err != nil {
		return nil, stats, err
	}
	if len(results) == 0 {
		return nil, stats, models.ErrNoRelevantResults
	}

	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			ChunkID:      r.ID,
			Text:         r.Content,
			TextPreview:  preview(r.Content),
			Distance:     r.Distance,
			Similarity:   1 - r.Distance,
			Metadata:     r.Metadata,
			SourceNumber: i + 1,
		}
	}
	return sources, stats, nil
}

// BuildContext renders the numbered source blocks the prompt cites.
func BuildContext(sources []models.Source) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		filename := s.Metadata[models.MetaFilename]
		if filename == "" {
			filename = "unknown"
		}
		blocks[i] = fmt.Sprintf("[Source %d] From: %s (Chunk %s)\n%s",
			s.SourceNumber, filename, s.Metadata[models.MetaChunkIndex], s.Text)
	}
	return strings.Join(blocks, models.ContextSeparator)
}

// Query runs the full pipeline synchronously and returns the complete answer.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) (*models.RAGResponse, error) {
	start := time.Now()

	k, err := e.resolveTopK(opts.TopK)
	if err != nil {
		return nil, err
	}
	sources, stats, err := e.Retrieve(ctx, question, k, documentFilter(opts.DocumentID))
	if err != nil {
		return nil, err
	}

	contextText := BuildContext(sources)
	prompt := fmt.Sprintf(models.RAGPromptTemplate, contextText, strings.TrimSpace(question))

	answer, err := e.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(models.ThinkTag.ReplaceAllString(answer, ""))

	resp := &models.RAGResponse{
		Question: strings.TrimSpace(question),
		Answer:   answer,
		Sources:  sources,
		Metadata: *e.metadata(stats, sources, len(contextText), len(answer), start),
	}
	if opts.IncludeContext {
		resp.ContextUsed = &contextText
	}
	return resp, nil
}

// Event is one frame of a streamed answer. The stream is: one sources event,
// zero or more answer events interleaved with at most one thinking event,
// then exactly one terminal done or error event.
type Event struct {
	Type           string                `json:"type"`
	Chunks         []models.Source       `json:"chunks,omitempty"`
	Count          int                   `json:"count,omitempty"`
	Chunk          string                `json:"chunk,omitempty"`
	Thinking       string                `json:"thinking,omitempty"`
	Metadata       *models.QueryMetadata `json:"metadata,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Error          string                `json:"error,omitempty"`
	Done           bool                  `json:"done"`
}

const (
	EventSources  = "sources"
	EventAnswer   = "answer"
	EventThinking = "thinking"
	EventDone     = "done"
	EventError    = "error"
)

// QueryStream runs the pipeline and emits events on the returned channel.
// The channel is closed after the terminal event. Cancelling ctx stops the
// provider stream and closes the channel without a terminal event, since
// nobody is left to read one.
func (e *Engine) QueryStream(ctx context.Context, question string, opts QueryOptions) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		start := time.Now()

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			log.Warn().Err(err).Msg("streamed query failed")
			send(Event{Type: EventError, Error: err.Error(), Done: true})
		}

		k, err := e.resolveTopK(opts.TopK)
		if err != nil {
			fail(err)
			return
		}
		sources, stats, err := e.Retrieve(ctx, question, k, documentFilter(opts.DocumentID))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fail(err)
			return
		}
		if !send(Event{Type: EventSources, Chunks: sources, Count: len(sources)}) {
			return
		}

		contextText := BuildContext(sources)
		prompt := fmt.Sprintf(models.RAGPromptTemplate, contextText, strings.TrimSpace(question))

		answerLength := 0
		parser := llmservice.NewThinkingParser(
			func(text string) error {
				answerLength += len(text)
				if !send(Event{Type: EventAnswer, Chunk: text}) {
					return ctx.Err()
				}
				return nil
			},
			func(text string) error {
				if !send(Event{Type: EventThinking, Thinking: text}) {
					return ctx.Err()
				}
				return nil
			},
		)

		err = e.llm.Stream(ctx, prompt, func(ctx context.Context, chunk []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return parser.Write(string(chunk))
		})
		if err == nil {
			err = parser.Flush()
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fail(err)
			return
		}

		send(Event{
			Type:           EventDone,
			Done:           true,
			Metadata:       e.metadata(stats, sources, len(contextText), answerLength, start),
			ConversationID: helper.NewConversationID(),
		})
	}()
	return events
}

func (e *Engine) metadata(stats store.Stats, sources []models.Source, contextLength, answerLength int, start time.Time) *models.QueryMetadata {
	return &models.QueryMetadata{
		ChunksUsed:           len(sources),
		TotalChunksAvailable: stats.TotalChunks,
		ContextLength:        contextLength,
		AnswerLength:         answerLength,
		ProcessingSeconds:    time.Since(start).Seconds(),
		Model:                e.opts.Model,
		EmbeddingModel:       e.opts.EmbeddingModel,
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= models.TextPreviewLen {
		return text
	}
	return string(runes[:models.TextPreviewLen]) + "..."
}
