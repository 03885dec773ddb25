package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nheososweet/60days-rag/internal/llmservice"
	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/store"
)

type fakeStore struct {
	stats     store.Stats
	results   []store.SearchResult
	searchErr error

	gotK      int
	gotFilter store.Filter
}

func (f *fakeStore) Upsert(ctx context.Context, documentID string, chunks []models.ChunkEmbedding, extra map[string]string) (int, error) {
	return len(chunks), nil
}

func (f *fakeStore) Search(ctx context.Context, queryEmbedding []float32, k int, filter store.Filter) ([]store.SearchResult, error) {
	f.gotK = k
	f.gotFilter = filter
	return f.results, f.searchErr
}

func (f *fakeStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	return 0, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]store.DocumentSummary, error) {
	return nil, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) ([]store.StoredChunk, error) {
	return nil, models.ErrDocumentNotFound
}

func (f *fakeStore) Stats(ctx context.Context) (store.Stats, error) {
	return f.stats, nil
}

type fakeEmbedder struct {
	called bool
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.called = true
	return []float32{1, 0, 0}, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, chunks []string, batchSize int) ([]models.ChunkEmbedding, error) {
	return nil, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

type fakeLLM struct {
	answer    string
	chunks    []string
	streamErr error
	block     bool

	prompt string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, nil
}

func (f *fakeLLM) Stream(ctx context.Context, prompt string, fn llmservice.StreamFunc) error {
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, c := range f.chunks {
		if err := fn(ctx, []byte(c)); err != nil {
			return err
		}
	}
	return f.streamErr
}

func searchResults() []store.SearchResult {
	return []store.SearchResult{
		{
			ID:      "doc-a::chunk_0",
			Content: "Cats sleep a lot.",
			Metadata: map[string]string{
				models.MetaDocumentID: "doc-a",
				models.MetaChunkIndex: "0",
				models.MetaFilename:   "cats.pdf",
			},
			Distance: 0.1,
		},
		{
			ID:      "doc-b::chunk_3",
			Content: "Dogs bark.",
			Metadata: map[string]string{
				models.MetaDocumentID: "doc-b",
				models.MetaChunkIndex: "3",
				models.MetaFilename:   "dogs.txt",
			},
			Distance: 0.4,
		},
	}
}

func newTestEngine(s *fakeStore, llm *fakeLLM) (*Engine, *fakeEmbedder) {
	emb := &fakeEmbedder{}
	return NewEngine(s, emb, llm, Options{Model: "qwen3", EmbeddingModel: "nomic-embed-text"}), emb
}

func TestRetrieveNoDocuments(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 0}}
	e, emb := newTestEngine(s, &fakeLLM{})

	_, _, err := e.Retrieve(context.Background(), "anything", 5, nil)
	assert.ErrorIs(t, err, models.ErrNoDocuments)
	// The empty-store check runs before any provider call.
	assert.False(t, emb.called)
}

func TestRetrieveNoRelevantResults(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}}
	e, _ := newTestEngine(s, &fakeLLM{})

	_, _, err := e.Retrieve(context.Background(), "anything", 5, nil)
	assert.ErrorIs(t, err, models.ErrNoRelevantResults)
}

func TestRetrieveEmptyQuestion(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	e, _ := newTestEngine(s, &fakeLLM{})

	_, _, err := e.Retrieve(context.Background(), "   ", 5, nil)
	assert.True(t, models.IsValidation(err))
}

func TestRetrieveNumbersSources(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	e, _ := newTestEngine(s, &fakeLLM{})

	sources, stats, err := e.Retrieve(context.Background(), "what do cats do", 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalChunks)
	require.Len(t, sources, 2)
	assert.Equal(t, 1, sources[0].SourceNumber)
	assert.Equal(t, 2, sources[1].SourceNumber)
	assert.InDelta(t, 0.9, sources[0].Similarity, 1e-6)
	assert.Equal(t, "Cats sleep a lot.", sources[0].TextPreview)
}

func TestBuildContextFormat(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	e, _ := newTestEngine(s, &fakeLLM{})

	sources, _, err := e.Retrieve(context.Background(), "q", 2, nil)
	require.NoError(t, err)

	got := BuildContext(sources)
	want := "[Source 1] From: cats.pdf (Chunk 0)\nCats sleep a lot." +
		models.ContextSeparator +
		"[Source 2] From: dogs.txt (Chunk 3)\nDogs bark."
	assert.Equal(t, want, got)
}

func TestQueryStripsThinking(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	llm := &fakeLLM{answer: "<think>internal deliberation</think>Cats sleep [Source 1]."}
	e, _ := newTestEngine(s, llm)

	resp, err := e.Query(context.Background(), "what do cats do", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Cats sleep [Source 1].", resp.Answer)
	assert.Len(t, resp.Sources, 2)
	assert.Nil(t, resp.ContextUsed)
	assert.Equal(t, 2, resp.Metadata.ChunksUsed)
	assert.Equal(t, 10, resp.Metadata.TotalChunksAvailable)
	assert.Equal(t, "qwen3", resp.Metadata.Model)

	// The prompt carries the numbered context and the question.
	assert.Contains(t, llm.prompt, "[Source 1] From: cats.pdf")
	assert.Contains(t, llm.prompt, "what do cats do")
}

func TestQueryIncludeContext(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	e, _ := newTestEngine(s, &fakeLLM{answer: "ok"})

	resp, err := e.Query(context.Background(), "q", QueryOptions{IncludeContext: true})
	require.NoError(t, err)
	require.NotNil(t, resp.ContextUsed)
	assert.Contains(t, *resp.ContextUsed, "[Source 1]")
}

func TestQueryTopKValidation(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	e, _ := newTestEngine(s, &fakeLLM{answer: "ok"})

	_, err := e.Query(context.Background(), "q", QueryOptions{TopK: 21})
	assert.True(t, models.IsValidation(err))

	_, err = e.Query(context.Background(), "q", QueryOptions{TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, s.gotK)

	// Zero falls back to the default.
	_, err = e.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTopK, s.gotK)
}

func TestQueryDocumentFilter(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	e, _ := newTestEngine(s, &fakeLLM{answer: "ok"})

	_, err := e.Query(context.Background(), "q", QueryOptions{DocumentID: "doc-a"})
	require.NoError(t, err)
	require.NotNil(t, s.gotFilter)
	assert.True(t, s.gotFilter.Match(map[string]string{models.MetaDocumentID: "doc-a"}))
	assert.False(t, s.gotFilter.Match(map[string]string{models.MetaDocumentID: "doc-b"}))
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestQueryStreamEventOrder(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	llm := &fakeLLM{chunks: []string{"<think>let me see", "</think>", "Cats ", "sleep."}}
	e, _ := newTestEngine(s, llm)

	events := collectEvents(t, e.QueryStream(context.Background(), "what do cats do", QueryOptions{}))
	require.NotEmpty(t, events)

	assert.Equal(t, EventSources, events[0].Type)
	assert.Equal(t, 2, events[0].Count)
	require.Len(t, events[0].Chunks, 2)

	var answer strings.Builder
	thinking := 0
	for _, ev := range events[1 : len(events)-1] {
		switch ev.Type {
		case EventAnswer:
			answer.WriteString(ev.Chunk)
		case EventThinking:
			thinking++
			assert.Equal(t, "let me see", ev.Thinking)
		default:
			t.Fatalf("unexpected mid-stream event %q", ev.Type)
		}
	}
	assert.Equal(t, "Cats sleep.", answer.String())
	assert.Equal(t, 1, thinking)

	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.True(t, last.Done)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, len("Cats sleep."), last.Metadata.AnswerLength)
	assert.True(t, strings.HasPrefix(last.ConversationID, "conv_"))
}

func TestQueryStreamErrorIsTerminal(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	llm := &fakeLLM{chunks: []string{"partial "}, streamErr: errors.New("provider exploded")}
	e, _ := newTestEngine(s, llm)

	events := collectEvents(t, e.QueryStream(context.Background(), "q", QueryOptions{}))
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.True(t, last.Done)
	assert.NotEmpty(t, last.Error)
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, EventDone, ev.Type)
		assert.NotEqual(t, EventError, ev.Type)
	}
}

func TestQueryStreamNoDocumentsError(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 0}}
	e, _ := newTestEngine(s, &fakeLLM{})

	events := collectEvents(t, e.QueryStream(context.Background(), "q", QueryOptions{}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "no documents")
}

func TestQueryStreamCancellation(t *testing.T) {
	s := &fakeStore{stats: store.Stats{TotalChunks: 10}, results: searchResults()}
	llm := &fakeLLM{block: true}
	e, _ := newTestEngine(s, llm)

	ctx, cancel := context.WithCancel(context.Background())
	events := e.QueryStream(ctx, "q", QueryOptions{})

	// Drain the sources event, then hang up.
	select {
	case ev := <-events:
		assert.Equal(t, EventSources, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no sources event")
	}
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should close without a terminal event")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not shut down after cancellation")
	}
}
