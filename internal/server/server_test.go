package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nheososweet/60days-rag/internal/chromemdb"
	"github.com/nheososweet/60days-rag/internal/config"
	"github.com/nheososweet/60days-rag/internal/llmservice"
	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/pipeline"
	"github.com/nheososweet/60days-rag/internal/rag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, chunks []string, batchSize int) ([]models.ChunkEmbedding, error) {
	out := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		out[i] = models.ChunkEmbedding{
			Index:     i,
			Content:   c,
			Embedding: []float32{1, 0, 0},
			Words:     len(strings.Fields(c)),
			Length:    len(c),
		}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int { return 3 }

type fakeLLM struct{}

func (fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return "Cats sleep a lot [Source 1].", nil
}

func (fakeLLM) Stream(ctx context.Context, prompt string, fn llmservice.StreamFunc) error {
	for _, c := range []string{"Cats ", "sleep."} {
		if err := fn(ctx, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	vs, err := chromemdb.New("", "documents", 3)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{Addr: ":0", UploadDir: t.TempDir()},
		RAG:    config.RAGConfig{ChunkSize: 50, ChunkOverlap: 5, BatchSize: 5, VectorSize: 3, TopK: 5},
	}
	engine := rag.NewEngine(vs, fakeEmbedder{}, fakeLLM{}, rag.Options{Model: "test-model", EmbeddingModel: "test-embed"})
	processor := pipeline.NewProcessor(vs, fakeEmbedder{}, &cfg.RAG)
	return New(cfg, engine, processor, vs)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func uploadText(t *testing.T, s *Server, filename, content string) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsEmptyStore(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/rag/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, "empty", resp.Status)
	assert.Zero(t, resp.TotalChunks)
}

func TestQueryAgainstEmptyStore(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/rag/query", queryRequest{Question: "anything"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no documents")
}

func TestQueryTopKOutOfRange(t *testing.T) {
	s := newTestServer(t)
	uploadText(t, s, "cats.txt", "cats sleep a lot during the day")

	w := doJSON(t, s, http.MethodPost, "/api/rag/query", queryRequest{Question: "q", TopK: 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "top_k")
}

func TestUploadQueryRoundTrip(t *testing.T) {
	s := newTestServer(t)
	resp := uploadText(t, s, "cats.txt", "cats sleep a lot during the day and hunt at night")
	documentID, _ := resp["document_id"].(string)
	require.NotEmpty(t, documentID)

	w := doJSON(t, s, http.MethodPost, "/api/rag/query", queryRequest{Question: "what do cats do"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out models.RAGResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Cats sleep a lot [Source 1].", out.Answer)
	require.NotEmpty(t, out.Sources)
	assert.Equal(t, 1, out.Sources[0].SourceNumber)
	assert.Equal(t, "test-model", out.Metadata.Model)

	// Stats flips to ready once a document is in.
	w = doJSON(t, s, http.MethodGet, "/api/rag/stats", nil)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.True(t, stats.Ready)
	assert.Equal(t, 1, stats.TotalDocuments)
}

func TestUploadUnsupportedExtension(t *testing.T) {
	s := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "image.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("binary"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)
	resp := uploadText(t, s, "cats.txt", "cats sleep a lot during the day")
	documentID := resp["document_id"].(string)

	w := doJSON(t, s, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	w = doJSON(t, s, http.MethodGet, "/api/documents/"+documentID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cats sleep")

	w = doJSON(t, s, http.MethodDelete, "/api/documents/"+documentID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chunks_deleted")

	w = doJSON(t, s, http.MethodGet, "/api/documents/"+documentID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryStreamSSEFraming(t *testing.T) {
	s := newTestServer(t)
	uploadText(t, s, "cats.txt", "cats sleep a lot during the day")

	w := doJSON(t, s, http.MethodPost, "/api/rag/query/stream", queryRequest{Question: "what do cats do"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	var events []rag.Event
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), "bad frame %q", line)
		var ev rag.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	assert.Equal(t, rag.EventSources, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, rag.EventDone, last.Type)
	assert.True(t, last.Done)
	require.NotNil(t, last.Metadata)
	assert.Equal(t, "test-model", last.Metadata.Model)

	var answer strings.Builder
	for _, ev := range events {
		if ev.Type == rag.EventAnswer {
			answer.WriteString(ev.Chunk)
		}
	}
	assert.Equal(t, "Cats sleep.", answer.String())
}
