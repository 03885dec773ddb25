// Package server exposes the HTTP API: document upload and management, RAG
// queries (synchronous and streamed) and system stats.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nheososweet/60days-rag/internal/config"
	"github.com/nheososweet/60days-rag/internal/models"
	"github.com/nheososweet/60days-rag/internal/pipeline"
	"github.com/nheososweet/60days-rag/internal/rag"
	"github.com/nheososweet/60days-rag/internal/store"
)

type Server struct {
	engine    *rag.Engine
	processor *pipeline.Processor
	store     store.VectorStore
	cfg       *config.Config
	router    *gin.Engine
}

func New(cfg *config.Config, engine *rag.Engine, processor *pipeline.Processor, vs store.VectorStore) *Server {
	s := &Server{
		engine:    engine,
		processor: processor,
		store:     vs,
		cfg:       cfg,
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the handler tree, mainly for httptest.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/documents/upload", s.handleUpload)
		api.GET("/documents", s.handleListDocuments)
		api.GET("/documents/:id", s.handleGetDocument)
		api.DELETE("/documents/:id", s.handleDeleteDocument)

		api.POST("/rag/query", s.handleQuery)
		api.POST("/rag/query/stream", s.handleQueryStream)
		api.GET("/rag/stats", s.handleStats)
	}
	return r
}

func (s *Server) Run() error {
	log.Info().Str("addr", s.cfg.Server.Addr).Msg("http server listening")
	return s.router.Run(s.cfg.Server.Addr)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}

type queryRequest struct {
	Question       string `json:"question"`
	TopK           int    `json:"top_k"`
	DocumentID     string `json:"document_id"`
	IncludeContext bool   `json:"include_context"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, models.NewValidationError("invalid request body: %v", err))
		return
	}

	resp, err := s.engine.Query(c.Request.Context(), req.Question, rag.QueryOptions{
		TopK:           req.TopK,
		DocumentID:     req.DocumentID,
		IncludeContext: req.IncludeContext,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleQueryStream answers over SSE: one sources frame, answer deltas, an
// optional thinking frame, then a terminal done or error frame.
func (s *Server) handleQueryStream(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, models.NewValidationError("invalid request body: %v", err))
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	events := s.engine.QueryStream(c.Request.Context(), req.Question, rag.QueryOptions{
		TopK:       req.TopK,
		DocumentID: req.DocumentID,
	})
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("marshaling stream event")
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}
}

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		s.writeError(c, models.NewValidationError("missing file field: %v", err))
		return
	}

	if err := os.MkdirAll(s.cfg.Server.UploadDir, 0o755); err != nil {
		s.writeError(c, err)
		return
	}
	dst := filepath.Join(s.cfg.Server.UploadDir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		s.writeError(c, err)
		return
	}

	result, err := s.processor.IngestFile(c.Request.Context(), dst)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.store.ListDocuments(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if docs == nil {
		docs = []store.DocumentSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

type documentChunk struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleGetDocument(c *gin.Context) {
	documentID := c.Param("id")
	chunks, err := s.store.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]documentChunk, len(chunks))
	for i, ch := range chunks {
		out[i] = documentChunk{ID: ch.ID, Content: ch.Content, Metadata: ch.Metadata}
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": documentID,
		"chunks":      out,
		"chunk_count": len(out),
	})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	documentID := c.Param("id")
	deleted, err := s.store.DeleteByDocument(c.Request.Context(), documentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id":    documentID,
		"chunks_deleted": deleted,
	})
}

type statsResponse struct {
	Ready          bool   `json:"ready"`
	TotalDocuments int    `json:"total_documents"`
	TotalChunks    int    `json:"total_chunks"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := statsResponse{
		Ready:          stats.TotalChunks > 0,
		TotalDocuments: len(docs),
		TotalChunks:    stats.TotalChunks,
	}
	if resp.Ready {
		resp.Status = "ready"
		resp.Message = "system ready to answer questions"
	} else {
		resp.Status = "empty"
		resp.Message = "no documents uploaded yet"
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps domain errors onto HTTP statuses. Client faults keep their
// message; server faults only expose detail in debug mode.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		valErr     *models.ValidationError
		dimErr     *models.EmbeddingDimensionError
		timeoutErr *models.ProviderTimeoutError
		provErr    *models.ProviderError
		storeErr   *models.StoreError
	)

	status := http.StatusInternalServerError
	message := err.Error()
	switch {
	case errors.As(err, &valErr), errors.As(err, &dimErr):
		status = http.StatusBadRequest
	case models.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &timeoutErr):
		status = http.StatusGatewayTimeout
	case errors.As(err, &provErr):
		status = http.StatusBadGateway
	case errors.As(err, &storeErr):
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError && !s.cfg.Server.Debug {
		log.Error().Err(err).Int("status", status).Msg("request failed")
		message = "internal server error"
	}
	c.JSON(status, gin.H{"error": message})
}
