// Package embedding converts text into fixed-length dense vectors via an
// external embedding provider.
package embedding

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/nheososweet/60days-rag/internal/chunker"
	"github.com/nheososweet/60days-rag/internal/config"
	"github.com/nheososweet/60days-rag/internal/models"
)

// Client is the provider call the service depends on. Satisfied by
// langchaingo's *embeddings.EmbedderImpl and by test fakes.
type Client interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Embedder is what the ingestion and retrieval paths consume.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, chunks []string, batchSize int) ([]models.ChunkEmbedding, error)
	Dimension() int
}

// Service wraps a provider client with dimension verification, bounded
// per-call timeouts and inter-batch pacing.
type Service struct {
	client    Client
	dimension int
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewService builds the embedding service. batchesPerMinute bounds how fast
// EmbedBatch sends batches to the provider; zero disables pacing.
func NewService(client Client, dimension int, timeout time.Duration, batchesPerMinute float64) *Service {
	var limiter *rate.Limiter
	if batchesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(batchesPerMinute/60), 1)
	}
	return &Service{
		client:    client,
		dimension: dimension,
		timeout:   timeout,
		limiter:   limiter,
	}
}

// NewOllamaEmbedder creates a langchaingo embedder against an Ollama server.
func NewOllamaEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// NewOpenAIEmbedder creates a langchaingo embedder against an
// OpenAI-compatible endpoint such as OpenRouter.
func NewOpenAIEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
		openai.WithEmbeddingModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// NewFromConfig builds the full service for the configured provider.
func NewFromConfig(llmConfig *config.LLMConfig, ragConfig *config.RAGConfig) (*Service, error) {
	var client Client
	var err error
	switch llmConfig.Provider {
	case "openai":
		client, err = NewOpenAIEmbedder(llmConfig)
	default:
		client, err = NewOllamaEmbedder(llmConfig)
	}
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(llmConfig.TimeoutSeconds) * time.Second
	return NewService(client, ragConfig.VectorSize, timeout, ragConfig.BatchesPerMinute), nil
}

func (s *Service) Dimension() int { return s.dimension }

// Embed converts one text into a vector, verifying the provider returned the
// configured dimension.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vector, err := s.client.EmbedQuery(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &models.ProviderTimeoutError{Op: "embed", Err: err}
		}
		return nil, &models.ProviderError{Op: "embed", Err: err}
	}
	if len(vector) != s.dimension {
		return nil, &models.EmbeddingDimensionError{Want: s.dimension, Got: len(vector)}
	}
	return vector, nil
}

// EmbedBatch embeds chunks in batches, pacing between batches so the provider
// is not hammered. A provider failure on one chunk is logged and skipped so a
// single bad chunk does not abort the whole document; a dimension mismatch is
// a contract violation and aborts immediately.
func (s *Service) EmbedBatch(ctx context.Context, chunks []string, batchSize int) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}

	var out []models.ChunkEmbedding
	totalBatches := (len(chunks) + batchSize - 1) / batchSize
	for start := 0; start < len(chunks); start += batchSize {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return out, err
			}
		}

		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		log.Debug().Int("batch", start/batchSize+1).Int("total_batches", totalBatches).Msg("embedding batch")

		for i := start; i < end; i++ {
			vector, err := s.Embed(ctx, chunks[i])
			if err != nil {
				var dimErr *models.EmbeddingDimensionError
				if errors.As(err, &dimErr) {
					return nil, err
				}
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				log.Warn().Err(err).Int("chunk_index", i).Msg("skipping chunk, embedding failed")
				continue
			}
			out = append(out, models.ChunkEmbedding{
				Index:     i,
				Content:   chunks[i],
				Embedding: vector,
				Words:     chunker.WordCount(chunks[i]),
				Length:    len(chunks[i]),
			})
		}
	}
	return out, nil
}
