// Package llmservice talks to the chat model, synchronously or as a token
// stream, and strips reasoning markers from models that emit them.
package llmservice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/nheososweet/60days-rag/internal/config"
	"github.com/nheososweet/60days-rag/internal/models"
)

// StreamFunc receives one raw token chunk. Returning an error stops the
// stream and propagates the error to the caller.
type StreamFunc func(ctx context.Context, chunk []byte) error

// Client is the chat-model surface the answer pipeline consumes.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, fn StreamFunc) error
}

// Service drives a langchaingo chat model with a bounded per-call timeout.
type Service struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

// New builds the chat client for the configured provider.
func New(llmConfig *config.LLMConfig) (*Service, error) {
	var llm llms.Model
	var err error
	switch llmConfig.Provider {
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	default:
		llm, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	}
	if err != nil {
		return nil, err
	}
	return &Service{
		llm:     llm,
		model:   llmConfig.Model,
		timeout: time.Duration(llmConfig.TimeoutSeconds) * time.Second,
	}, nil
}

// Model reports the configured model name, for response metadata.
func (s *Service) Model() string { return s.model }

// Generate returns the full completion for the prompt.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	res, err := s.llm.GenerateContent(ctx, promptMessages(prompt))
	if err != nil {
		return "", wrapProviderErr("generate", err)
	}
	if len(res.Choices) == 0 {
		return "", &models.ProviderError{Op: "generate", Err: errors.New("empty response")}
	}
	return res.Choices[0].Content, nil
}

// Stream forwards completion tokens to fn as they arrive. Errors returned by
// fn (including context cancellation) abort the provider call.
func (s *Service) Stream(ctx context.Context, prompt string, fn StreamFunc) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	_, err := s.llm.GenerateContent(ctx, promptMessages(prompt),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			return fn(ctx, chunk)
		}))
	if err != nil {
		return wrapProviderErr("stream", err)
	}
	return nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func promptMessages(prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
}

func wrapProviderErr(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &models.ProviderTimeoutError{Op: op, Err: err}
	default:
		return &models.ProviderError{Op: op, Err: err}
	}
}
