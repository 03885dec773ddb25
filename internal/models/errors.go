package models

import (
	"errors"
	"fmt"
)

// Expected empty-result states. These are normal "not found" outcomes, not
// failures, and callers must not retry them.
var (
	ErrNoDocuments       = errors.New("no documents found, upload and embed documents first")
	ErrNoRelevantResults = errors.New("no relevant information found for this question")
	ErrDocumentNotFound  = errors.New("document not found")
)

// ValidationError reports malformed input. Surfaced immediately, never
// retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// EmbeddingDimensionError is a contract violation between the embedder and
// the store. It is raised before any store mutation.
type EmbeddingDimensionError struct {
	Want int
	Got  int
}

func (e *EmbeddingDimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Want, e.Got)
}

// ProviderError wraps a failure from the embedding or generation backend.
// The original message is preserved for diagnostics.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider error in %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderTimeoutError marks a provider call that exceeded its bounded
// timeout, distinct from other provider failures. Not retried silently.
type ProviderTimeoutError struct {
	Op  string
	Err error
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider timeout in %s: %v", e.Op, e.Err)
}
func (e *ProviderTimeoutError) Unwrap() error { return e.Err }

// StoreError wraps a persistence-layer failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store error in %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is one of the expected empty-result states.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoDocuments) || errors.Is(err, ErrNoRelevantResults) || errors.Is(err, ErrDocumentNotFound)
}
