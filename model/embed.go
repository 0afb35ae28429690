package model

import (
	"context"
	"errors"
	"fmt"
	"log"

	"klaus/types"
)

// EmbedIntent tells the embedding provider how the vector will be used.
type EmbedIntent string

const (
	IntentDocument EmbedIntent = "RETRIEVAL_DOCUMENT"
	IntentQuery    EmbedIntent = "RETRIEVAL_QUERY"
)

// EmbedderInterface turns text into a fixed-length vector.
type EmbedderInterface interface {
	Embed(ctx context.Context, text string, intent EmbedIntent) ([]float32, error)
}

// Generator is a single-prompt, text-in/text-out completion model.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Provider bundles both halves of the model boundary.
type Provider interface {
	Generator
	EmbedderInterface
}

var (
	// ErrNotConfigured is returned when the provider credential is missing.
	ErrNotConfigured = errors.New("model provider is not configured")
	// ErrTimeout is returned when a provider call exceeds its deadline.
	ErrTimeout = errors.New("model provider call timed out")
	// ErrEmptyResponse is returned when the provider answered without content.
	ErrEmptyResponse = errors.New("model provider returned an empty response")
)

// ProviderError is a non-success answer from the provider.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: status %d: %s", e.Status, e.Message)
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg types.LLMConfig) (Provider, error) {
	guard := NewGuard(GuardConfig{Timeout: cfg.Timeout, RequestsPerSec: cfg.RequestsPerSec})

	switch cfg.Provider {
	case "", "gemini":
		log.Printf("[PROVIDER] Gemini chat=%s embed=%s", cfg.Model, cfg.EmbedModel)
		return NewGeminiClient(ctx, cfg, guard)
	case "ollama":
		cfg = cfg.WithOllama()
		log.Printf("[PROVIDER] local Ollama chat=%s embed=%s (%s)", cfg.Model, cfg.EmbedModel, cfg.Url)
		return NewOllamaClient(cfg, guard), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
