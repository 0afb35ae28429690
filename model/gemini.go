package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"

	"klaus/types"
)

// GeminiClient talks to the hosted Gemini API for both completions and
// embeddings. With no API key every call returns ErrNotConfigured.
type GeminiClient struct {
	client     *genai.Client
	model      string
	embedModel string
	guard      *Guard
}

func NewGeminiClient(ctx context.Context, cfg types.LLMConfig, guard *Guard) (*GeminiClient, error) {
	c := &GeminiClient{
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		guard:      guard,
	}
	if cfg.APIKey == "" {
		log.Printf("[PROVIDER] GEMINI_API_KEY is missing, provider calls will be refused")
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	c.client = client
	return c, nil
}

func (c *GeminiClient) Model() string { return c.model }

func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.client == nil {
		return "", ErrNotConfigured
	}
	start := time.Now()
	defer func() {
		log.Printf("[GEMINI] completion took %v", time.Since(start))
	}()

	return Do(ctx, c.guard, func(ctx context.Context) (string, error) {
		contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
		if err != nil {
			return "", wrapGeminiError(err)
		}

		var out strings.Builder
		if resp != nil {
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part != nil && part.Text != "" {
						out.WriteString(part.Text)
					}
				}
				if out.Len() > 0 {
					break
				}
			}
		}
		text := strings.TrimSpace(out.String())
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}

func (c *GeminiClient) Embed(ctx context.Context, text string, intent EmbedIntent) ([]float32, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty for embedding generation")
	}

	return Do(ctx, c.guard, func(ctx context.Context) ([]float32, error) {
		contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
		result, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{
			TaskType: string(intent),
		})
		if err != nil {
			return nil, wrapGeminiError(err)
		}
		if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
			return nil, ErrEmptyResponse
		}
		return result.Embeddings[0].Values, nil
	})
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Status: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &ProviderError{Status: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}
