package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"klaus/types"
)

// OllamaClient is the local development provider: completions via
// /api/generate and embeddings via /api/embeddings.
type OllamaClient struct {
	apiURL     string
	model      string
	embedModel string
	guard      *Guard
	httpClient *http.Client
}

type OllamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type OllamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaClient(cfg types.LLMConfig, guard *Guard) *OllamaClient {
	return &OllamaClient{
		apiURL:     strings.TrimRight(cfg.Url, "/"),
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		guard:      guard,
		httpClient: &http.Client{},
	}
}

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer func() {
		log.Printf("[OLLAMA] completion took %v", time.Since(start))
	}()

	return Do(ctx, c.guard, func(ctx context.Context) (string, error) {
		body, err := c.post(ctx, "/api/generate", OllamaGenerateRequest{
			Model:  c.model,
			Prompt: prompt,
			Stream: false,
		})
		if err != nil {
			return "", err
		}

		var genResp OllamaGenerateResponse
		if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
			return strings.TrimSpace(genResp.Response), nil
		}

		// streamed answer: concatenate the chunks
		var out strings.Builder
		decoder := json.NewDecoder(bytes.NewReader(body))
		for decoder.More() {
			var chunk OllamaGenerateResponse
			if err := decoder.Decode(&chunk); err != nil {
				break
			}
			out.WriteString(chunk.Response)
		}
		if strings.TrimSpace(out.String()) == "" {
			return "", ErrEmptyResponse
		}
		return strings.TrimSpace(out.String()), nil
	})
}

// Embed ignores intent: Ollama embedding models have no task type.
func (c *OllamaClient) Embed(ctx context.Context, text string, _ EmbedIntent) ([]float32, error) {
	return Do(ctx, c.guard, func(ctx context.Context) ([]float32, error) {
		body, err := c.post(ctx, "/api/embeddings", OllamaEmbeddingRequest{
			Model:  c.embedModel,
			Prompt: text,
		})
		if err != nil {
			return nil, err
		}

		var ollamaResp OllamaEmbeddingResponse
		if err := json.Unmarshal(body, &ollamaResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if len(ollamaResp.Embedding) == 0 {
			return nil, ErrEmptyResponse
		}

		embedding := make([]float32, len(ollamaResp.Embedding))
		for i, v := range ollamaResp.Embedding {
			embedding[i] = float32(v)
		}
		return embedding, nil
	})
}

func (c *OllamaClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Status: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}
