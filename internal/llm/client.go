// Package llm provides the text-completion and embedding client used by the
// background job handlers.
//
// Completions go through a Groq-hosted OpenAI-compatible API with JSON mode
// enforced. Embeddings degrade to a deterministic pseudo-embedding when the
// provider is unavailable, so retrieval stays reproducible instead of
// failing the pipeline.
package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pgvector/pgvector-go"
)

// Client generates structured completions and embedding vectors.
type Client interface {
	// Complete returns the raw JSON content of a chat completion. An empty
	// response from the provider is a hard failure.
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)

	// Embed generates a unit-length embedding vector for text. On provider
	// failure it substitutes the deterministic fallback vector rather than
	// returning an error.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// GroqClient talks to a Groq (OpenAI-compatible) API endpoint.
type GroqClient struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	dimensions      int
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewGroqClient creates a client. baseURL has no trailing slash, e.g.
// "https://api.groq.com/openai/v1".
func NewGroqClient(apiKey, baseURL, completionModel, embeddingModel string, dimensions int, logger *slog.Logger) *GroqClient {
	return &GroqClient{
		apiKey:          apiKey,
		baseURL:         baseURL,
		completionModel: completionModel,
		embeddingModel:  embeddingModel,
		dimensions:      dimensions,
		httpClient:      &http.Client{},
		logger:          logger,
	}
}

// Dimensions returns the embedding vector size.
func (c *GroqClient) Dimensions() int {
	return c.dimensions
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat respFormat    `json:"response_format"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends a system+user chat completion with JSON mode enforced.
func (c *GroqClient) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: c.completionModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		ResponseFormat: respFormat{Type: "json_object"},
		Temperature:    0.4,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal completion request: %w", err)
	}

	body, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("llm: unmarshal completion response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("llm: provider error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("llm: provider returned empty content")
	}
	return result.Choices[0].Message.Content, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

// Embed generates an embedding, falling back to the deterministic
// pseudo-embedding on any provider failure.
func (c *GroqClient) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := c.embedRemote(ctx, text)
	if err != nil {
		c.logger.Warn("llm: embedding provider failed, using deterministic fallback", "error", err)
		return FallbackEmbedding(text, c.dimensions), nil
	}
	return vec, nil
}

func (c *GroqClient) embedRemote(ctx context.Context, text string) (pgvector.Vector, error) {
	reqBody, err := json.Marshal(embedRequest{Model: c.embeddingModel, Input: []string{text}})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("llm: marshal embedding request: %w", err)
	}

	body, err := c.post(ctx, "/embeddings", reqBody)
	if err != nil {
		return pgvector.Vector{}, err
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return pgvector.Vector{}, fmt.Errorf("llm: unmarshal embedding response: %w", err)
	}
	if result.Error != nil {
		return pgvector.Vector{}, fmt.Errorf("llm: provider error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Data) == 0 {
		return pgvector.Vector{}, fmt.Errorf("llm: provider returned no embedding data")
	}
	emb := result.Data[0].Embedding
	if len(emb) != c.dimensions {
		return pgvector.Vector{}, fmt.Errorf("llm: embedding dimension mismatch: got %d, want %d", len(emb), c.dimensions)
	}
	return pgvector.NewVector(emb), nil
}

func (c *GroqClient) post(ctx context.Context, path string, reqBody []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ContentHash returns the SHA-256 hex digest of text, used to deduplicate
// embedding upserts.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
