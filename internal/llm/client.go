// Package llm wraps the OpenAI API behind the two capabilities the
// pipeline needs: text completion and text embedding. Swapping providers
// means swapping this package's client, nothing upstream changes.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type Client struct {
	client         *openai.Client
	model          string
	fallbackModel  string
	embeddingModel string
	maxTokens      int
	logger         *slog.Logger
}

func NewClient(apiKey, model, fallbackModel, embeddingModel string, maxTokens int, logger *slog.Logger) *Client {
	return &Client{
		client:         openai.NewClient(apiKey),
		model:          model,
		fallbackModel:  fallbackModel,
		embeddingModel: embeddingModel,
		maxTokens:      maxTokens,
		logger:         logger,
	}
}

// Model returns the primary completion model.
func (c *Client) Model() string { return c.model }

// FallbackModel returns the configured backup model, empty if none.
func (c *Client) FallbackModel() string { return c.fallbackModel }

// Complete sends one system+user exchange to the given model and returns
// the raw text of the first choice. JSON output mode is requested so the
// response parses without fence stripping.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed returns one fixed-dimension vector per input text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
