// Package embedding 提供修订校验所需的 Embedding 客户端
package embedding

import (
	"context"
	"fmt"
	"time"

	openaiembed "github.com/cloudwego/eino-ext/components/embedding/openai"
	einoembedding "github.com/cloudwego/eino/components/embedding"

	"z-novel-writer/internal/config"
)

// Client 基于 Eino OpenAI 适配器的 Embedding 客户端
type Client struct {
	embedder einoembedding.Embedder
	model    string
}

func NewClient(ctx context.Context, cfg *config.EmbeddingConfig) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	embedder, err := openaiembed.NewEmbedder(ctx, &openaiembed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   model,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}

	return &Client{
		embedder: embedder,
		model:    model,
	}, nil
}

// Embed 批量获取文本向量
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	vectors, err := c.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	return vectors, nil
}
