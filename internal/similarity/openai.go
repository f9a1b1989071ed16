package similarity

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "loom/pkg/errors"
	"loom/pkg/logger"
)

// OpenAIEmbedder produces embeddings through the OpenAI API (or any
// compatible endpoint via a base URL override).
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIEmbedder creates an embedder for the given model. baseURL may be
// empty to use the default OpenAI endpoint.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger.Named("similarity"),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, apperrors.NewSimilarityFailed("embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.NewSimilarityFailed("embed", errors.New("empty embedding response"))
	}

	return resp.Data[0].Embedding, nil
}
