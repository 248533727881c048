package embeddings

import (
	"context"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

type OpenAIProvider struct {
	client     *go_openai.Client
	model      go_openai.EmbeddingModel
	dimensions int
}

var _ Provider = &OpenAIProvider{}

// NewOpenAIProvider embeds against any OpenAI-compatible endpoint; an empty
// baseURL uses the public API.
func NewOpenAIProvider(apiKey, baseURL string, model go_openai.EmbeddingModel, dimensions int) *OpenAIProvider {
	if model == "" {
		model = go_openai.SmallEmbedding3
	}
	if dimensions <= 0 {
		dimensions = 1536
	}

	cfg := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:     go_openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, go_openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create embedding")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data received")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := p.client.CreateEmbeddings(ctx, go_openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create batch embeddings")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		results[d.Index] = d.Embedding
	}
	return results, nil
}

func (p *OpenAIProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{
		Name:       string(p.model),
		Dimensions: p.dimensions,
	}
}
