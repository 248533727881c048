package embeddings

import (
	"context"
	"sync/atomic"
)

// MockProvider returns deterministic embeddings derived from the text
// length; used in tests and offline development.
type MockProvider struct {
	calls atomic.Int64
}

var _ Provider = &MockProvider{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	return []float32{float32(len(text)), 1.0, 2.0}, nil
}

func (p *MockProvider) Calls() int {
	return int(p.calls.Load())
}

func (p *MockProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return DefaultGenerateBatchEmbeddings(ctx, p, texts)
}

func (p *MockProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{Name: "mock", Dimensions: 3}
}
