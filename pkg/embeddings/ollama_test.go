package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderEmbeds(t *testing.T) {
	var gotPath string
	var gotReq ollamaEmbeddingRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.NoError(t, json.NewEncoder(w).Encode(ollamaEmbeddingResponse{
			Embedding: []float64{0.1, 0.2, 0.3},
		}))
	}))
	defer ts.Close()

	p, err := NewOllamaProvider(ts.URL, "all-minilm", 3)
	require.NoError(t, err)

	vec, err := p.GenerateEmbedding(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "/api/embeddings", gotPath)
	assert.Equal(t, "all-minilm", gotReq.Model)
	assert.Equal(t, "hello world", gotReq.Prompt)
}

func TestOllamaProviderSurfacesServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer ts.Close()

	p, err := NewOllamaProvider(ts.URL, "missing-model", 3)
	require.NoError(t, err)

	_, err = p.GenerateEmbedding(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaProviderDefaults(t *testing.T) {
	p, err := NewOllamaProvider("", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "all-minilm", p.GetModel().Name)
	assert.Equal(t, 384, p.GetModel().Dimensions)
}
