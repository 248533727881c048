package stores

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
)

// VectorConfig holds weaviate connection settings.
type VectorConfig struct {
	Host   string `mapstructure:"host"`
	Scheme string `mapstructure:"scheme"`
	Class  string `mapstructure:"class"`
}

// VectorSearcher is the contract the RAG and fusion pipelines depend on.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]Document, error)
}

// Vector is a weaviate-backed document index. Similarity comes back as
// certainty, already normalized to [0, 1].
type Vector struct {
	client *weaviate.Client
	class  string
}

var _ VectorSearcher = (*Vector)(nil)

func NewVector(cfg VectorConfig) *Vector {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	class := cfg.Class
	if class == "" {
		class = "Document"
	}
	client := weaviate.New(weaviate.Config{
		Host:   cfg.Host,
		Scheme: scheme,
	})
	return &Vector{client: client, class: class}
}

func (v *Vector) Search(ctx context.Context, vector []float32, topK int) ([]Document, error) {
	if topK <= 0 {
		topK = 8
	}

	nearVector := v.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	resp, err := v.client.GraphQL().Get().
		WithClassName(v.class).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(ErrStore, "vector search: %v", err)
	}
	if len(resp.Errors) > 0 {
		return nil, errors.Wrapf(ErrStore, "vector search: %s", resp.Errors[0].Message)
	}

	data := make(map[string]interface{}, len(resp.Data))
	for k, val := range resp.Data {
		data[k] = val
	}
	return parseSearchResponse(data, v.class), nil
}

func parseSearchResponse(data map[string]interface{}, class string) []Document {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[class].([]interface{})
	if !ok {
		return nil
	}

	out := make([]Document, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{}
		if s, ok := obj["title"].(string); ok {
			doc.Title = s
		}
		if s, ok := obj["content"].(string); ok {
			doc.Content = s
		}
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if s, ok := add["id"].(string); ok {
				doc.ID = s
			}
			if c, ok := toFloat(add["certainty"]); ok {
				doc.Similarity = c
			}
		}
		out = append(out, doc)
	}
	log.Debug().Int("hits", len(out)).Str("class", class).Msg("vector search parsed")
	return out
}
