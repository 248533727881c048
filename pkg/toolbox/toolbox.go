package toolbox

import (
	"context"

	"github.com/pkg/errors"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/embeddings"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/tools"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

// Toolbox owns the store clients and exposes them as typed tool functions.
// One toolbox is built at startup and shared read-only across turns.
type Toolbox struct {
	Relational *stores.Relational
	Columnar   *stores.Columnar
	Graph      *stores.Graph
	Vector     stores.VectorSearcher
	Embedder   embeddings.Provider
}

// SQLQueryInput runs one read-only statement against the relational store.
type SQLQueryInput struct {
	Query string `json:"query" jsonschema:"description=A read-only SQL statement over the employees/teams/projects schema"`
}

// MetricsQueryInput runs one read-only statement against the columnar store.
type MetricsQueryInput struct {
	Query string `json:"query" jsonschema:"description=A read-only SQL statement over the events and dora_daily_metrics tables"`
}

// GraphQueryInput runs one read-only cypher statement.
type GraphQueryInput struct {
	Query string `json:"query" jsonschema:"description=A read-only Cypher statement over the org graph"`
}

// VectorSearchInput retrieves documents similar to a natural language query.
type VectorSearchInput struct {
	Query string `json:"query" jsonschema:"description=Natural language text to search the document index with"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Number of documents to return"`
}

// EmbedTextInput generates an embedding vector for a piece of text.
type EmbedTextInput struct {
	Text string `json:"text" jsonschema:"description=Text to embed"`
}

type QueryResult struct {
	Rows     stores.Rows `json:"rows"`
	RowCount int         `json:"row_count"`
}

type SearchResult struct {
	Documents []stores.Document `json:"documents"`
}

type EmbedResult struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
}

func (tb *Toolbox) SQLQuery(ctx context.Context, in SQLQueryInput) (QueryResult, error) {
	if tb.Relational == nil {
		return QueryResult{}, errors.Wrap(stores.ErrStore, "relational store not configured")
	}
	rows, err := tb.Relational.Query(ctx, in.Query)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Rows: rows, RowCount: len(rows)}, nil
}

func (tb *Toolbox) MetricsQuery(ctx context.Context, in MetricsQueryInput) (QueryResult, error) {
	if tb.Columnar == nil {
		return QueryResult{}, errors.Wrap(stores.ErrStore, "columnar store not configured")
	}
	rows, err := tb.Columnar.Query(ctx, in.Query)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Rows: rows, RowCount: len(rows)}, nil
}

func (tb *Toolbox) GraphQuery(ctx context.Context, in GraphQueryInput) (QueryResult, error) {
	if tb.Graph == nil {
		return QueryResult{}, errors.Wrap(stores.ErrStore, "graph store not configured")
	}
	rows, err := tb.Graph.Run(ctx, in.Query, nil)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Rows: rows, RowCount: len(rows)}, nil
}

func (tb *Toolbox) VectorSearch(ctx context.Context, in VectorSearchInput) (SearchResult, error) {
	if tb.Vector == nil || tb.Embedder == nil {
		return SearchResult{}, errors.Wrap(stores.ErrStore, "vector store not configured")
	}
	vec, err := tb.Embedder.GenerateEmbedding(ctx, in.Query)
	if err != nil {
		return SearchResult{}, errors.Wrapf(stores.ErrStore, "embed query: %v", err)
	}
	docs, err := tb.Vector.Search(ctx, vec, in.TopK)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Documents: docs}, nil
}

func (tb *Toolbox) EmbedText(ctx context.Context, in EmbedTextInput) (EmbedResult, error) {
	if tb.Embedder == nil {
		return EmbedResult{}, errors.Wrap(stores.ErrStore, "embedding provider not configured")
	}
	vec, err := tb.Embedder.GenerateEmbedding(ctx, in.Text)
	if err != nil {
		return EmbedResult{}, errors.Wrapf(stores.ErrStore, "embed text: %v", err)
	}
	return EmbedResult{Vector: vec, Dimensions: len(vec)}, nil
}

// Registry builds a tool registry exposing every configured tool. Tool names
// derive from the input struct names: sql_query, metrics_query, graph_query,
// vector_search, embed_text.
func (tb *Toolbox) Registry() (tools.ToolRegistry, error) {
	reg := tools.NewInMemoryToolRegistry()

	register := func(description string, fn interface{}) error {
		tool, err := tools.NewToolFromFunc("", description, fn)
		if err != nil {
			return err
		}
		return reg.RegisterTool(tool.Name, *tool)
	}

	if err := register("Run a read-only SQL query against the org database", tb.SQLQuery); err != nil {
		return nil, err
	}
	if err := register("Run a read-only SQL query against the engineering metrics store", tb.MetricsQuery); err != nil {
		return nil, err
	}
	if err := register("Run a read-only Cypher query against the org relationship graph", tb.GraphQuery); err != nil {
		return nil, err
	}
	if err := register("Search the document index for text similar to a query", tb.VectorSearch); err != nil {
		return nil, err
	}
	if err := register("Generate an embedding vector for a piece of text", tb.EmbedText); err != nil {
		return nil, err
	}

	return reg, nil
}
