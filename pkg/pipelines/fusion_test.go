package pipelines

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/embeddings"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

func TestFuseCandidatesWeights(t *testing.T) {
	cfg := DefaultFusionConfig()
	docs := []stores.Document{
		{Title: "Alice", Similarity: 0.9},
		{Title: "Carol", Similarity: 0.5},
	}
	cands := []stores.GraphCandidate{
		{Name: "Alice", Score: 0.8, Evidence: "expert in Go (level 4/5)"},
		{Name: "Bob", Score: 0.6, Evidence: "40 commits to payments"},
	}

	ranked := fuseCandidates(docs, cands, cfg)
	require.Len(t, ranked, 3)

	byName := map[string]RankedCandidate{}
	for _, c := range ranked {
		byName[c.Name] = c
	}

	// both paths: weighted sum
	assert.InDelta(t, 0.6*0.9+0.4*0.8, byName["Alice"].Score, 1e-9)
	assert.ElementsMatch(t, []string{"profile", "graph"}, byName["Alice"].Sources)

	// single path keeps its own weight, so it cannot outrank a
	// cross-validated candidate with the same raw score
	assert.InDelta(t, 0.6*0.5, byName["Carol"].Score, 1e-9)
	assert.InDelta(t, 0.4*0.6, byName["Bob"].Score, 1e-9)

	assert.Equal(t, "Alice", ranked[0].Name)
}

func TestFuseCandidatesScoresStayInUnitRange(t *testing.T) {
	docs := []stores.Document{{Title: "X", Similarity: 1.7}}
	cands := []stores.GraphCandidate{{Name: "X", Score: 2.3}}

	ranked := fuseCandidates(docs, cands, DefaultFusionConfig())
	require.Len(t, ranked, 1)
	assert.LessOrEqual(t, ranked[0].Score, 1.0)
	assert.GreaterOrEqual(t, ranked[0].Score, 0.0)
}

func TestFuseCandidatesTruncatesToTopK(t *testing.T) {
	cfg := FusionConfig{TopK: 2, VectorWeight: 0.6, GraphWeight: 0.4}
	docs := []stores.Document{
		{Title: "A", Similarity: 0.9},
		{Title: "B", Similarity: 0.8},
		{Title: "C", Similarity: 0.7},
	}
	ranked := fuseCandidates(docs, nil, cfg)
	require.Len(t, ranked, 2)
	assert.Equal(t, "A", ranked[0].Name)
	assert.Equal(t, "B", ranked[1].Name)
}

func TestFusionRun(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"summary": "Alice is the strongest match.", "justifications": {"Alice": "deep Go expertise plus payments history"}}`,
	}}
	p := &Fusion{
		Writer:   eng,
		Embedder: embeddings.NewMockProvider(),
		Vector:   &fakeVector{batches: [][]stores.Document{{{Title: "Alice", Similarity: 0.9}}}},
		Graph:    &fakeFinder{candidates: []stores.GraphCandidate{{Name: "Alice", Score: 0.8}, {Name: "Bob", Score: 0.5}}},
	}

	out, err := p.Run(context.Background(), "who should lead the Go migration?", events.NullSink{}, metaFor("fusion"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "Alice is the strongest match.")
	assert.Contains(t, out.Answer, "deep Go expertise")
	assert.Contains(t, out.Answer, "1. **Alice**")
	assert.False(t, out.Caveated)
	assert.Equal(t, 0, out.Retries)
}

func TestFusionJustifyFailureKeepsRanking(t *testing.T) {
	eng := &scriptedEngine{structuredErrs: []error{inferenceErr("writer down")}}
	p := &Fusion{
		Writer:   eng,
		Embedder: embeddings.NewMockProvider(),
		Vector:   &fakeVector{batches: [][]stores.Document{{{Title: "Alice", Similarity: 0.9}}}},
		Graph:    &fakeFinder{},
	}

	out, err := p.Run(context.Background(), "q", events.NullSink{}, metaFor("fusion"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "Alice")
}

func TestFusionNoCandidates(t *testing.T) {
	eng := &scriptedEngine{}
	p := &Fusion{
		Writer:   eng,
		Embedder: embeddings.NewMockProvider(),
		Vector:   &fakeVector{},
		Graph:    &fakeFinder{},
	}

	out, err := p.Run(context.Background(), "q", events.NullSink{}, metaFor("fusion"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "No candidates matched")
	assert.Empty(t, eng.structuredPrompts, "no model call for an empty ranking")
}
