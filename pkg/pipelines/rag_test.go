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

func newRAG(gen, eval *scriptedEngine, vec *fakeVector) *RAG {
	return &RAG{
		Generator: gen,
		Evaluator: eval,
		Embedder:  embeddings.NewMockProvider(),
		Vector:    vec,
		Config:    DefaultRAGConfig(),
	}
}

func doc(title string, sim float64) stores.Document {
	return stores.Document{ID: title, Title: title, Content: "content of " + title, Similarity: sim}
}

func TestRAGHappyPath(t *testing.T) {
	gen := &scriptedEngine{responses: []string{"Grounded answer [1]."}}
	eval := &scriptedEngine{structuredOutputs: []string{
		`{"relevant": true}`,
		`{"relevant": true}`,
		`{"grounded": true, "justification": "all claims sourced"}`,
	}}
	vec := &fakeVector{batches: [][]stores.Document{{doc("runbook", 0.8), doc("postmortem", 0.7)}}}

	out, err := newRAG(gen, eval, vec).Run(context.Background(), "how do we deploy?", events.NullSink{}, events.NewEventMetadata("t", "th", "rag"))
	require.NoError(t, err)
	assert.Equal(t, "Grounded answer [1].", out.Answer)
	assert.Equal(t, 0, out.Retries)
	assert.False(t, out.Caveated)
	assert.False(t, out.Exhausted)
}

func TestRAGRewriteThenSucceed(t *testing.T) {
	gen := &scriptedEngine{responses: []string{"Answer from second pass."}}
	eval := &scriptedEngine{structuredOutputs: []string{
		`{"relevant": false}`,
		`{"query": "deployment process handbook"}`,
		`{"relevant": true}`,
		`{"grounded": true}`,
	}}
	vec := &fakeVector{batches: [][]stores.Document{
		{doc("unrelated", 0.5)},
		{doc("handbook", 0.9)},
	}}

	out, err := newRAG(gen, eval, vec).Run(context.Background(), "how do we deploy?", events.NullSink{}, events.NewEventMetadata("t", "th", "rag"))
	require.NoError(t, err)
	assert.Equal(t, "Answer from second pass.", out.Answer)
	assert.Equal(t, 1, out.Retries)
	assert.False(t, out.Caveated)
	assert.Equal(t, 2, vec.calls)
}

func TestRAGExhaustionCaveats(t *testing.T) {
	gen := &scriptedEngine{responses: []string{"Best-effort answer."}}
	eval := &scriptedEngine{structuredOutputs: []string{
		`{"relevant": false}`,
		`{"query": "rewrite one"}`,
		`{"relevant": false}`,
		`{"query": "rewrite two"}`,
		`{"relevant": false}`,
	}}
	vec := &fakeVector{batches: [][]stores.Document{{doc("noise", 0.5)}}}

	out, err := newRAG(gen, eval, vec).Run(context.Background(), "q", events.NullSink{}, events.NewEventMetadata("t", "th", "rag"))
	require.NoError(t, err)
	assert.True(t, out.Exhausted)
	assert.True(t, out.Caveated)
	assert.Equal(t, 2, out.Retries)
	assert.Contains(t, out.Answer, "Best-effort answer.")
	assert.Contains(t, out.Answer, "could not be fully verified")
}

func TestRAGGradingFailureFallsBackToSimilarity(t *testing.T) {
	gen := &scriptedEngine{responses: []string{"Fallback answer."}}
	eval := &scriptedEngine{
		structuredOutputs: []string{"", "", `{"grounded": true}`},
		structuredErrs: []error{
			inferenceErr("grader down"),
			inferenceErr("grader down"),
			nil,
		},
	}
	vec := &fakeVector{batches: [][]stores.Document{{doc("strong", 0.5), doc("weak", 0.3)}}}

	out, err := newRAG(gen, eval, vec).Run(context.Background(), "q", events.NullSink{}, events.NewEventMetadata("t", "th", "rag"))
	require.NoError(t, err)
	assert.Equal(t, "Fallback answer.", out.Answer)
	assert.Equal(t, 0, out.Retries)

	// only the doc above the fallback floor reaches the generator
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "strong")
	assert.NotContains(t, gen.prompts[0], "weak")
}

func TestRAGSimilarityFloorSkipsGrading(t *testing.T) {
	gen := &scriptedEngine{responses: []string{"Answer."}}
	eval := &scriptedEngine{structuredOutputs: []string{
		`{"relevant": true}`,
		`{"grounded": true}`,
	}}
	vec := &fakeVector{batches: [][]stores.Document{{doc("good", 0.8), doc("chaff", 0.1)}}}

	out, err := newRAG(gen, eval, vec).Run(context.Background(), "q", events.NullSink{}, events.NewEventMetadata("t", "th", "rag"))
	require.NoError(t, err)
	assert.Equal(t, "Answer.", out.Answer)
	// one grading call for the good doc plus the groundedness check; the
	// sub-floor doc never reaches the grader
	assert.Len(t, eval.structuredPrompts, 2)
}

func TestRAGHallucinationTriggersRewrite(t *testing.T) {
	gen := &scriptedEngine{responses: []string{"Made-up answer.", "Grounded answer."}}
	eval := &scriptedEngine{structuredOutputs: []string{
		`{"relevant": true}`,
		`{"grounded": false, "justification": "claims not in sources"}`,
		`{"query": "rephrased"}`,
		`{"relevant": true}`,
		`{"grounded": true}`,
	}}
	vec := &fakeVector{batches: [][]stores.Document{{doc("src", 0.9)}}}

	out, err := newRAG(gen, eval, vec).Run(context.Background(), "q", events.NullSink{}, events.NewEventMetadata("t", "th", "rag"))
	require.NoError(t, err)
	assert.Equal(t, "Grounded answer.", out.Answer)
	assert.Equal(t, 1, out.Retries)
}
