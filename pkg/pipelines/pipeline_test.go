package pipelines

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
)

func TestRunnerStraightThrough(t *testing.T) {
	var order []string
	r := NewRunner("test", 2)
	r.AddNode("a", Node{
		Run:  func(context.Context) error { order = append(order, "a"); return nil },
		Next: func() string { return "b" },
	})
	r.AddNode("b", Node{
		Run: func(context.Context) error { order = append(order, "b"); return nil },
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 0, r.Retries())
	assert.False(t, r.Exhausted())
}

func TestRunnerRetryAccounting(t *testing.T) {
	// work fails twice, then succeeds; each loop-back through the refine
	// node consumes one retry
	failures := 2
	r := NewRunner("test", 2)
	r.AddNode("work", Node{
		Run: func(context.Context) error { return nil },
		Next: func() string {
			if failures > 0 {
				failures--
				return "refine"
			}
			return "finish"
		},
	})
	r.AddNode("refine", Node{
		Refine: true,
		Run:    func(context.Context) error { return nil },
		Next:   func() string { return "work" },
	})
	finished := false
	r.AddNode("finish", Node{
		Run: func(context.Context) error { finished = true; return nil },
	})

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, finished)
	assert.Equal(t, 2, r.Retries())
	assert.False(t, r.Exhausted())
}

func TestRunnerCeilingRedirect(t *testing.T) {
	caveated := false
	r := NewRunner("test", 1)
	r.AddNode("work", Node{
		Run:  func(context.Context) error { return nil },
		Next: func() string { return "refine" },
	})
	r.AddNode("refine", Node{
		Refine: true,
		Run:    func(context.Context) error { return nil },
		Next:   func() string { return "work" },
	})
	r.AddNode("caveat", Node{
		Run: func(context.Context) error { caveated = true; return nil },
	})
	r.AtCeiling("caveat")

	require.NoError(t, r.Run(context.Background()))
	assert.True(t, caveated)
	assert.True(t, r.Exhausted())
	assert.Equal(t, 1, r.Retries(), "retries never exceed the ceiling")
}

func TestRunnerZeroRetriesForbidsLoopBack(t *testing.T) {
	r := NewRunner("test", 0)
	r.AddNode("work", Node{
		Run:  func(context.Context) error { return nil },
		Next: func() string { return "refine" },
	})
	refined := false
	r.AddNode("refine", Node{
		Refine: true,
		Run:    func(context.Context) error { refined = true; return nil },
		Next:   func() string { return "work" },
	})

	require.NoError(t, r.Run(context.Background()))
	assert.False(t, refined)
	assert.True(t, r.Exhausted())
}

func TestRunnerUnknownNode(t *testing.T) {
	r := NewRunner("test", 0)
	r.AddNode("a", Node{
		Run:  func(context.Context) error { return nil },
		Next: func() string { return "missing" },
	})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestRunnerNodeErrorAborts(t *testing.T) {
	r := NewRunner("test", 0)
	r.AddNode("a", Node{
		Run: func(context.Context) error { return assert.AnError },
	})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRunnerEmitsStatusEvents(t *testing.T) {
	sink := events.NewCollectorSink()
	meta := events.NewEventMetadata("turn", "thread", "test")

	r := NewRunner("demo", 0, WithSink(sink, meta))
	r.AddNode("only", Node{
		Run: func(context.Context) error { return nil },
	})
	require.NoError(t, r.Run(context.Background()))

	evts := sink.Events()
	require.Len(t, evts, 1)
	status, ok := events.ToTypedEvent[events.EventStatus](evts[0])
	require.True(t, ok)
	assert.Equal(t, "demo.only", status.Stage)
}

func TestFailVerdictOnInference(t *testing.T) {
	var eval Evaluation

	require.NoError(t, FailVerdictOnInference(nil, &eval))

	err := inferenceErr("model timed out")
	require.NoError(t, FailVerdictOnInference(err, &eval))
	assert.Equal(t, VerdictFail, eval.Verdict)
	assert.Contains(t, eval.Justification, "model timed out")

	other := assert.AnError
	assert.ErrorIs(t, FailVerdictOnInference(other, &eval), assert.AnError)
}

func TestErrInferenceWrapping(t *testing.T) {
	assert.ErrorIs(t, inferenceErr("x"), engine.ErrInference)
}
