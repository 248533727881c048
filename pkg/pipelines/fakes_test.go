package pipelines

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

// scriptedEngine replays canned responses in order. A nil entry in errs
// means the corresponding call succeeds; running past the script is an
// inference failure.
type scriptedEngine struct {
	responses []string
	errs      []error
	prompts   []string

	structuredOutputs []string
	structuredErrs    []error
	structuredPrompts []string
}

var _ engine.StructuredEngine = (*scriptedEngine)(nil)

func (e *scriptedEngine) RunInference(_ context.Context, messages conversation.Conversation) (conversation.Conversation, error) {
	e.prompts = append(e.prompts, messages.GetSinglePrompt())
	i := len(e.prompts) - 1
	if i < len(e.errs) && e.errs[i] != nil {
		return nil, e.errs[i]
	}
	if i >= len(e.responses) {
		return nil, errors.Wrap(engine.ErrInference, "script exhausted")
	}
	return append(messages, conversation.NewAssistantMessage(e.responses[i])), nil
}

func (e *scriptedEngine) RunStructured(_ context.Context, messages conversation.Conversation, _ []byte, out interface{}) error {
	e.structuredPrompts = append(e.structuredPrompts, messages.GetSinglePrompt())
	i := len(e.structuredPrompts) - 1
	if i < len(e.structuredErrs) && e.structuredErrs[i] != nil {
		return e.structuredErrs[i]
	}
	if i >= len(e.structuredOutputs) {
		return errors.Wrap(engine.ErrInference, "script exhausted")
	}
	return json.Unmarshal([]byte(e.structuredOutputs[i]), out)
}

func inferenceErr(msg string) error {
	return errors.Wrap(engine.ErrInference, msg)
}

// repeat fills a slice with n copies of v, for scripting loops.
func repeat[T any](v T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type fakeVector struct {
	batches [][]stores.Document
	calls   int
}

func (f *fakeVector) Search(_ context.Context, _ []float32, _ int) ([]stores.Document, error) {
	i := f.calls
	f.calls++
	if i >= len(f.batches) {
		i = len(f.batches) - 1
	}
	if i < 0 {
		return nil, nil
	}
	return f.batches[i], nil
}

type fakeQuerier struct {
	rows    []stores.Rows
	errs    []error
	queries []string
}

func (f *fakeQuerier) Query(_ context.Context, query string) (stores.Rows, error) {
	i := len(f.queries)
	f.queries = append(f.queries, query)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.rows) {
		if len(f.rows) == 0 {
			return nil, nil
		}
		i = len(f.rows) - 1
	}
	return f.rows[i], nil
}

type fakeCypher struct {
	rows    stores.Rows
	err     error
	queries []string
}

func (f *fakeCypher) Run(_ context.Context, cypher string, _ map[string]interface{}) (stores.Rows, error) {
	f.queries = append(f.queries, cypher)
	return f.rows, f.err
}

type fakeMetrics struct {
	windows [][]stores.MetricWindow
	calls   int
}

func (f *fakeMetrics) FetchMetricWindow(_ context.Context, _, _ time.Time) ([]stores.MetricWindow, error) {
	i := f.calls
	f.calls++
	if i >= len(f.windows) {
		return nil, nil
	}
	return f.windows[i], nil
}

type fakeFinder struct {
	candidates []stores.GraphCandidate
	err        error
}

func (f *fakeFinder) FindCandidates(_ context.Context, _ string, _ int) ([]stores.GraphCandidate, error) {
	return f.candidates, f.err
}
