package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/tools"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/pipelines"
)

// scriptedEngine replays canned responses in order.
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

type EchoInput struct {
	Text string `json:"text"`
}

type EchoOutput struct {
	Text string `json:"text"`
}

func echoRegistry(t *testing.T) tools.ToolRegistry {
	t.Helper()
	registry := tools.NewInMemoryToolRegistry()
	def, err := tools.NewToolFromFunc("echo", "repeats its input", func(_ context.Context, in EchoInput) (EchoOutput, error) {
		return EchoOutput{Text: in.Text}, nil
	})
	require.NoError(t, err)
	require.NoError(t, registry.RegisterTool("echo", *def))
	return registry
}

func testMeta() events.EventMetadata {
	return events.NewEventMetadata("turn", "thread", "test")
}

func TestSpecialistFinalAnswer(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"action": "final", "answer": "42"}`,
	}}
	sp := &Specialist{Name: "direct", Engine: eng}
	state := NewAgentState("what is the answer?", "", "turn")

	require.NoError(t, sp.Run(context.Background(), state, events.NullSink{}, testMeta()))
	assert.Equal(t, "42", state.Answer)
	assert.False(t, state.Incomplete)
}

func TestSpecialistToolThenFinal(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"action": "tool", "tool": "echo", "args": {"text": "ping"}}`,
		`{"action": "final", "answer": "the tool said ping"}`,
	}}
	sink := events.NewCollectorSink()
	sp := &Specialist{
		Name:      "tooluser",
		Engine:    eng,
		Registry:  echoRegistry(t),
		Whitelist: tools.NewWhitelist("echo"),
	}
	state := NewAgentState("ping the tool", "", "turn")

	require.NoError(t, sp.Run(context.Background(), state, sink, testMeta()))
	assert.Equal(t, "the tool said ping", state.Answer)

	require.Len(t, state.ToolLog, 1)
	assert.Equal(t, "echo", state.ToolLog[0].Name)
	assert.True(t, state.ToolLog[0].OK)

	// the observation reaches the next think step
	assert.Contains(t, eng.structuredPrompts[1], "ping")

	var kinds []events.EventType
	for _, e := range sink.Events() {
		kinds = append(kinds, e.Type())
	}
	assert.Equal(t, []events.EventType{
		events.EventTypeAgentStart,
		events.EventTypeToolStart,
		events.EventTypeToolEnd,
		events.EventTypeAgentEnd,
	}, kinds)
}

func TestSpecialistUnknownToolIsFatal(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"action": "tool", "tool": "rm_rf", "args": {}}`,
	}}
	sp := &Specialist{
		Name:      "strict",
		Engine:    eng,
		Registry:  echoRegistry(t),
		Whitelist: tools.NewWhitelist("echo"),
	}
	state := NewAgentState("q", "", "turn")

	err := sp.Run(context.Background(), state, events.NullSink{}, testMeta())
	require.Error(t, err)
	assert.True(t, tools.IsFatalToolError(err))
	// exactly one think step: boundary rejections are not retried
	assert.Len(t, eng.structuredPrompts, 1)
}

func TestSpecialistPipelineAction(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"action": "pipeline", "pipeline": "rag", "query": "deploy process"}`,
		`{"action": "final", "answer": "summarized pipeline result"}`,
	}}
	var gotQuery string
	sp := &Specialist{
		Name:   "piped",
		Engine: eng,
		Pipelines: map[string]PipelineFunc{
			"rag": func(_ context.Context, query string, _ events.Sink, _ events.EventMetadata) (pipelines.Outcome, error) {
				gotQuery = query
				return pipelines.Outcome{Answer: "pipeline answer"}, nil
			},
		},
	}
	state := NewAgentState("how do we deploy?", "", "turn")

	require.NoError(t, sp.Run(context.Background(), state, events.NullSink{}, testMeta()))
	assert.Equal(t, "deploy process", gotQuery)
	assert.Equal(t, "summarized pipeline result", state.Answer)
	assert.Contains(t, eng.structuredPrompts[1], "pipeline answer")
}

func TestSpecialistStepBudgetTruncates(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"action": "tool", "tool": "echo", "args": {"text": "one"}}`,
		`{"action": "tool", "tool": "echo", "args": {"text": "two"}}`,
	}}
	sp := &Specialist{
		Name:      "looper",
		Engine:    eng,
		Registry:  echoRegistry(t),
		Whitelist: tools.NewWhitelist("echo"),
		MaxSteps:  2,
	}
	state := NewAgentState("q", "", "turn")

	require.NoError(t, sp.Run(context.Background(), state, events.NullSink{}, testMeta()))
	assert.Contains(t, state.Answer, "two")
	assert.Contains(t, state.Answer, "partial answer")
	assert.Len(t, state.ToolLog, 2)
}

func TestSpecialistInferenceFailureIsTerminal(t *testing.T) {
	eng := &scriptedEngine{structuredErrs: []error{errors.Wrap(engine.ErrInference, "model down")}}
	sp := &Specialist{Name: "down", Engine: eng}
	state := NewAgentState("q", "", "turn")

	err := sp.Run(context.Background(), state, events.NullSink{}, testMeta())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInference)
}

func TestSpecialistIncompleteFlag(t *testing.T) {
	eng := &scriptedEngine{structuredOutputs: []string{
		`{"action": "final", "answer": "partial view from metrics only", "incomplete": true}`,
	}}
	sp := &Specialist{Name: "partial", Engine: eng}
	state := NewAgentState("q", "", "turn")

	require.NoError(t, sp.Run(context.Background(), state, events.NullSink{}, testMeta()))
	assert.True(t, state.Incomplete)
}
