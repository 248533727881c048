package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/tools"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/pipelines"
)

const DefaultMaxSteps = 6

// PipelineFunc runs one pipeline specialization for a query.
type PipelineFunc func(ctx context.Context, query string, sink events.Sink, meta events.EventMetadata) (pipelines.Outcome, error)

// Specialist is a model-bound, tool-bound reasoning loop covering one
// capability area. Each step the model either answers, calls a tool, or
// hands the query to one of the specialist's pipelines; observations feed
// the next step.
type Specialist struct {
	Name        string
	Description string
	Engine      engine.StructuredEngine
	Registry    tools.ToolRegistry
	Whitelist   *tools.Whitelist
	Pipelines   map[string]PipelineFunc
	MaxSteps    int
}

// decision is the closed action set the model chooses from each step. The
// orchestration layer validates it before acting; free-form text never
// selects a code path directly.
type decision struct {
	Action     string          `json:"action"`
	Answer     string          `json:"answer,omitempty"`
	Incomplete bool            `json:"incomplete,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Pipeline   string          `json:"pipeline,omitempty"`
	Query      string          `json:"query,omitempty"`
}

var decisionSchema = []byte(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["final", "tool", "pipeline"]},
    "answer": {"type": "string"},
    "incomplete": {"type": "boolean"},
    "tool": {"type": "string"},
    "args": {"type": "object"},
    "pipeline": {"type": "string"},
    "query": {"type": "string"}
  },
  "required": ["action"]
}`)

// Run executes the think/act/observe loop for one turn. Unknown tool names
// are fatal for the turn; tool failures get one retry inside the executor;
// hitting the step budget returns the best partial answer with a
// truncation notice.
func (s *Specialist) Run(ctx context.Context, state *AgentState, sink events.Sink, meta events.EventMetadata) error {
	maxSteps := s.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	sink.PublishBlind(events.NewAgentStartEvent(meta, s.Name, state.Query))
	defer sink.PublishBlind(events.NewAgentEndEvent(meta, s.Name))

	executor := tools.NewToolExecutor(s.Registry, s.Whitelist, tools.WithSink(sink))
	manager := conversation.NewManager(conversation.WithMessages(
		append(conversation.Conversation{conversation.NewSystemMessage(s.systemPrompt())}, state.Messages...)...))

	var lastObservation string
	for step := 0; step < maxSteps; step++ {
		var d decision
		if err := s.Engine.RunStructured(ctx, manager.GetConversation(), decisionSchema, &d); err != nil {
			return errors.Wrapf(err, "specialist %s step %d", s.Name, step)
		}

		switch d.Action {
		case "final":
			state.Answer = d.Answer
			state.Incomplete = d.Incomplete
			state.Messages = append(state.Messages, conversation.NewAssistantMessage(d.Answer))
			return nil

		case "tool":
			call := tools.ToolCall{Name: d.Tool, Arguments: d.Args}
			record, err := executor.Execute(ctx, meta, call)
			if err != nil {
				// boundary rejection: surfaced, never retried
				state.RecordToolCall(record)
				return errors.Wrapf(err, "specialist %s", s.Name)
			}
			state.RecordToolCall(record)

			obs := record.ResultSummary(2000)
			if !record.OK {
				obs = "tool failed: " + record.Error
			}
			lastObservation = obs
			toolMsg := conversation.NewToolMessage(d.Tool, d.Args, obs)
			manager.AppendMessages(toolMsg)
			state.Messages = append(state.Messages, toolMsg)

		case "pipeline":
			run, ok := s.Pipelines[d.Pipeline]
			if !ok {
				return errors.Errorf("specialist %s: unknown pipeline %q", s.Name, d.Pipeline)
			}
			query := d.Query
			if query == "" {
				query = state.Query
			}
			outcome, err := run(ctx, query, sink, meta)
			if err != nil {
				return errors.Wrapf(err, "specialist %s pipeline %s", s.Name, d.Pipeline)
			}
			lastObservation = outcome.Answer
			obs := fmt.Sprintf("pipeline %s result:\n%s", d.Pipeline, outcome.Answer)
			if outcome.Caveated {
				obs += "\n(the pipeline flagged reduced confidence in this result)"
			}
			pipeMsg := conversation.NewToolMessage(d.Pipeline, nil, obs)
			manager.AppendMessages(pipeMsg)
			state.Messages = append(state.Messages, pipeMsg)

		default:
			log.Warn().Str("specialist", s.Name).Str("action", d.Action).Msg("unparseable action, treating as final")
			state.Answer = d.Answer
			if state.Answer == "" {
				state.Answer = lastObservation
			}
			return nil
		}
	}

	// step budget exhausted: best partial answer with a truncation notice
	answer := lastObservation
	if answer == "" {
		answer = "I could not complete this request within the allotted steps."
	}
	state.Answer = answer + "\n\n_Note: the reasoning budget for this request ran out; this is a partial answer._"
	return nil
}

func (s *Specialist) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n\n", s.Name, s.Description)
	b.WriteString("Each step respond with JSON: {\"action\": \"final\", \"answer\": ..., \"incomplete\": bool} to answer, {\"action\": \"tool\", \"tool\": ..., \"args\": {...}} to call a tool, or {\"action\": \"pipeline\", \"pipeline\": ..., \"query\": ...} to run a pipeline.\n")
	b.WriteString("Set \"incomplete\": true only when the question needs a capability you do not have.\n")

	if s.Registry != nil {
		defs := s.Registry.ListTools()
		if len(defs) > 0 {
			b.WriteString("\nTools:\n")
			for _, def := range defs {
				if s.Whitelist != nil && !s.Whitelist.Allows(def.Name) {
					continue
				}
				fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
			}
		}
	}
	if len(s.Pipelines) > 0 {
		names := make([]string, 0, len(s.Pipelines))
		for name := range s.Pipelines {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nPipelines:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return b.String()
}
