package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/classify"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/memory"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/profiles"
)

const (
	// RouteFinish is the terminal routing sentinel.
	RouteFinish = "FINISH"
	// DefaultMaxHops caps specialist routing per turn.
	DefaultMaxHops = 3
	// DefaultHistoryTokenBudget caps how much thread history is replayed
	// into a turn's prompt.
	DefaultHistoryTokenBudget = 4000
)

// EngineFactory binds an inference engine to a model selection. The
// Supervisor uses it once per turn, after the classifier picks a profile.
type EngineFactory func(selection profiles.ModelSelection) engine.StructuredEngine

// Supervisor drives one conversational turn: classify the query, select a
// model, route to specialists via a structured model choice, and persist
// the exchange. Routing decisions and model selections hit the event
// stream before the specialist runs.
type Supervisor struct {
	Profiles    *profiles.Registry
	Engines     EngineFactory
	Specialists map[string]*Specialist
	// Fallback is routed to when the routing choice is unparseable; a
	// second unparseable choice finishes the turn.
	Fallback string
	Memory   memory.ThreadStore
	Sink     events.Sink
	MaxHops  int
	// Tokens, when set, trims replayed thread history to HistoryTokenBudget
	// tokens before the turn starts.
	Tokens             *memory.TokenCounter
	HistoryTokenBudget int
}

type routeChoice struct {
	Route  string `json:"route"`
	Reason string `json:"reason,omitempty"`
}

var routeSchema = []byte(`{"type":"object","properties":{"route":{"type":"string"},"reason":{"type":"string"}},"required":["route"]}`)

// RunTurn executes one turn. An empty threadID runs the turn against a
// throwaway thread that is deleted afterwards.
func (s *Supervisor) RunTurn(ctx context.Context, query, threadID string) (*AgentState, error) {
	sink := s.Sink
	if sink == nil {
		sink = events.NullSink{}
	}
	return s.RunTurnWithSink(ctx, query, threadID, sink)
}

// RunTurnWithSink runs one turn with a caller-supplied sink, so a transport
// can stream the turn's events to a single consumer.
func (s *Supervisor) RunTurnWithSink(ctx context.Context, query, threadID string, sink events.Sink) (*AgentState, error) {
	turnID := uuid.New().String()

	ephemeral := threadID == ""
	if ephemeral && s.Memory != nil {
		id, err := s.Memory.NewThread("(ephemeral)")
		if err != nil {
			return nil, errors.Wrap(err, "create ephemeral thread")
		}
		threadID = id
		defer func() {
			if err := s.Memory.Delete(id); err != nil {
				log.Warn().Str("thread_id", id).Err(err).Msg("delete ephemeral thread")
			}
		}()
	}

	meta := events.NewEventMetadata(turnID, threadID, "supervisor")
	state := NewAgentState(query, threadID, turnID)
	s.loadHistory(state)

	sink.PublishBlind(events.NewStartEvent(meta, query))

	state.Classification = classify.Classify(query)
	state.Model = s.Profiles.Select(state.Classification)
	sink.PublishBlind(events.NewModelSelectedEvent(meta,
		state.Model.ModelID, state.Model.DisplayName,
		string(state.Model.Category), state.Model.Temperature, state.Model.Reason))

	eng := s.Engines(state.Model)

	maxHops := s.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	rerouted := false
	fallbackUsed := false
	for hop := 0; hop < maxHops; hop++ {
		choice := s.route(ctx, eng, state, hop)
		if !s.validRoute(choice.Route) {
			if fallbackUsed || s.Fallback == "" {
				choice = routeChoice{Route: RouteFinish, Reason: "routing fallback exhausted"}
			} else {
				log.Warn().Str("route", choice.Route).Msg("unparseable routing choice, using fallback specialist")
				choice = routeChoice{Route: s.Fallback, Reason: "fallback after unparseable routing choice"}
				fallbackUsed = true
			}
		}
		if choice.Route == RouteFinish {
			break
		}

		state.Route = choice.Route
		sink.PublishBlind(events.NewRoutedEvent(meta, choice.Route, choice.Reason, hop+1))

		specialist := s.Specialists[choice.Route]
		if err := specialist.Run(ctx, state, sink, meta); err != nil {
			sink.PublishBlind(events.NewErrorEvent(meta, err))
			state.Answer = "Something went wrong while handling this request: " + err.Error()
			sink.PublishBlind(events.NewDoneEvent(meta, state.Answer, true))
			return state, err
		}

		// one re-route when the specialist flags its answer as incomplete
		if state.Incomplete && !rerouted {
			rerouted = true
			state.Incomplete = false
			continue
		}
		break
	}

	streamed := false
	if state.Answer == "" {
		var err error
		streamed, err = s.answerDirectly(ctx, eng, state, sink, meta)
		if err != nil {
			sink.PublishBlind(events.NewErrorEvent(meta, err))
			state.Answer = "Something went wrong while handling this request: " + err.Error()
			sink.PublishBlind(events.NewDoneEvent(meta, state.Answer, true))
			return state, err
		}
	}
	if !streamed && state.Answer != "" {
		sink.PublishBlind(events.NewChunkEvent(meta, state.Answer, state.Answer))
	}

	if !ephemeral {
		s.persistTurn(state)
	}

	sink.PublishBlind(events.NewDoneEvent(meta, state.Answer, false))
	return state, nil
}

func (s *Supervisor) loadHistory(state *AgentState) {
	if s.Memory == nil || state.ThreadID == "" {
		return
	}
	thread, err := s.Memory.Get(state.ThreadID)
	if err != nil {
		return
	}
	history := thread.Messages
	if s.Tokens != nil {
		budget := s.HistoryTokenBudget
		if budget <= 0 {
			budget = DefaultHistoryTokenBudget
		}
		history = s.Tokens.TrimToTokenBudget(history, budget)
	}
	state.Messages = append(append(conversation.Conversation{}, history...), state.Messages...)
}

func (s *Supervisor) persistTurn(state *AgentState) {
	if s.Memory == nil || state.ThreadID == "" {
		return
	}
	msgs := []*conversation.Message{
		conversation.NewUserMessage(state.Query),
		conversation.NewAssistantMessage(state.Answer),
	}
	if err := s.Memory.Append(state.ThreadID, msgs...); err != nil {
		log.Warn().Str("thread_id", state.ThreadID).Err(err).Msg("persist turn")
		return
	}
	// Append stores messages; Touch is what moves last-active and the
	// message count, which the eviction policy keys on.
	count := len(msgs)
	if thread, err := s.Memory.Get(state.ThreadID); err == nil {
		count = len(thread.Messages)
	}
	if err := s.Memory.Touch(state.ThreadID, count); err != nil {
		log.Warn().Str("thread_id", state.ThreadID).Err(err).Msg("touch thread")
	}
}

// route asks the model for a structured choice among the specialist names
// plus FINISH. Any failure yields an empty choice, which the caller treats
// as unparseable.
func (s *Supervisor) route(ctx context.Context, eng engine.StructuredEngine, state *AgentState, hop int) routeChoice {
	names := s.specialistNames()

	var b strings.Builder
	fmt.Fprintf(&b, "Pick the next worker for this conversation, or %s when it is fully answered. Respond as JSON {\"route\": ..., \"reason\": ...}. Options: %s, %s.\n\n",
		RouteFinish, strings.Join(names, ", "), RouteFinish)
	for _, sp := range names {
		fmt.Fprintf(&b, "- %s: %s\n", sp, firstSentence(s.Specialists[sp].Description))
	}
	fmt.Fprintf(&b, "\nConversation so far:\n%s", state.Messages.GetSinglePrompt())
	if hop > 0 {
		b.WriteString("\nThe previous worker's answer was incomplete; pick a different one or FINISH.")
	}

	var choice routeChoice
	if err := eng.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(b.String())}, routeSchema, &choice); err != nil {
		log.Debug().Err(err).Msg("routing model call failed")
		return routeChoice{}
	}
	choice.Route = strings.TrimSpace(choice.Route)
	return choice
}

// answerDirectly produces an answer without a specialist. When the engine
// streams, each delta goes out as a chunk event and the returned bool is
// true; the caller then skips the whole-message chunk.
func (s *Supervisor) answerDirectly(ctx context.Context, eng engine.Engine, state *AgentState, sink events.Sink, meta events.EventMetadata) (bool, error) {
	if streamer, ok := eng.(engine.StreamingEngine); ok {
		completion := ""
		conv, err := streamer.RunInferenceStream(ctx, state.Messages, func(delta string) {
			completion += delta
			sink.PublishBlind(events.NewChunkEvent(meta, delta, completion))
		})
		if err != nil {
			return false, errors.Wrap(err, "direct answer")
		}
		state.Answer = conv.LastAssistantText()
		state.Messages = conv
		return true, nil
	}

	conv, err := eng.RunInference(ctx, state.Messages)
	if err != nil {
		return false, errors.Wrap(err, "direct answer")
	}
	state.Answer = conv.LastAssistantText()
	state.Messages = conv
	return false, nil
}

func (s *Supervisor) validRoute(route string) bool {
	if route == RouteFinish {
		return true
	}
	_, ok := s.Specialists[route]
	return ok
}

func (s *Supervisor) specialistNames() []string {
	names := make([]string, 0, len(s.Specialists))
	for name := range s.Specialists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstSentence(text string) string {
	if i := strings.IndexByte(text, '.'); i >= 0 {
		return text[:i+1]
	}
	return text
}
