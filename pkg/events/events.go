package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart opens a turn. It always precedes every other event of
	// the same turn.
	EventTypeStart EventType = "start"

	// EventTypeModelSelected reports the classifier/registry decision for
	// the turn, before any specialist work begins.
	EventTypeModelSelected EventType = "model-selected"

	// EventTypeRouted reports the supervisor's routing decision. A turn may
	// carry more than one when the supervisor re-routes.
	EventTypeRouted EventType = "routed"

	EventTypeAgentStart EventType = "agent-start"
	EventTypeAgentEnd   EventType = "agent-end"

	EventTypeToolStart EventType = "tool-start"
	EventTypeToolEnd   EventType = "tool-end"

	// EventTypeChunk carries incremental answer text. Chunk size depends on
	// whether the engine streams per token or per message.
	EventTypeChunk EventType = "chunk"

	// EventTypeStatus carries pipeline node telemetry.
	EventTypeStatus EventType = "status"

	EventTypeError EventType = "error"

	// EventTypeDone closes a turn. Nothing is emitted for a turn after it.
	EventTypeDone EventType = "done"
)

// Event is a single immutable observability record.
type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	payload []byte
}

func (e *EventImpl) Type() EventType         { return e.Type_ }
func (e *EventImpl) Metadata() EventMetadata { return e.Metadata_ }
func (e *EventImpl) Payload() []byte         { return e.payload }
func (e *EventImpl) setPayload(b []byte)     { e.payload = b }

var _ Event = &EventImpl{}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_)).Object("meta", e.Metadata_)
}

// EventStart opens a turn.
type EventStart struct {
	EventImpl
	Query string `json:"query"`
}

func NewStartEvent(meta EventMetadata, query string) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: meta},
		Query:     query,
	}
}

var _ Event = &EventStart{}

// EventModelSelected surfaces the model decision as a transparency feature;
// the same query text always produces the same selection.
type EventModelSelected struct {
	EventImpl
	Model       string  `json:"model"`
	DisplayName string  `json:"display_name"`
	Category    string  `json:"category"`
	Temperature float64 `json:"temperature"`
	Reason      string  `json:"reason"`
}

func NewModelSelectedEvent(meta EventMetadata, model, displayName, category string, temperature float64, reason string) *EventModelSelected {
	return &EventModelSelected{
		EventImpl:   EventImpl{Type_: EventTypeModelSelected, Metadata_: meta},
		Model:       model,
		DisplayName: displayName,
		Category:    category,
		Temperature: temperature,
		Reason:      reason,
	}
}

var _ Event = &EventModelSelected{}

type EventRouted struct {
	EventImpl
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
	Hop    int    `json:"hop"`
}

func NewRoutedEvent(meta EventMetadata, target, reason string, hop int) *EventRouted {
	return &EventRouted{
		EventImpl: EventImpl{Type_: EventTypeRouted, Metadata_: meta},
		Target:    target,
		Reason:    reason,
		Hop:       hop,
	}
}

var _ Event = &EventRouted{}

type EventAgentStart struct {
	EventImpl
	Agent string `json:"agent"`
	Task  string `json:"task,omitempty"`
}

func NewAgentStartEvent(meta EventMetadata, agent, task string) *EventAgentStart {
	return &EventAgentStart{
		EventImpl: EventImpl{Type_: EventTypeAgentStart, Metadata_: meta},
		Agent:     agent,
		Task:      task,
	}
}

var _ Event = &EventAgentStart{}

type EventAgentEnd struct {
	EventImpl
	Agent string `json:"agent"`
}

func NewAgentEndEvent(meta EventMetadata, agent string) *EventAgentEnd {
	return &EventAgentEnd{
		EventImpl: EventImpl{Type_: EventTypeAgentEnd, Metadata_: meta},
		Agent:     agent,
	}
}

var _ Event = &EventAgentEnd{}

type EventToolStart struct {
	EventImpl
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

func NewToolStartEvent(meta EventMetadata, tool string, input json.RawMessage) *EventToolStart {
	return &EventToolStart{
		EventImpl: EventImpl{Type_: EventTypeToolStart, Metadata_: meta},
		Tool:      tool,
		Input:     input,
	}
}

var _ Event = &EventToolStart{}

type EventToolEnd struct {
	EventImpl
	Tool       string `json:"tool"`
	OK         bool   `json:"ok"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func NewToolEndEvent(meta EventMetadata, tool string, ok bool, result, errText string, durationMs int64) *EventToolEnd {
	return &EventToolEnd{
		EventImpl:  EventImpl{Type_: EventTypeToolEnd, Metadata_: meta},
		Tool:       tool,
		OK:         ok,
		Result:     result,
		Error:      errText,
		DurationMs: durationMs,
	}
}

var _ Event = &EventToolEnd{}

type EventChunk struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion accumulates the full answer so far, so a renderer that
	// joins late can still show complete text.
	Completion string `json:"completion,omitempty"`
}

func NewChunkEvent(meta EventMetadata, delta, completion string) *EventChunk {
	return &EventChunk{
		EventImpl:  EventImpl{Type_: EventTypeChunk, Metadata_: meta},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventChunk{}

type EventStatus struct {
	EventImpl
	Stage      string `json:"stage"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func NewStatusEvent(meta EventMetadata, stage, message string, durationMs int64) *EventStatus {
	return &EventStatus{
		EventImpl:  EventImpl{Type_: EventTypeStatus, Metadata_: meta},
		Stage:      stage,
		Message:    message,
		DurationMs: durationMs,
	}
}

var _ Event = &EventStatus{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error"`
}

func NewErrorEvent(meta EventMetadata, err error) *EventError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: meta},
		ErrorString: msg,
	}
}

var _ Event = &EventError{}

type EventDone struct {
	EventImpl
	Answer   string `json:"answer"`
	Caveated bool   `json:"caveated,omitempty"`
}

func NewDoneEvent(meta EventMetadata, answer string, caveated bool) *EventDone {
	return &EventDone{
		EventImpl: EventImpl{Type_: EventTypeDone, Metadata_: meta},
		Answer:    answer,
		Caveated:  caveated,
	}
}

var _ Event = &EventDone{}

// NewEventFromJson decodes an event from its wire form, preserving the raw
// payload for re-serialization.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal event: %s", string(b))
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return decodeEvent[EventStart](e, b)
	case EventTypeModelSelected:
		return decodeEvent[EventModelSelected](e, b)
	case EventTypeRouted:
		return decodeEvent[EventRouted](e, b)
	case EventTypeAgentStart:
		return decodeEvent[EventAgentStart](e, b)
	case EventTypeAgentEnd:
		return decodeEvent[EventAgentEnd](e, b)
	case EventTypeToolStart:
		return decodeEvent[EventToolStart](e, b)
	case EventTypeToolEnd:
		return decodeEvent[EventToolEnd](e, b)
	case EventTypeChunk:
		return decodeEvent[EventChunk](e, b)
	case EventTypeStatus:
		return decodeEvent[EventStatus](e, b)
	case EventTypeError:
		return decodeEvent[EventError](e, b)
	case EventTypeDone:
		return decodeEvent[EventDone](e, b)
	}

	return e, nil
}

func decodeEvent[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](base *EventImpl, b []byte) (Event, error) {
	ret := PT(new(T))
	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal %s event", base.Type_)
	}
	ret.setPayload(b)
	return ret, nil
}

// ToTypedEvent safely casts a generic Event to its concrete type.
func ToTypedEvent[T any](e Event) (*T, bool) {
	ev, ok := any(e).(*T)
	if !ok {
		return nil, false
	}
	return ev, true
}
