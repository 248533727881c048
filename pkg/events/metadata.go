package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventMetadata identifies which turn, thread and agent an event belongs to.
// It travels with every event emitted during a conversational turn.
type EventMetadata struct {
	ID       uuid.UUID `json:"id"`
	TurnID   string    `json:"turn_id,omitempty"`
	ThreadID string    `json:"thread_id,omitempty"`
	Agent    string    `json:"agent,omitempty"`
	At       time.Time `json:"at"`

	// Extra carries free-form fields that do not warrant a typed event.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

func NewEventMetadata(turnID, threadID, agent string) EventMetadata {
	return EventMetadata{
		ID:       uuid.New(),
		TurnID:   turnID,
		ThreadID: threadID,
		Agent:    agent,
		At:       time.Now(),
	}
}

var _ zerolog.LogObjectMarshaler = EventMetadata{}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	if em.ID != uuid.Nil {
		e.Str("event_id", em.ID.String())
	}
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if em.ThreadID != "" {
		e.Str("thread_id", em.ThreadID)
	}
	if em.Agent != "" {
		e.Str("agent", em.Agent)
	}
	if len(em.Extra) > 0 {
		e.Interface("extra", em.Extra)
	}
}
