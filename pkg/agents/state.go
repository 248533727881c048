package agents

import (
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/classify"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/tools"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/profiles"
)

// AgentState is the unit of work for one conversational turn. It is owned
// by the Supervisor for the duration of the turn and never shared across
// threads.
type AgentState struct {
	Query string
	// ThreadID is empty for ephemeral, non-persisted turns.
	ThreadID string
	TurnID   string

	Classification classify.Classification
	Model          profiles.ModelSelection

	// Route is the specialist chosen for the current hop, or RouteFinish.
	Route string

	Messages conversation.Conversation
	ToolLog  []tools.ToolCallRecord

	Answer string
	// Incomplete is set by a specialist whose answer needs another hop.
	Incomplete bool
}

func NewAgentState(query, threadID, turnID string) *AgentState {
	return &AgentState{
		Query:    query,
		ThreadID: threadID,
		TurnID:   turnID,
		Messages: conversation.Conversation{conversation.NewUserMessage(query)},
	}
}

// RecordToolCall appends to the turn's tool log.
func (s *AgentState) RecordToolCall(record tools.ToolCallRecord) {
	s.ToolLog = append(s.ToolLog, record)
}
