package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one role-tagged turn in a conversation. Tool observations carry
// the tool name and raw input alongside the textual result.
type Message struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`

	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func NewMessage(role Role, text string, options ...MessageOption) *Message {
	m := &Message{
		ID:   uuid.New(),
		Role: role,
		Text: text,
		Time: time.Now(),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func NewSystemMessage(text string, options ...MessageOption) *Message {
	return NewMessage(RoleSystem, text, options...)
}

func NewUserMessage(text string, options ...MessageOption) *Message {
	return NewMessage(RoleUser, text, options...)
}

func NewAssistantMessage(text string, options ...MessageOption) *Message {
	return NewMessage(RoleAssistant, text, options...)
}

// NewToolMessage records a tool observation: the result text the model sees
// on its next step.
func NewToolMessage(toolName string, input json.RawMessage, result string, options ...MessageOption) *Message {
	m := NewMessage(RoleTool, result, options...)
	m.ToolName = toolName
	m.ToolInput = input
	return m
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

// Conversation is an ordered list of messages, oldest first.
type Conversation []*Message

func (c Conversation) GetSinglePrompt() string {
	if len(c) == 0 {
		return ""
	}
	if len(c) == 1 {
		return c[0].Text
	}
	parts := make([]string, 0, len(c))
	for _, m := range c {
		parts = append(parts, m.View())
	}
	return strings.Join(parts, "\n")
}

// LastAssistantText returns the text of the most recent assistant message,
// or the empty string when there is none.
func (c Conversation) LastAssistantText() string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleAssistant {
			return c[i].Text
		}
	}
	return ""
}
