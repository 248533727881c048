package conversation

import (
	"sync"

	"github.com/google/uuid"
)

// Manager defines the interface for conversation management over one turn.
type Manager interface {
	GetConversation() Conversation
	AppendMessages(msgs ...*Message)
	GetMessage(id uuid.UUID) (*Message, bool)
}

type ManagerImpl struct {
	mu       sync.RWMutex
	messages Conversation
	byID     map[uuid.UUID]*Message
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithMessages(messages ...*Message) ManagerOption {
	return func(m *ManagerImpl) {
		m.AppendMessages(messages...)
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	m := &ManagerImpl{
		byID: make(map[uuid.UUID]*Message),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *ManagerImpl) GetConversation() Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Conversation, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *ManagerImpl) AppendMessages(msgs ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		m.messages = append(m.messages, msg)
		m.byID[msg.ID] = msg
	}
}

func (m *ManagerImpl) GetMessage(id uuid.UUID) (*Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.byID[id]
	return msg, ok
}
