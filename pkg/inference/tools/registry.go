package tools

import (
	"sync"

	"github.com/pkg/errors"
)

// ToolRegistry manages the tools available to a specialist.
type ToolRegistry interface {
	RegisterTool(name string, tool ToolDefinition) error
	UnregisterTool(name string) error
	GetTool(name string) (*ToolDefinition, error)
	ListTools() []ToolDefinition
	Clone() ToolRegistry
}

// InMemoryToolRegistry is a thread-safe map-backed registry.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
}

var _ ToolRegistry = (*InMemoryToolRegistry)(nil)

func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{
		tools: make(map[string]ToolDefinition),
	}
}

func (r *InMemoryToolRegistry) RegisterTool(name string, tool ToolDefinition) error {
	if name == "" {
		name = tool.Name
	}
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tool.Name = name
	r.tools[name] = tool
	return nil
}

func (r *InMemoryToolRegistry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return errors.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	return nil
}

func (r *InMemoryToolRegistry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, &ToolError{ToolName: name, Type: ToolErrorNotFound, Message: "unknown tool " + name}
	}
	cp := tool
	return &cp, nil
}

func (r *InMemoryToolRegistry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

func (r *InMemoryToolRegistry) Clone() ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewInMemoryToolRegistry()
	for name, tool := range r.tools {
		clone.tools[name] = tool
	}
	return clone
}
