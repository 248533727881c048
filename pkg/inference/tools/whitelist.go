package tools

import (
	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

// Whitelist is the closed set of tool name patterns one specialist may call.
// Patterns use glob syntax, so "graph_*" admits every graph tool. A nil
// whitelist admits nothing; use Allow("*") for an unrestricted specialist.
type Whitelist struct {
	patterns []string
}

func NewWhitelist(patterns ...string) *Whitelist {
	return &Whitelist{patterns: patterns}
}

func (w *Whitelist) Allows(name string) bool {
	if w == nil {
		return false
	}
	for _, p := range w.patterns {
		ok, err := glob.Match(p, name)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// Check rejects unknown and non-whitelisted names at the boundary. These are
// fatal for the turn, never retried.
func (w *Whitelist) Check(registry ToolRegistry, name string) error {
	if !w.Allows(name) {
		return &ToolError{ToolName: name, Type: ToolErrorForbidden, Message: "tool " + name + " is not available to this specialist"}
	}
	if _, err := registry.GetTool(name); err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return te
		}
		return err
	}
	return nil
}

func (w *Whitelist) Patterns() []string {
	if w == nil {
		return nil
	}
	out := make([]string, len(w.patterns))
	copy(out, w.patterns)
	return out
}
