package profiles

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/classify"
)

// ModelSelection is what the registry hands back for a task category. It is
// surfaced verbatim to the user as a transparency feature.
type ModelSelection struct {
	ModelID     string                `json:"model_id" yaml:"model_id"`
	DisplayName string                `json:"display_name" yaml:"display_name"`
	Temperature float64               `json:"temperature" yaml:"temperature"`
	Category    classify.TaskCategory `json:"category" yaml:"category"`
	Reason      string                `json:"reason" yaml:"reason"`
}

// Registry maps task categories to model profiles. It is built once at
// startup and never mutated afterwards; share it freely across turns.
type Registry struct {
	profiles map[classify.TaskCategory]ModelSelection
	fallback ModelSelection
}

// DefaultProfiles mirrors the production routing table for an
// OpenAI-compatible hosted endpoint.
func DefaultProfiles() map[classify.TaskCategory]ModelSelection {
	return map[classify.TaskCategory]ModelSelection{
		classify.CategoryCodeAnalysis: {
			ModelID:     "deepseek-ai/DeepSeek-Coder-V2-Lite-Instruct",
			DisplayName: "DeepSeek Coder V2",
			Temperature: 0.0,
			Category:    classify.CategoryCodeAnalysis,
		},
		classify.CategoryAnalytics: {
			ModelID:     "meta-llama/Meta-Llama-3.1-70B-Instruct",
			DisplayName: "Llama 3.1 70B",
			Temperature: 0.1,
			Category:    classify.CategoryAnalytics,
		},
		classify.CategoryPlanning: {
			ModelID:     "Qwen/Qwen2-72B-Instruct",
			DisplayName: "Qwen 72B",
			Temperature: 0.1,
			Category:    classify.CategoryPlanning,
		},
		classify.CategoryQuickLookup: {
			ModelID:     "NousResearch/Hermes-3-Llama-3.1-8B",
			DisplayName: "Hermes 3 8B",
			Temperature: 0.1,
			Category:    classify.CategoryQuickLookup,
		},
		classify.CategoryGeneral: {
			ModelID:     "Qwen/Qwen2-72B-Instruct",
			DisplayName: "Qwen 72B",
			Temperature: 0.1,
			Category:    classify.CategoryGeneral,
		},
	}
}

func NewRegistry(profiles map[classify.TaskCategory]ModelSelection) (*Registry, error) {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	fallback, ok := profiles[classify.CategoryGeneral]
	if !ok {
		return nil, errors.New("profile table must contain the general fallback category")
	}
	// copy so callers can't mutate the table after construction
	copied := make(map[classify.TaskCategory]ModelSelection, len(profiles))
	for k, v := range profiles {
		copied[k] = v
	}
	return &Registry{profiles: copied, fallback: fallback}, nil
}

func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(nil)
	if err != nil {
		// DefaultProfiles always contains the fallback row
		panic(err)
	}
	return r
}

// LoadRegistry reads a YAML profile table, filling gaps from the defaults.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profile table %s", path)
	}
	var loaded map[classify.TaskCategory]ModelSelection
	if err := yaml.Unmarshal(b, &loaded); err != nil {
		return nil, errors.Wrapf(err, "parse profile table %s", path)
	}
	profiles := DefaultProfiles()
	for k, v := range loaded {
		if v.Category == "" {
			v.Category = k
		}
		profiles[k] = v
	}
	return NewRegistry(profiles)
}

// Select is a pure lookup and never fails: unknown categories get the
// general fallback profile. The classification reason is carried into the
// selection so both travel together downstream.
func (r *Registry) Select(c classify.Classification) ModelSelection {
	sel, ok := r.profiles[c.Category]
	if !ok {
		sel = r.fallback
	}
	sel.Reason = c.Reason
	return sel
}
