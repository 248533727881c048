package pipelines

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/embeddings"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

// FusionConfig carries the candidate ranker's path weights.
type FusionConfig struct {
	TopK         int     `mapstructure:"top_k"`
	VectorWeight float64 `mapstructure:"vector_weight"`
	GraphWeight  float64 `mapstructure:"graph_weight"`
}

func DefaultFusionConfig() FusionConfig {
	return FusionConfig{TopK: 8, VectorWeight: 0.6, GraphWeight: 0.4}
}

// RankedCandidate is one person after fusing the semantic and relationship
// evidence paths. Score is always in [0, 1].
type RankedCandidate struct {
	Name          string   `json:"name"`
	Score         float64  `json:"score"`
	VectorScore   float64  `json:"vector_score"`
	GraphScore    float64  `json:"graph_score"`
	Sources       []string `json:"sources"`
	Evidence      string   `json:"evidence,omitempty"`
	Justification string   `json:"justification,omitempty"`
}

// Fusion ranks people for a staffing question by running the semantic
// (vector) and relationship (graph) evidence paths concurrently, fusing
// scores by fixed weights, and asking one model call for per-candidate
// justifications plus a summary. It runs straight through with no
// refinement loop.
type Fusion struct {
	Writer   engine.StructuredEngine
	Embedder embeddings.Provider
	Vector   stores.VectorSearcher
	Graph    stores.CandidateFinder
	Config   FusionConfig
}

type fusionState struct {
	vectorDocs []stores.Document
	graphCands []stores.GraphCandidate
	ranked     []RankedCandidate
	summary    string
}

var justifySchema = []byte(`{"type":"object","properties":{"summary":{"type":"string"},"justifications":{"type":"object","additionalProperties":{"type":"string"}}},"required":["summary"]}`)

func (p *Fusion) Run(ctx context.Context, query string, sink events.Sink, meta events.EventMetadata) (Outcome, error) {
	cfg := p.Config
	if cfg.VectorWeight == 0 && cfg.GraphWeight == 0 {
		cfg = DefaultFusionConfig()
	}

	s := &fusionState{}
	r := NewRunner("fusion", 0, WithSink(sink, meta))

	r.AddNode("gather", Node{
		Run: func(ctx context.Context) error {
			if p.Vector == nil || p.Graph == nil || p.Embedder == nil {
				return errors.Wrap(stores.ErrStore, "fusion requires the vector and graph stores")
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				vec, err := p.Embedder.GenerateEmbedding(gctx, query)
				if err != nil {
					return err
				}
				docs, err := p.Vector.Search(gctx, vec, cfg.TopK)
				if err != nil {
					return err
				}
				s.vectorDocs = docs
				return nil
			})
			g.Go(func() error {
				cands, err := p.Graph.FindCandidates(gctx, query, cfg.TopK)
				if err != nil {
					return err
				}
				s.graphCands = cands
				return nil
			})
			return g.Wait()
		},
		Next: func() string { return "fuse" },
	})

	r.AddNode("fuse", Node{
		Run: func(ctx context.Context) error {
			s.ranked = fuseCandidates(s.vectorDocs, s.graphCands, cfg)
			return nil
		},
		Next: func() string {
			if len(s.ranked) == 0 {
				return ""
			}
			return "justify"
		},
	})

	r.AddNode("justify", Node{
		Run: func(ctx context.Context) error {
			err := p.justify(ctx, query, s)
			var eval Evaluation
			if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
				return ferr
			}
			// a failed justification call leaves the ranking usable
			return nil
		},
	})

	if err := r.Run(ctx); err != nil {
		return Outcome{}, err
	}

	if len(s.ranked) == 0 {
		return Outcome{Answer: "No candidates matched this request in either the profile index or the org graph."}, nil
	}
	return Outcome{Answer: formatRanking(s)}, nil
}

// fuseCandidates merges the two evidence paths. Candidates present in both
// get the weighted sum of their path scores; candidates seen by only one
// path keep that path's weighted score, so cross-validated candidates
// always outrank single-path ones at equal raw scores.
func fuseCandidates(docs []stores.Document, cands []stores.GraphCandidate, cfg FusionConfig) []RankedCandidate {
	byName := map[string]*RankedCandidate{}

	for _, d := range docs {
		name := strings.TrimSpace(d.Title)
		if name == "" {
			continue
		}
		c, ok := byName[name]
		if !ok {
			c = &RankedCandidate{Name: name}
			byName[name] = c
		}
		if d.Similarity > c.VectorScore {
			c.VectorScore = clampUnit(d.Similarity)
		}
		c.Sources = appendSource(c.Sources, "profile")
	}

	for _, g := range cands {
		c, ok := byName[g.Name]
		if !ok {
			c = &RankedCandidate{Name: g.Name}
			byName[g.Name] = c
		}
		if g.Score > c.GraphScore {
			c.GraphScore = clampUnit(g.Score)
		}
		c.Evidence = g.Evidence
		c.Sources = appendSource(c.Sources, "graph")
	}

	ranked := make([]RankedCandidate, 0, len(byName))
	for _, c := range byName {
		c.Score = cfg.VectorWeight*c.VectorScore + cfg.GraphWeight*c.GraphScore
		ranked = append(ranked, *c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > cfg.TopK {
		ranked = ranked[:cfg.TopK]
	}
	return ranked
}

func appendSource(sources []string, s string) []string {
	for _, existing := range sources {
		if existing == s {
			return sources
		}
	}
	return append(sources, s)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// justify is the single model call of the pipeline: per-candidate
// justifications and an overall summary, in one structured response.
func (p *Fusion) justify(ctx context.Context, query string, s *fusionState) error {
	var b strings.Builder
	for _, c := range s.ranked {
		b.WriteString(fmt.Sprintf("- %s (score %.2f, via %s)", c.Name, c.Score, strings.Join(c.Sources, "+")))
		if c.Evidence != "" {
			b.WriteString(": " + c.Evidence)
		}
		b.WriteString("\n")
	}

	prompt := fmt.Sprintf(
		"For this staffing request, write a one-sentence justification per candidate and a short overall summary. Respond as JSON {\"summary\": \"...\", \"justifications\": {\"<name>\": \"...\"}}.\n\nRequest: %s\n\nCandidates:\n%s",
		query, b.String(),
	)
	var out struct {
		Summary        string            `json:"summary"`
		Justifications map[string]string `json:"justifications"`
	}
	if err := p.Writer.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)}, justifySchema, &out); err != nil {
		return err
	}
	s.summary = out.Summary
	for i := range s.ranked {
		if j, ok := out.Justifications[s.ranked[i].Name]; ok {
			s.ranked[i].Justification = j
		}
	}
	return nil
}

func formatRanking(s *fusionState) string {
	var b strings.Builder
	if s.summary != "" {
		b.WriteString(s.summary)
		b.WriteString("\n\n")
	}
	for i, c := range s.ranked {
		b.WriteString(fmt.Sprintf("%d. **%s** (score %.2f, %s)", i+1, c.Name, c.Score, strings.Join(c.Sources, " + ")))
		if c.Justification != "" {
			b.WriteString(" - " + c.Justification)
		} else if c.Evidence != "" {
			b.WriteString(" - " + c.Evidence)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
