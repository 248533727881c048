package pipelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/embeddings"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/prompts"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

// RAGConfig carries the self-correcting retrieval pipeline's ceilings and
// thresholds.
type RAGConfig struct {
	MaxRetries      int     `mapstructure:"max_retries"`
	TopK            int     `mapstructure:"top_k"`
	SimilarityFloor float64 `mapstructure:"similarity_floor"`
	// FallbackFloor admits documents when the grading model itself fails.
	FallbackFloor float64 `mapstructure:"fallback_floor"`
}

func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		MaxRetries:      2,
		TopK:            8,
		SimilarityFloor: 0.25,
		FallbackFloor:   0.40,
	}
}

// RAG is the self-correcting retrieval-and-answer pipeline: retrieve, grade
// relevance per document, rewrite the query when nothing relevant comes
// back, and gate the final answer behind a hallucination check.
type RAG struct {
	Generator engine.Engine
	Evaluator engine.StructuredEngine
	Embedder  embeddings.Provider
	Vector    stores.VectorSearcher
	Config    RAGConfig
}

type ragState struct {
	originalQuery string
	currentQuery  string
	retrieved     []stores.Document
	relevant      []stores.Document
	answer        string
	grounded      Evaluation
	caveated      bool
}

var relevanceSchema = []byte(`{"type":"object","properties":{"relevant":{"type":"boolean"}},"required":["relevant"]}`)
var groundedSchema = []byte(`{"type":"object","properties":{"grounded":{"type":"boolean"},"justification":{"type":"string"}},"required":["grounded"]}`)
var rewriteSchema = []byte(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)

const ragAnswerPrompt = `Answer the question using only the numbered context passages below. Cite passage numbers inline. If the context does not contain the answer, say so.

Question: {{ .Query }}

Context:
{{ range $i, $d := .Docs }}[{{ add $i 1 }}] {{ $d.Title }}: {{ $d.Content }}
{{ end }}`

func (p *RAG) Run(ctx context.Context, query string, sink events.Sink, meta events.EventMetadata) (Outcome, error) {
	cfg := p.Config
	if cfg.MaxRetries == 0 && cfg.TopK == 0 {
		cfg = DefaultRAGConfig()
	}

	s := &ragState{originalQuery: query, currentQuery: query}
	r := NewRunner("rag", cfg.MaxRetries, WithSink(sink, meta))

	r.AddNode("retrieve", Node{
		Run: func(ctx context.Context) error {
			docs, err := p.retrieveOnce(ctx, s.currentQuery, cfg.TopK)
			if err != nil {
				// one transparent retry before the failure surfaces
				docs, err = p.retrieveOnce(ctx, s.currentQuery, cfg.TopK)
			}
			if err != nil {
				return err
			}
			s.retrieved = docs
			return nil
		},
		Next: func() string { return "grade" },
	})

	r.AddNode("grade", Node{
		Run: func(ctx context.Context) error {
			s.relevant = p.gradeDocuments(ctx, s.currentQuery, s.retrieved, cfg)
			return nil
		},
		Next: func() string {
			if len(s.relevant) > 0 {
				return "generate"
			}
			return "rewrite"
		},
	})

	r.AddNode("rewrite", Node{
		Refine: true,
		Run: func(ctx context.Context) error {
			rewritten, err := p.rewriteQuery(ctx, s)
			if err != nil {
				return err
			}
			s.currentQuery = rewritten
			return nil
		},
		Next: func() string { return "retrieve" },
	})

	r.AddNode("generate", Node{
		Run: func(ctx context.Context) error {
			docs := s.relevant
			if len(docs) == 0 {
				docs = s.retrieved
				s.caveated = true
			}
			answer, err := p.generateAnswer(ctx, s.originalQuery, docs)
			if err != nil {
				var eval Evaluation
				if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
					return ferr
				}
				s.answer = ""
				return nil
			}
			s.answer = answer
			return nil
		},
		Next: func() string {
			if s.answer == "" {
				return "rewrite"
			}
			return "check"
		},
	})

	r.AddNode("check", Node{
		Run: func(ctx context.Context) error {
			eval, err := p.checkGrounded(ctx, s)
			if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
				return ferr
			}
			s.grounded = eval
			return nil
		},
		Next: func() string {
			if s.grounded.Verdict == VerdictPass {
				return ""
			}
			return "rewrite"
		},
	})

	r.AddNode("caveat", Node{
		Run: func(ctx context.Context) error {
			if s.answer == "" && len(s.retrieved) > 0 {
				answer, err := p.generateAnswer(ctx, s.originalQuery, s.retrieved)
				if err == nil {
					s.answer = answer
				}
			}
			if s.answer == "" {
				s.answer = "I could not find grounded information to answer this question."
			}
			s.answer += "\n\n_Note: this answer could not be fully verified against the retrieved sources._"
			s.caveated = true
			return nil
		},
	})
	r.AtCeiling("caveat")

	if err := r.Run(ctx); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Answer:    s.answer,
		Caveated:  s.caveated || r.Exhausted(),
		Exhausted: r.Exhausted(),
		Retries:   r.Retries(),
	}, nil
}

func (p *RAG) retrieveOnce(ctx context.Context, query string, topK int) ([]stores.Document, error) {
	if p.Vector == nil || p.Embedder == nil {
		return nil, errors.Wrap(stores.ErrStore, "vector store not configured")
	}
	vec, err := p.Embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	return p.Vector.Search(ctx, vec, topK)
}

// gradeDocuments keeps documents the evaluator judges relevant, after
// dropping everything below the similarity floor. When grading itself
// fails, documents above the fallback floor are admitted instead.
func (p *RAG) gradeDocuments(ctx context.Context, query string, docs []stores.Document, cfg RAGConfig) []stores.Document {
	var relevant []stores.Document
	gradingFailed := false

	for _, doc := range docs {
		if doc.Similarity < cfg.SimilarityFloor {
			continue
		}
		var out struct {
			Relevant bool `json:"relevant"`
		}
		prompt := fmt.Sprintf(
			"Does this document help answer the question? Respond as JSON {\"relevant\": true|false}.\n\nQuestion: %s\n\nDocument: %s",
			query, doc.Content,
		)
		err := p.Evaluator.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)}, relevanceSchema, &out)
		if err != nil {
			gradingFailed = true
			continue
		}
		if out.Relevant {
			relevant = append(relevant, doc)
		}
	}

	if gradingFailed && len(relevant) == 0 {
		log.Debug().Msg("relevance grading failed, falling back to similarity threshold")
		for _, doc := range docs {
			if doc.Similarity >= cfg.FallbackFloor {
				relevant = append(relevant, doc)
			}
		}
	}
	return relevant
}

func (p *RAG) rewriteQuery(ctx context.Context, s *ragState) (string, error) {
	prompt := fmt.Sprintf(
		"The query %q returned no relevant documents. Paraphrase it for better recall, keeping the intent. Respond as JSON {\"query\": \"...\"}.",
		s.currentQuery,
	)
	var out struct {
		Query string `json:"query"`
	}
	err := p.Evaluator.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)}, rewriteSchema, &out)
	if err != nil || strings.TrimSpace(out.Query) == "" {
		// an unusable rewrite keeps the previous query; the retry ceiling
		// still bounds the loop
		return s.currentQuery, nil
	}
	return out.Query, nil
}

func (p *RAG) generateAnswer(ctx context.Context, query string, docs []stores.Document) (string, error) {
	prompt, err := prompts.Render("rag-answer", ragAnswerPrompt, map[string]interface{}{
		"Query": query,
		"Docs":  docs,
	})
	if err != nil {
		return "", err
	}
	conv, err := p.Generator.RunInference(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return conv.LastAssistantText(), nil
}

// checkGrounded verifies the answer against only the retrieved text; the
// generator never judges its own work.
func (p *RAG) checkGrounded(ctx context.Context, s *ragState) (Evaluation, error) {
	var docText strings.Builder
	for _, d := range s.relevant {
		docText.WriteString(d.Content)
		docText.WriteString("\n")
	}
	prompt := fmt.Sprintf(
		"Is every claim in this answer supported by the source text? Respond as JSON {\"grounded\": true|false, \"justification\": \"...\"}.\n\nAnswer: %s\n\nSources:\n%s",
		s.answer, docText.String(),
	)
	var out struct {
		Grounded      bool   `json:"grounded"`
		Justification string `json:"justification"`
	}
	err := p.Evaluator.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)}, groundedSchema, &out)
	if err != nil {
		return Evaluation{}, err
	}
	verdict := VerdictFail
	if out.Grounded {
		verdict = VerdictPass
	}
	return Evaluation{Verdict: verdict, Justification: out.Justification}, nil
}
