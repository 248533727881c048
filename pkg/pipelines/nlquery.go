package pipelines

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

// QueryTarget names which backing store a natural-language question should
// be answered from.
type QueryTarget string

const (
	TargetRelational QueryTarget = "relational"
	TargetColumnar   QueryTarget = "columnar"
	TargetGraph      QueryTarget = "graph"
)

// NLQueryConfig carries the text-to-query pipeline's retry ceiling.
type NLQueryConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	// MaxRowsInPrompt bounds how many result rows are shown to the
	// summarizing model.
	MaxRowsInPrompt int `mapstructure:"max_rows_in_prompt"`
}

func DefaultNLQueryConfig() NLQueryConfig {
	return NLQueryConfig{MaxRetries: 3, MaxRowsInPrompt: 20}
}

// NLQuery turns a natural-language question into a validated, executed
// query against one of the three stores, refining the query from runtime
// errors up to the retry ceiling.
type NLQuery struct {
	Generator  engine.Engine
	Chooser    engine.StructuredEngine
	Relational stores.RowQuerier
	Columnar   stores.RowQuerier
	Graph      stores.CypherRunner
	Config     NLQueryConfig
}

type nlqueryState struct {
	question  string
	target    QueryTarget
	query     string
	lastError string
	rows      stores.Rows
	summary   string
	failed    bool
}

var targetSchema = []byte(`{"type":"object","properties":{"store":{"type":"string","enum":["relational","columnar","graph"]}},"required":["store"]}`)

var codeBlockRe = regexp.MustCompile("(?s)```(?:sql|cypher)?\\s*(.*?)```")

const relationalSchemaDoc = `PostgreSQL tables:
  employees(id, name, role, team_id, hired_at)
  teams(id, name)
  projects(id, name, status, team_id, started_at)
  project_assignments(employee_id, project_id, allocation)
  embeddings(id, source_id, vector)`

const columnarSchemaDoc = `ClickHouse tables:
  events(ts, kind, actor, repo, payload)
  dora_daily_metrics(day, deployment_frequency, lead_time_hours, change_failure_rate, mttr_hours)`

const graphSchemaDoc = `Neo4j graph:
  (Person {name, role})-[:EXPERT_IN {level}]->(Skill {name})
  (Person)-[:CONTRIBUTED_TO {commits}]->(Project {name})
  (Person)-[:COLLABORATES_WITH {interactions}]->(Person)`

func (p *NLQuery) Run(ctx context.Context, question string, sink events.Sink, meta events.EventMetadata) (Outcome, error) {
	cfg := p.Config
	if cfg.MaxRetries == 0 {
		cfg = DefaultNLQueryConfig()
	}

	s := &nlqueryState{question: question}
	r := NewRunner("nlquery", cfg.MaxRetries, WithSink(sink, meta))

	r.AddNode("identify", Node{
		Run: func(ctx context.Context) error {
			s.target = p.identifyTarget(ctx, question)
			return nil
		},
		Next: func() string { return "generate" },
	})

	r.AddNode("generate", Node{
		Run: func(ctx context.Context) error {
			query, err := p.generateQuery(ctx, s)
			if err != nil {
				var eval Evaluation
				if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
					return ferr
				}
				s.lastError = "query generation failed: " + eval.Justification
				s.query = ""
				return nil
			}
			s.query = query
			return nil
		},
		Next: func() string {
			if s.query == "" {
				return "fix"
			}
			return "validate"
		},
	})

	r.AddNode("validate", Node{
		Run: func(ctx context.Context) error {
			if err := validateForTarget(s.target, s.query); err != nil {
				s.lastError = err.Error()
				s.failed = true
				return nil
			}
			s.failed = false
			return nil
		},
		Next: func() string {
			if s.failed {
				return "fix"
			}
			return "execute"
		},
	})

	r.AddNode("execute", Node{
		Run: func(ctx context.Context) error {
			rows, err := p.executeQuery(ctx, s.target, s.query)
			if err != nil {
				s.lastError = err.Error()
				s.failed = true
				return nil
			}
			s.rows = rows
			s.failed = false
			return nil
		},
		Next: func() string {
			if s.failed {
				return "fix"
			}
			return "summarize"
		},
	})

	// fix sits on the loop-back edge only; the error text travels through
	// state into the next generation prompt.
	r.AddNode("fix", Node{
		Refine: true,
		Run:    func(ctx context.Context) error { return nil },
		Next:   func() string { return "generate" },
	})

	r.AddNode("summarize", Node{
		Run: func(ctx context.Context) error {
			summary, err := p.summarizeRows(ctx, s, cfg.MaxRowsInPrompt)
			if err != nil {
				var eval Evaluation
				if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
					return ferr
				}
				summary = "The query succeeded. Raw results:\n" + s.rows.JSON()
			}
			s.summary = fmt.Sprintf("%s\n\n_Queried the %s store; %d row(s) returned._",
				summary, s.target, len(s.rows))
			return nil
		},
	})

	r.AddNode("giveup", Node{
		Run: func(ctx context.Context) error {
			s.summary = fmt.Sprintf(
				"I'm sorry, I could not produce a working query for this question. Last attempt:\n\n```\n%s\n```\n\nLast error: %s",
				strings.TrimSpace(s.query), s.lastError)
			return nil
		},
	})
	r.AtCeiling("giveup")

	if err := r.Run(ctx); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Answer:    s.summary,
		Caveated:  r.Exhausted(),
		Exhausted: r.Exhausted(),
		Retries:   r.Retries(),
	}, nil
}

// identifyTarget asks for a structured store choice and falls back to
// keyword heuristics when the model call fails or returns an unknown
// value.
func (p *NLQuery) identifyTarget(ctx context.Context, question string) QueryTarget {
	prompt := fmt.Sprintf(
		"Which store answers this question best? relational (people, teams, projects), columnar (events, delivery metrics) or graph (expertise, collaboration). Respond as JSON {\"store\": \"relational\"|\"columnar\"|\"graph\"}.\n\nQuestion: %s",
		question,
	)
	var out struct {
		Store string `json:"store"`
	}
	err := p.Chooser.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)}, targetSchema, &out)
	if err == nil {
		switch QueryTarget(out.Store) {
		case TargetRelational, TargetColumnar, TargetGraph:
			return QueryTarget(out.Store)
		}
	}
	return keywordTarget(question)
}

func keywordTarget(question string) QueryTarget {
	q := strings.ToLower(question)
	for _, kw := range []string{"expert", "who knows", "collaborat", "works with", "skill"} {
		if strings.Contains(q, kw) {
			return TargetGraph
		}
	}
	for _, kw := range []string{"deploy", "lead time", "failure rate", "mttr", "dora", "metric", "event"} {
		if strings.Contains(q, kw) {
			return TargetColumnar
		}
	}
	return TargetRelational
}

func (p *NLQuery) generateQuery(ctx context.Context, s *nlqueryState) (string, error) {
	var language, schemaDoc string
	switch s.target {
	case TargetGraph:
		language, schemaDoc = "Cypher", graphSchemaDoc
	case TargetColumnar:
		language, schemaDoc = "ClickHouse SQL", columnarSchemaDoc
	default:
		language, schemaDoc = "PostgreSQL SQL", relationalSchemaDoc
	}

	prompt := fmt.Sprintf(
		"Write a single read-only %s query for this question. Use only the tables and relationships below. Return the query in a code block.\n\n%s\n\nQuestion: %s",
		language, schemaDoc, s.question,
	)
	if s.lastError != "" {
		prompt += fmt.Sprintf("\n\nA previous attempt failed:\n```\n%s\n```\nError: %s\nFix the query.", s.query, s.lastError)
	}

	conv, err := p.Generator.RunInference(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return ExtractCodeBlock(conv.LastAssistantText()), nil
}

// ExtractCodeBlock returns the first fenced code block, or the whole text
// trimmed when there is none.
func ExtractCodeBlock(text string) string {
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func validateForTarget(target QueryTarget, query string) error {
	switch target {
	case TargetGraph:
		return stores.ValidateCypher(query)
	case TargetColumnar:
		return stores.ValidateSQL(query, stores.ColumnarTables)
	default:
		return stores.ValidateSQL(query, stores.RelationalTables)
	}
}

func (p *NLQuery) executeQuery(ctx context.Context, target QueryTarget, query string) (stores.Rows, error) {
	switch target {
	case TargetGraph:
		if p.Graph == nil {
			return nil, errors.Wrap(stores.ErrStore, "graph store not configured")
		}
		return p.Graph.Run(ctx, query, nil)
	case TargetColumnar:
		if p.Columnar == nil {
			return nil, errors.Wrap(stores.ErrStore, "columnar store not configured")
		}
		return p.Columnar.Query(ctx, query)
	default:
		if p.Relational == nil {
			return nil, errors.Wrap(stores.ErrStore, "relational store not configured")
		}
		return p.Relational.Query(ctx, query)
	}
}

func (p *NLQuery) summarizeRows(ctx context.Context, s *nlqueryState, maxRows int) (string, error) {
	rows := s.rows
	truncated := false
	if len(rows) > maxRows {
		rows = rows[:maxRows]
		truncated = true
	}
	prompt := fmt.Sprintf(
		"Summarize these query results as a direct answer to the question. Be concise and concrete.\n\nQuestion: %s\n\nResults (JSON):\n%s",
		s.question, rows.JSON(),
	)
	if truncated {
		prompt += fmt.Sprintf("\n\n(%d further rows omitted)", len(s.rows)-maxRows)
	}
	conv, err := p.Generator.RunInference(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return conv.LastAssistantText(), nil
}
