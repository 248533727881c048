package pipelines

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

func TestKeywordTarget(t *testing.T) {
	tests := []struct {
		question string
		want     QueryTarget
	}{
		{"who is an expert in Kubernetes?", TargetGraph},
		{"who collaborates with Priya?", TargetGraph},
		{"what is our deployment frequency this month?", TargetColumnar},
		{"show me lead time trends", TargetColumnar},
		{"list all employees on the payments team", TargetRelational},
		{"how many projects are active?", TargetRelational},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, keywordTarget(tt.question))
		})
	}
}

func TestExtractCodeBlock(t *testing.T) {
	assert.Equal(t, "SELECT 1", ExtractCodeBlock("```sql\nSELECT 1\n```"))
	assert.Equal(t, "MATCH (n) RETURN n", ExtractCodeBlock("Here you go:\n```cypher\nMATCH (n) RETURN n\n```\nHope that helps."))
	assert.Equal(t, "SELECT 2", ExtractCodeBlock("```\nSELECT 2\n```"))
	assert.Equal(t, "SELECT 3", ExtractCodeBlock("  SELECT 3  "))
}

func metaFor(agent string) events.EventMetadata {
	return events.NewEventMetadata("turn", "thread", agent)
}

func TestNLQueryHappyPathRelational(t *testing.T) {
	eng := &scriptedEngine{
		responses: []string{
			"```sql\nSELECT name FROM employees WHERE team_id = 3\n```",
			"Three engineers are on that team: Ada, Grace and Edsger.",
		},
		structuredOutputs: []string{`{"store": "relational"}`},
	}
	rel := &fakeQuerier{rows: []stores.Rows{{
		{"name": "Ada"}, {"name": "Grace"}, {"name": "Edsger"},
	}}}

	p := &NLQuery{Generator: eng, Chooser: eng, Relational: rel}
	out, err := p.Run(context.Background(), "who is on team 3?", events.NullSink{}, metaFor("nlquery"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "Three engineers")
	assert.Contains(t, out.Answer, "relational store")
	assert.Contains(t, out.Answer, "3 row(s)")
	assert.Equal(t, 0, out.Retries)
}

func TestNLQueryGraphPath(t *testing.T) {
	eng := &scriptedEngine{
		responses: []string{
			"```cypher\nMATCH (p:Person)-[:EXPERT_IN]->(s:Skill {name: 'Go'}) RETURN p.name\n```",
			"Priya is the strongest Go expert.",
		},
		structuredOutputs: []string{`{"store": "graph"}`},
	}
	graph := &fakeCypher{rows: stores.Rows{{"p.name": "Priya"}}}

	p := &NLQuery{Generator: eng, Chooser: eng, Graph: graph}
	out, err := p.Run(context.Background(), "who knows Go?", events.NullSink{}, metaFor("nlquery"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "graph store")
	assert.Contains(t, out.Answer, "1 row(s)")
	require.Len(t, graph.queries, 1)
	assert.Contains(t, graph.queries[0], "MATCH")
}

func TestNLQueryChooserFailureUsesKeywords(t *testing.T) {
	eng := &scriptedEngine{
		responses: []string{
			"```sql\nSELECT avg(lead_time_hours) FROM dora_daily_metrics\n```",
			"Average lead time is 22 hours.",
		},
		structuredErrs: []error{inferenceErr("chooser down")},
	}
	col := &fakeQuerier{rows: []stores.Rows{{{"avg": 22.0}}}}

	p := &NLQuery{Generator: eng, Chooser: eng, Columnar: col}
	out, err := p.Run(context.Background(), "what is our average lead time?", events.NullSink{}, metaFor("nlquery"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "columnar store")
}

func TestNLQueryDestructiveRejectedThenFixed(t *testing.T) {
	eng := &scriptedEngine{
		responses: []string{
			"```sql\nDELETE FROM employees\n```",
			"```sql\nSELECT count(*) FROM employees\n```",
			"There are 42 employees.",
		},
		structuredOutputs: []string{`{"store": "relational"}`},
	}
	rel := &fakeQuerier{rows: []stores.Rows{{{"count": 42}}}}

	p := &NLQuery{Generator: eng, Chooser: eng, Relational: rel}
	out, err := p.Run(context.Background(), "how many employees?", events.NullSink{}, metaFor("nlquery"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "There are 42 employees.")
	assert.Equal(t, 1, out.Retries)

	// the rejected statement never reaches the store
	require.Len(t, rel.queries, 1)
	assert.Contains(t, rel.queries[0], "SELECT")

	// the error text feeds the regeneration prompt
	require.GreaterOrEqual(t, len(eng.prompts), 2)
	assert.Contains(t, eng.prompts[1], "DELETE FROM employees")
}

func TestNLQueryRuntimeErrorThenFixed(t *testing.T) {
	eng := &scriptedEngine{
		responses: []string{
			"```sql\nSELECT nme FROM employees\n```",
			"```sql\nSELECT name FROM employees\n```",
			"One employee: Ada.",
		},
		structuredOutputs: []string{`{"store": "relational"}`},
	}
	rel := &fakeQuerier{
		rows: []stores.Rows{nil, {{"name": "Ada"}}},
		errs: []error{assert.AnError, nil},
	}

	p := &NLQuery{Generator: eng, Chooser: eng, Relational: rel}
	out, err := p.Run(context.Background(), "list employees", events.NullSink{}, metaFor("nlquery"))
	require.NoError(t, err)
	assert.Contains(t, out.Answer, "One employee: Ada.")
	assert.Equal(t, 1, out.Retries)
}

func TestNLQueryExhaustionApologizes(t *testing.T) {
	eng := &scriptedEngine{
		responses:         repeat("```sql\nSELECT * FROM forbidden_table\n```", 4),
		structuredOutputs: []string{`{"store": "relational"}`},
	}
	rel := &fakeQuerier{}

	p := &NLQuery{Generator: eng, Chooser: eng, Relational: rel}
	out, err := p.Run(context.Background(), "q", events.NullSink{}, metaFor("nlquery"))
	require.NoError(t, err)
	assert.True(t, out.Exhausted)
	assert.True(t, out.Caveated)
	assert.Equal(t, 3, out.Retries)
	assert.Contains(t, out.Answer, "I'm sorry")
	assert.Contains(t, out.Answer, "forbidden_table")
	assert.Empty(t, rel.queries, "invalid statements never execute")
}
