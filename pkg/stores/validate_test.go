package stores

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSQL(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		tables  []string
		wantErr bool
	}{
		{"simple count", "SELECT COUNT(*) FROM employees", RelationalTables, false},
		{"join on whitelisted tables", "SELECT e.name FROM employees e JOIN teams t ON e.team_id = t.id", RelationalTables, false},
		{"schema-qualified table", "SELECT * FROM public.projects", RelationalTables, false},
		{"drop rejected", "DROP TABLE employees", RelationalTables, true},
		{"delete rejected", "DELETE FROM employees WHERE id = 1", RelationalTables, true},
		{"update rejected", "UPDATE employees SET name = 'x'", RelationalTables, true},
		{"lowercase insert rejected", "insert into employees values (1)", RelationalTables, true},
		{"unknown table rejected", "SELECT * FROM salaries", RelationalTables, true},
		{"columnar table ok", "SELECT avg(lead_time_hours) FROM dora_daily_metrics", ColumnarTables, false},
		{"relational table not in columnar schema", "SELECT * FROM employees", ColumnarTables, true},
		{"empty query", "   ", RelationalTables, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSQL(tt.query, tt.tables)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCypher(t *testing.T) {
	assert.NoError(t, ValidateCypher("MATCH (p:Person)-[:EXPERT_IN]->(s:Skill) RETURN p.name"))
	assert.Error(t, ValidateCypher("MATCH (p:Person) DETACH DELETE p"))
	assert.Error(t, ValidateCypher("MATCH (p:Person) SET p.name = 'x'"))
	assert.Error(t, ValidateCypher("CREATE (p:Person {name: 'x'})"))
	assert.Error(t, ValidateCypher(""))
}

func TestParseSearchResponse(t *testing.T) {
	data := map[string]interface{}{
		"Get": map[string]interface{}{
			"Document": []interface{}{
				map[string]interface{}{
					"title":   "runbook",
					"content": "restart the ingestion service",
					"_additional": map[string]interface{}{
						"id":        "doc-1",
						"certainty": 0.91,
					},
				},
			},
		},
	}

	docs := parseSearchResponse(data, "Document")
	assert.Len(t, docs, 1)
	assert.Equal(t, "runbook", docs[0].Title)
	assert.InDelta(t, 0.91, docs[0].Similarity, 1e-9)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 1.0, clamp01(120.0/50.0))
	assert.Equal(t, 0.6, clamp01(0.6))
}
