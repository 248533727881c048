package stores

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// GraphConfig holds neo4j connection settings.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Graph is a pooled read-only neo4j client over the org relationship graph
// (Person)-[:EXPERT_IN]->(Skill), (Person)-[:CONTRIBUTED_TO]->(Project),
// (Person)-[:COLLABORATES_WITH]->(Person).
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
}

// CandidateFinder is the contract the fusion and anomaly pipelines depend on.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, topic string, limit int) ([]GraphCandidate, error)
}

// CypherRunner executes one read-only cypher statement.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]interface{}) (Rows, error)
}

var _ CandidateFinder = (*Graph)(nil)
var _ CypherRunner = (*Graph)(nil)

func NewGraph(ctx context.Context, cfg GraphConfig) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Wrap(err, "connect to neo4j")
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Graph{driver: driver, database: database}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Run validates and executes one read-only cypher statement.
func (g *Graph) Run(ctx context.Context, cypher string, params map[string]interface{}) (Rows, error) {
	if err := ValidateCypher(cypher); err != nil {
		return nil, errors.Wrapf(ErrStore, "%v", err)
	}
	result, err := neo4j.ExecuteQuery(ctx, g.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, errors.Wrapf(ErrStore, "execute cypher: %v", err)
	}
	out := make(Rows, 0, len(result.Records))
	for _, rec := range result.Records {
		out = append(out, rec.AsMap())
	}
	return out, nil
}

const (
	expertsQuery = `MATCH (p:Person)-[r:EXPERT_IN]->(s:Skill)
WHERE toLower(s.name) CONTAINS toLower($topic)
RETURN p.name AS name, r.level AS level
ORDER BY r.level DESC LIMIT $limit`

	contributorsQuery = `MATCH (p:Person)-[r:CONTRIBUTED_TO]->(proj:Project)
WHERE toLower(proj.name) CONTAINS toLower($topic) OR toLower(proj.domain) CONTAINS toLower($topic)
RETURN p.name AS name, r.commits AS commits
ORDER BY r.commits DESC LIMIT $limit`

	collaboratorsQuery = `MATCH (p:Person)-[r:COLLABORATES_WITH]-(other:Person)
WHERE toLower(other.name) CONTAINS toLower($topic)
RETURN p.name AS name, r.interactions AS interactions
ORDER BY r.interactions DESC LIMIT $limit`
)

// FindCandidates runs the three traversal queries for a topic and merges
// the results into one scored candidate list. Scores normalize raw
/// relationship strength into [0, 1]: expertise level out of 5, commits
// capped at 50, interactions capped at 20.
func (g *Graph) FindCandidates(ctx context.Context, topic string, limit int) ([]GraphCandidate, error) {
	if limit <= 0 {
		limit = 10
	}
	params := map[string]interface{}{"topic": topic, "limit": limit}

	byName := map[string]*GraphCandidate{}
	merge := func(name string, score float64, evidence string) {
		if existing, ok := byName[name]; ok {
			if score > existing.Score {
				existing.Score = score
			}
			existing.Evidence += "; " + evidence
			return
		}
		byName[name] = &GraphCandidate{Name: name, Score: score, Evidence: evidence}
	}

	rows, err := g.Run(ctx, expertsQuery, params)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		level, _ := toFloat(row["level"])
		merge(asString(row["name"]), clamp01(level/5.0), fmt.Sprintf("expertise level %.0f", level))
	}

	rows, err = g.Run(ctx, contributorsQuery, params)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		commits, _ := toFloat(row["commits"])
		merge(asString(row["name"]), clamp01(commits/50.0), fmt.Sprintf("%.0f commits", commits))
	}

	rows, err = g.Run(ctx, collaboratorsQuery, params)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		interactions, _ := toFloat(row["interactions"])
		merge(asString(row["name"]), clamp01(interactions/20.0), fmt.Sprintf("%.0f collaborations", interactions))
	}

	out := make([]GraphCandidate, 0, len(byName))
	for _, c := range byName {
		out = append(out, *c)
	}
	log.Debug().Str("topic", topic).Int("candidates", len(out)).Msg("graph candidate search complete")
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
