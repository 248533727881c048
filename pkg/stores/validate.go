package stores

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Table whitelists: generated queries may only touch these.
var (
	RelationalTables = []string{"employees", "teams", "projects", "project_assignments", "embeddings"}
	ColumnarTables   = []string{"events", "dora_daily_metrics"}
)

var destructiveSQL = regexp.MustCompile(`(?i)\b(drop|delete|truncate|alter|insert|update|grant|revoke)\b`)
var destructiveCypher = regexp.MustCompile(`(?i)\b(delete|detach|remove|set|create|merge|drop)\b`)

var sqlTableRef = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// ValidateSQL rejects destructive statements and references to tables
// outside the whitelist. It is a structural gate, not a full parser: the
// store's own error handling catches whatever slips through.
func ValidateSQL(query string, allowedTables []string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return errors.New("empty query")
	}
	if m := destructiveSQL.FindString(q); m != "" {
		return errors.Errorf("destructive operation %q is not allowed", strings.ToUpper(m))
	}

	allowed := make(map[string]bool, len(allowedTables))
	for _, t := range allowedTables {
		allowed[strings.ToLower(t)] = true
	}
	for _, match := range sqlTableRef.FindAllStringSubmatch(q, -1) {
		table := strings.ToLower(match[1])
		// strip schema qualifier and trailing alias punctuation
		if i := strings.LastIndex(table, "."); i >= 0 {
			table = table[i+1:]
		}
		if !allowed[table] {
			return errors.Errorf("table %q is not in the allowed schema", table)
		}
	}
	return nil
}

// ValidateCypher rejects write clauses; generated graph queries are
// read-only by contract.
func ValidateCypher(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return errors.New("empty query")
	}
	if m := destructiveCypher.FindString(q); m != "" {
		return errors.Errorf("write clause %q is not allowed", strings.ToUpper(m))
	}
	return nil
}
