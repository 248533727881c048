package stores

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrStore is the single failure kind tools surface upward: connectivity,
// malformed query and driver errors all wrap it.
var ErrStore = errors.New("store failure")

// Rows is a generic result set: one map per row, column name to value.
type Rows []map[string]interface{}

func (r Rows) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// RowQuerier is satisfied by the relational and columnar clients; the
// NL-to-query pipeline executes against whichever the question targets.
type RowQuerier interface {
	Query(ctx context.Context, query string) (Rows, error)
}

// Document is one scored vector search hit.
type Document struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// GraphCandidate is one scored hit from a graph traversal, with the
// relationship evidence that produced the score.
type GraphCandidate struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Evidence string  `json:"evidence,omitempty"`
}
