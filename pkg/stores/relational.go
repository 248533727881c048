package stores

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RelationalConfig holds postgres connection settings.
type RelationalConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Relational is a pooled read-only postgres client. One instance is shared
// across turns; the pool handles concurrent access.
type Relational struct {
	db *sqlx.DB
}

var _ RowQuerier = (*Relational)(nil)

func NewRelational(cfg RelationalConfig) (*Relational, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return &Relational{db: db}, nil
}

// NewRelationalFromDB wraps an existing handle; used by tests.
func NewRelationalFromDB(db *sqlx.DB) *Relational {
	return &Relational{db: db}
}

func (r *Relational) Close() error {
	return r.db.Close()
}

// Query validates the statement against the relational schema whitelist and
// executes it, returning generic rows.
func (r *Relational) Query(ctx context.Context, query string) (Rows, error) {
	if err := ValidateSQL(query, RelationalTables); err != nil {
		return nil, errors.Wrapf(ErrStore, "%v", err)
	}
	return queryRows(ctx, r.db, query)
}

func queryRows(ctx context.Context, db *sqlx.DB, query string) (Rows, error) {
	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(ErrStore, "execute query: %v", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close result set")
		}
	}()

	var out Rows
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrapf(ErrStore, "scan row: %v", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(ErrStore, "iterate rows: %v", err)
	}
	return out, nil
}
