package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ColumnarConfig holds clickhouse connection settings.
type ColumnarConfig struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Columnar is a pooled clickhouse client for event and metric aggregates.
type Columnar struct {
	db *sqlx.DB
}

var _ RowQuerier = (*Columnar)(nil)
var _ MetricFetcher = (*Columnar)(nil)

func NewColumnar(cfg ColumnarConfig) (*Columnar, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	db := sqlx.NewDb(conn, "clickhouse")
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "connect to clickhouse")
	}
	return &Columnar{db: db}, nil
}

// NewColumnarFromDB wraps an existing handle; used by tests.
func NewColumnarFromDB(db *sqlx.DB) *Columnar {
	return &Columnar{db: db}
}

func (c *Columnar) Close() error {
	return c.db.Close()
}

// Query validates the statement against the columnar schema whitelist and
// executes it.
func (c *Columnar) Query(ctx context.Context, query string) (Rows, error) {
	if err := ValidateSQL(query, ColumnarTables); err != nil {
		return nil, errors.Wrapf(ErrStore, "%v", err)
	}
	return queryRows(ctx, c.db, query)
}

// MetricFetcher is the contract the anomaly pipeline depends on.
type MetricFetcher interface {
	FetchMetricWindow(ctx context.Context, from, to time.Time) ([]MetricWindow, error)
}

// MetricWindow is one aggregated observation window of the DORA series.
type MetricWindow struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	From   string  `json:"from"`
	To     string  `json:"to"`
}

// doraMetrics are the daily aggregate columns of dora_daily_metrics.
var doraMetrics = []string{"deployment_frequency", "lead_time_hours", "change_failure_rate", "mttr_hours"}

// FetchMetricWindow aggregates each DORA metric over [from, to).
func (c *Columnar) FetchMetricWindow(ctx context.Context, from, to time.Time) ([]MetricWindow, error) {
	out := make([]MetricWindow, 0, len(doraMetrics))
	for _, metric := range doraMetrics {
		q := fmt.Sprintf(
			`SELECT avg(%s) AS value FROM dora_daily_metrics WHERE day >= '%s' AND day < '%s'`,
			metric, from.Format("2006-01-02"), to.Format("2006-01-02"),
		)
		rows, err := c.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		value := 0.0
		if len(rows) > 0 {
			if v, ok := toFloat(rows[0]["value"]); ok {
				value = v
			}
		}
		out = append(out, MetricWindow{
			Metric: metric,
			Value:  value,
			From:   from.Format("2006-01-02"),
			To:     to.Format("2006-01-02"),
		})
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}
