package pipelines

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/conversation"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/prompts"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is one metric deviation between the current window and its
// baseline.
type Anomaly struct {
	Metric    string   `json:"metric"`
	Current   float64  `json:"current"`
	Baseline  float64  `json:"baseline"`
	Deviation float64  `json:"deviation"`
	Severity  Severity `json:"severity"`
}

// DeviationPct is the deviation as a percentage, for display.
func (a Anomaly) DeviationPct() float64 {
	return a.Deviation * 100
}

// AnomalyConfig carries the delivery-metric watcher's windows and ceilings.
type AnomalyConfig struct {
	MaxRefine        int     `mapstructure:"max_refine"`
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	// CurrentDays is the observation window; BaselineDays the reference
	// window immediately preceding it.
	CurrentDays  int `mapstructure:"current_days"`
	BaselineDays int `mapstructure:"baseline_days"`
	// DetectFloor is the minimum relative deviation that counts as an
	// anomaly.
	DetectFloor float64 `mapstructure:"detect_floor"`
}

func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MaxRefine:        2,
		QualityThreshold: 0.7,
		CurrentDays:      7,
		BaselineDays:     28,
		DetectFloor:      0.2,
	}
}

// AnomalyDetector watches the DORA delivery metrics: compare the current
// window against its baseline, enrich deviations with org context, and
// draft an alert report that an evaluator scores for completeness,
// specificity, actionability and clarity before it ships.
type AnomalyDetector struct {
	Writer     engine.Engine
	Evaluator  engine.StructuredEngine
	Metrics    stores.MetricFetcher
	Relational stores.RowQuerier
	Graph      stores.CandidateFinder
	Config     AnomalyConfig
	// Now is overridable for tests; zero means time.Now.
	Now func() time.Time
}

type anomalyState struct {
	anomalies   []Anomaly
	orgContext  string
	report      string
	quality     Evaluation
	deficits    string
	noAnomalies bool
}

var qualitySchema = []byte(`{"type":"object","properties":{"score":{"type":"number"},"deficiencies":{"type":"string"}},"required":["score"]}`)

const anomalyReportPrompt = `Write an incident-style alert for these delivery metric anomalies. For each: name the metric, the deviation, the severity, and a plausible cause grounded in the org context. End with concrete next steps.
{{ if .Deficiencies }}
A previous draft was rejected for: {{ .Deficiencies }}. Address those gaps.
{{ end }}
Anomalies:
{{ range .Anomalies }}- {{ .Metric }}: {{ printf "%.2f" .Current }} vs baseline {{ printf "%.2f" .Baseline }} ({{ printf "%+.0f" .DeviationPct }}%, {{ .Severity }})
{{ end }}
Org context:
{{ .OrgContext }}`

func (p *AnomalyDetector) Run(ctx context.Context, sink events.Sink, meta events.EventMetadata) (Outcome, error) {
	cfg := p.Config
	if cfg.MaxRefine == 0 && cfg.QualityThreshold == 0 {
		cfg = DefaultAnomalyConfig()
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	s := &anomalyState{}
	r := NewRunner("anomaly", cfg.MaxRefine, WithSink(sink, meta))

	r.AddNode("detect", Node{
		Run: func(ctx context.Context) error {
			if p.Metrics == nil {
				return errors.Wrap(stores.ErrStore, "columnar store not configured")
			}
			end := now()
			currentFrom := end.AddDate(0, 0, -cfg.CurrentDays)
			baselineFrom := currentFrom.AddDate(0, 0, -cfg.BaselineDays)

			current, err := p.Metrics.FetchMetricWindow(ctx, currentFrom, end)
			if err != nil {
				return err
			}
			baseline, err := p.Metrics.FetchMetricWindow(ctx, baselineFrom, currentFrom)
			if err != nil {
				return err
			}
			s.anomalies = detectAnomalies(current, baseline, cfg.DetectFloor)
			s.noAnomalies = len(s.anomalies) == 0
			return nil
		},
		Next: func() string {
			if s.noAnomalies {
				return "all_clear"
			}
			return "enrich"
		},
	})

	r.AddNode("all_clear", Node{
		Run: func(ctx context.Context) error {
			s.report = "No anomalies found: all delivery metrics are within their baseline range."
			return nil
		},
	})

	r.AddNode("enrich", Node{
		Run: func(ctx context.Context) error {
			s.orgContext = p.gatherOrgContext(ctx, s.anomalies)
			return nil
		},
		Next: func() string { return "draft" },
	})

	r.AddNode("draft", Node{
		Run: func(ctx context.Context) error {
			report, err := p.draftReport(ctx, s)
			if err != nil {
				var eval Evaluation
				if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
					return ferr
				}
				s.report = formatRawAnomalies(s.anomalies)
				return nil
			}
			s.report = report
			return nil
		},
		Next: func() string { return "score" },
	})

	r.AddNode("score", Node{
		Run: func(ctx context.Context) error {
			eval, err := p.scoreReport(ctx, s.report, cfg.QualityThreshold)
			if ferr := FailVerdictOnInference(err, &eval); ferr != nil {
				return ferr
			}
			s.quality = eval
			s.deficits = eval.Justification
			return nil
		},
		Next: func() string {
			if s.quality.Score >= cfg.QualityThreshold {
				return ""
			}
			return "refine"
		},
	})

	// refine sits on the loop-back edge only, so each pass through it is
	// one consumed refinement.
	r.AddNode("refine", Node{
		Refine: true,
		Run:    func(ctx context.Context) error { return nil },
		Next:   func() string { return "draft" },
	})

	r.AddNode("caveat", Node{
		Run: func(ctx context.Context) error {
			s.report += "\n\n_Note: this report did not reach the quality bar after refinement; treat its analysis as preliminary._"
			return nil
		},
	})
	r.AtCeiling("caveat")

	if err := r.Run(ctx); err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Answer:    s.report,
		Caveated:  r.Exhausted(),
		Exhausted: r.Exhausted(),
		Retries:   r.Retries(),
	}, nil
}

// detectAnomalies flags metrics whose relative deviation from baseline
// reaches the floor. Severity bands double at each step.
func detectAnomalies(current, baseline []stores.MetricWindow, floor float64) []Anomaly {
	base := map[string]float64{}
	for _, w := range baseline {
		base[w.Metric] = w.Value
	}

	var out []Anomaly
	for _, w := range current {
		b, ok := base[w.Metric]
		if !ok {
			continue
		}
		var deviation float64
		switch {
		case b != 0:
			deviation = (w.Value - b) / math.Abs(b)
		case w.Value != 0:
			// a metric appearing from a zero baseline is always notable
			deviation = 1.0
		default:
			continue
		}
		if math.Abs(deviation) < floor {
			continue
		}
		out = append(out, Anomaly{
			Metric:    w.Metric,
			Current:   w.Value,
			Baseline:  b,
			Deviation: deviation,
			Severity:  severityFor(math.Abs(deviation)),
		})
	}
	return out
}

func severityFor(absDeviation float64) Severity {
	switch {
	case absDeviation >= 2.0:
		return SeverityCritical
	case absDeviation >= 1.0:
		return SeverityHigh
	case absDeviation >= 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// gatherOrgContext pulls recent project activity and the people closest to
// the affected metrics. Context gathering is best-effort: a store failure
// degrades the report, it does not abort the run.
func (p *AnomalyDetector) gatherOrgContext(ctx context.Context, anomalies []Anomaly) string {
	var b strings.Builder

	if p.Relational != nil {
		rows, err := p.Relational.Query(ctx,
			`SELECT p.name, p.status, t.name AS team FROM projects p JOIN teams t ON t.id = p.team_id WHERE p.status = 'active' LIMIT 10`)
		if err != nil {
			log.Debug().Err(err).Msg("org context query failed, continuing without it")
		} else {
			b.WriteString("Active projects:\n")
			for _, row := range rows {
				b.WriteString(fmt.Sprintf("- %v (%v, team %v)\n", row["name"], row["status"], row["team"]))
			}
		}
	}

	if p.Graph != nil {
		for _, a := range anomalies {
			candidates, err := p.Graph.FindCandidates(ctx, a.Metric, 3)
			if err != nil {
				continue
			}
			for _, c := range candidates {
				b.WriteString(fmt.Sprintf("- %s: %s\n", c.Name, c.Evidence))
			}
		}
	}

	if b.Len() == 0 {
		return "(no org context available)"
	}
	return b.String()
}

func (p *AnomalyDetector) draftReport(ctx context.Context, s *anomalyState) (string, error) {
	prompt, err := prompts.Render("anomaly-report", anomalyReportPrompt, map[string]interface{}{
		"Anomalies":    s.anomalies,
		"OrgContext":   s.orgContext,
		"Deficiencies": s.deficits,
	})
	if err != nil {
		return "", err
	}
	conv, err := p.Writer.RunInference(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return conv.LastAssistantText(), nil
}

// scoreReport asks the evaluator for a 0-1 quality score across
// completeness, specificity, actionability and clarity, with named
// deficiencies when the draft falls below threshold.
func (p *AnomalyDetector) scoreReport(ctx context.Context, report string, threshold float64) (Evaluation, error) {
	prompt := fmt.Sprintf(
		"Score this anomaly report from 0.0 to 1.0 on completeness, specificity, actionability and clarity. Respond as JSON {\"score\": 0.0, \"deficiencies\": \"...\"}; name the deficiencies when the score is below %.2f.\n\nReport:\n%s",
		threshold, report,
	)
	var out struct {
		Score        float64 `json:"score"`
		Deficiencies string  `json:"deficiencies"`
	}
	err := p.Evaluator.RunStructured(ctx, conversation.Conversation{conversation.NewUserMessage(prompt)}, qualitySchema, &out)
	if err != nil {
		return Evaluation{}, err
	}
	verdict := VerdictFail
	if out.Score >= threshold {
		verdict = VerdictPass
	}
	return Evaluation{Verdict: verdict, Score: out.Score, Justification: out.Deficiencies}, nil
}

func formatRawAnomalies(anomalies []Anomaly) string {
	var b strings.Builder
	b.WriteString("Detected anomalies (automated summary, report generation unavailable):\n")
	for _, a := range anomalies {
		b.WriteString(fmt.Sprintf("- %s: %.2f vs baseline %.2f (%+.0f%%, %s)\n",
			a.Metric, a.Current, a.Baseline, a.Deviation*100, a.Severity))
	}
	return b.String()
}
