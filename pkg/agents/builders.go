package agents

import (
	"context"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/tools"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/pipelines"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/toolbox"
)

// Specialist names form the Supervisor's closed routing enum.
const (
	SpecialistDoraPro            = "dora_pro"
	SpecialistResourcePlanner    = "resource_planner"
	SpecialistInsightsSpecialist = "insights_specialist"
)

// NewDoraPro covers delivery-metrics questions: direct columnar queries
// plus the anomaly detection pipeline.
func NewDoraPro(eng engine.StructuredEngine, box *toolbox.Toolbox, detector *pipelines.AnomalyDetector) (*Specialist, error) {
	registry, err := box.Registry()
	if err != nil {
		return nil, err
	}
	return &Specialist{
		Name:        SpecialistDoraPro,
		Description: "You analyze software delivery performance: deployment frequency, lead time, change failure rate and MTTR. Use the metrics tools for direct questions and the anomaly pipeline when asked about unusual changes or health checks.",
		Engine:      eng,
		Registry:    registry,
		Whitelist:   tools.NewWhitelist("metrics_query", "sql_query"),
		Pipelines: map[string]PipelineFunc{
			"anomaly": func(ctx context.Context, _ string, sink events.Sink, meta events.EventMetadata) (pipelines.Outcome, error) {
				return detector.Run(ctx, sink, meta)
			},
		},
	}, nil
}

// NewResourcePlanner covers staffing and expertise questions: graph
// queries plus the fusion ranking pipeline.
func NewResourcePlanner(eng engine.StructuredEngine, box *toolbox.Toolbox, fusion *pipelines.Fusion) (*Specialist, error) {
	registry, err := box.Registry()
	if err != nil {
		return nil, err
	}
	return &Specialist{
		Name:        SpecialistResourcePlanner,
		Description: "You answer workload, staffing and expertise questions over the org graph. Use the graph tool for direct lookups and the fusion pipeline to rank candidates for a role or task.",
		Engine:      eng,
		Registry:    registry,
		Whitelist:   tools.NewWhitelist("graph_query", "sql_query"),
		Pipelines: map[string]PipelineFunc{
			"fusion": func(ctx context.Context, query string, sink events.Sink, meta events.EventMetadata) (pipelines.Outcome, error) {
				return fusion.Run(ctx, query, sink, meta)
			},
		},
	}, nil
}

// NewInsightsSpecialist covers knowledge and ad-hoc data questions: vector
// search plus the RAG and NL-to-query pipelines.
func NewInsightsSpecialist(eng engine.StructuredEngine, box *toolbox.Toolbox, rag *pipelines.RAG, nlq *pipelines.NLQuery) (*Specialist, error) {
	registry, err := box.Registry()
	if err != nil {
		return nil, err
	}
	return &Specialist{
		Name:        SpecialistInsightsSpecialist,
		Description: "You answer knowledge questions from the document index and ad-hoc data questions against the org's stores. Use the rag pipeline for knowledge questions and the nlquery pipeline when the question needs live data.",
		Engine:      eng,
		Registry:    registry,
		Whitelist:   tools.NewWhitelist("vector_search", "embed_text"),
		Pipelines: map[string]PipelineFunc{
			"rag": func(ctx context.Context, query string, sink events.Sink, meta events.EventMetadata) (pipelines.Outcome, error) {
				return rag.Run(ctx, query, sink, meta)
			},
			"nlquery": func(ctx context.Context, query string, sink events.Sink, meta events.EventMetadata) (pipelines.Outcome, error) {
				return nlq.Run(ctx, query, sink, meta)
			},
		},
	}, nil
}
