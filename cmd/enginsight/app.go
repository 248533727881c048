package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/viper"

	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/agents"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/classify"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/embeddings"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/events"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/engine"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/inference/openai"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/memory"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/pipelines"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/profiles"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/stores"
	"github.com/VedantShirgaonkar/Datathon-LastStraw/pkg/toolbox"
)

// config is the full application configuration, loaded via viper from
// enginsight.yaml and ENGINSIGHT_* env vars.
type config struct {
	Inference    openai.Config `mapstructure:"inference"`
	ProfilesPath string        `mapstructure:"profiles"`

	Stores struct {
		Relational stores.RelationalConfig `mapstructure:"relational"`
		Columnar   stores.ColumnarConfig   `mapstructure:"columnar"`
		Graph      stores.GraphConfig      `mapstructure:"graph"`
		Vector     stores.VectorConfig     `mapstructure:"vector"`
	} `mapstructure:"stores"`

	Embeddings struct {
		Provider   string `mapstructure:"provider"`
		APIKey     string `mapstructure:"api_key"`
		BaseURL    string `mapstructure:"base_url"`
		Model      string `mapstructure:"model"`
		Dimensions int    `mapstructure:"dimensions"`
	} `mapstructure:"embeddings"`

	Memory struct {
		SQLitePath string `mapstructure:"sqlite_path"`
		MaxThreads int    `mapstructure:"max_threads"`
	} `mapstructure:"memory"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
}

func loadConfig() (*config, error) {
	cfg := &config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

// app holds the wired components for one process.
type app struct {
	supervisor *agents.Supervisor
	memory     memory.ThreadStore
	box        *toolbox.Toolbox
	addr       string
}

// buildApp wires stores, engines, pipelines and specialists from config.
// Stores without connection settings stay nil; their tools then report a
// uniform store failure instead of crashing at startup.
func buildApp(ctx context.Context, cfg *config) (*app, error) {
	registry, err := loadProfiles(cfg)
	if err != nil {
		return nil, err
	}

	engineFor := func(sel profiles.ModelSelection) engine.StructuredEngine {
		return openai.NewEngine(cfg.Inference, sel)
	}
	profileFor := func(cat classify.TaskCategory) profiles.ModelSelection {
		return registry.Select(classify.Classification{Category: cat, Reason: "startup wiring"})
	}
	// the evaluator rides the cheap lookup profile
	evaluator := engineFor(profileFor(classify.CategoryQuickLookup))

	box, err := buildToolbox(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildMemory(cfg)
	if err != nil {
		return nil, err
	}

	// interface fields must stay nil when the concrete store is absent,
	// so the pipelines' not-configured checks fire instead of a nil
	// pointer call
	var metrics stores.MetricFetcher
	var relational stores.RowQuerier
	var columnar stores.RowQuerier
	var graphFinder stores.CandidateFinder
	var graphRunner stores.CypherRunner
	if box.Columnar != nil {
		metrics = box.Columnar
		columnar = box.Columnar
	}
	if box.Relational != nil {
		relational = box.Relational
	}
	if box.Graph != nil {
		graphFinder = box.Graph
		graphRunner = box.Graph
	}

	rag := &pipelines.RAG{
		Generator: engineFor(profileFor(classify.CategoryGeneral)),
		Evaluator: evaluator,
		Embedder:  box.Embedder,
		Vector:    box.Vector,
		Config:    pipelines.DefaultRAGConfig(),
	}
	detector := &pipelines.AnomalyDetector{
		Writer:     engineFor(profileFor(classify.CategoryAnalytics)),
		Evaluator:  evaluator,
		Metrics:    metrics,
		Relational: relational,
		Graph:      graphFinder,
		Config:     pipelines.DefaultAnomalyConfig(),
	}
	nlq := &pipelines.NLQuery{
		Generator:  engineFor(profileFor(classify.CategoryCodeAnalysis)),
		Chooser:    evaluator,
		Relational: relational,
		Columnar:   columnar,
		Graph:      graphRunner,
		Config:     pipelines.DefaultNLQueryConfig(),
	}
	fusion := &pipelines.Fusion{
		Writer:   engineFor(profileFor(classify.CategoryPlanning)),
		Embedder: box.Embedder,
		Vector:   box.Vector,
		Graph:    graphFinder,
		Config:   pipelines.DefaultFusionConfig(),
	}

	specialistEngine := engineFor(profileFor(classify.CategoryGeneral))
	doraPro, err := agents.NewDoraPro(specialistEngine, box, detector)
	if err != nil {
		return nil, err
	}
	planner, err := agents.NewResourcePlanner(specialistEngine, box, fusion)
	if err != nil {
		return nil, err
	}
	insights, err := agents.NewInsightsSpecialist(specialistEngine, box, rag, nlq)
	if err != nil {
		return nil, err
	}

	supervisor := &agents.Supervisor{
		Profiles: registry,
		Engines:  engineFor,
		Specialists: map[string]*agents.Specialist{
			doraPro.Name:  doraPro,
			planner.Name:  planner,
			insights.Name: insights,
		},
		Fallback: insights.Name,
		Memory:   store,
		Sink:     events.NullSink{},
	}
	if counter, err := memory.NewTokenCounter(); err != nil {
		log.Warn().Err(err).Msg("tokenizer unavailable, thread history will not be trimmed")
	} else {
		supervisor.Tokens = counter
	}

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8742"
	}
	return &app{supervisor: supervisor, memory: store, box: box, addr: addr}, nil
}

func loadProfiles(cfg *config) (*profiles.Registry, error) {
	if cfg.ProfilesPath == "" {
		return profiles.NewDefaultRegistry(), nil
	}
	return profiles.LoadRegistry(cfg.ProfilesPath)
}

func buildToolbox(ctx context.Context, cfg *config) (*toolbox.Toolbox, error) {
	box := &toolbox.Toolbox{}

	if cfg.Stores.Relational.DSN != "" {
		rel, err := stores.NewRelational(cfg.Stores.Relational)
		if err != nil {
			return nil, errors.Wrap(err, "relational store")
		}
		box.Relational = rel
	}
	if cfg.Stores.Columnar.Addr != "" {
		col, err := stores.NewColumnar(cfg.Stores.Columnar)
		if err != nil {
			return nil, errors.Wrap(err, "columnar store")
		}
		box.Columnar = col
	}
	if cfg.Stores.Graph.URI != "" {
		graph, err := stores.NewGraph(ctx, cfg.Stores.Graph)
		if err != nil {
			return nil, errors.Wrap(err, "graph store")
		}
		box.Graph = graph
	}
	if cfg.Stores.Vector.Host != "" {
		box.Vector = stores.NewVector(cfg.Stores.Vector)
	}

	box.Embedder = buildEmbedder(cfg)
	return box, nil
}

func buildEmbedder(cfg *config) embeddings.Provider {
	e := cfg.Embeddings
	switch e.Provider {
	case "ollama":
		provider, err := embeddings.NewOllamaProvider(e.BaseURL, e.Model, e.Dimensions)
		if err != nil {
			log.Warn().Err(err).Msg("ollama embedder unavailable, using mock")
			return embeddings.NewMockProvider()
		}
		return embeddings.NewCachedProvider(provider, embeddingCacheSize)
	case "openai":
		model := go_openai.EmbeddingModel(e.Model)
		if e.Model == "" {
			model = go_openai.SmallEmbedding3
		}
		provider := embeddings.NewOpenAIProvider(e.APIKey, e.BaseURL, model, e.Dimensions)
		return embeddings.NewCachedProvider(provider, embeddingCacheSize)
	default:
		return embeddings.NewMockProvider()
	}
}

const embeddingCacheSize = 1024

func buildMemory(cfg *config) (memory.ThreadStore, error) {
	maxThreads := cfg.Memory.MaxThreads
	if maxThreads <= 0 {
		maxThreads = memory.DefaultMaxThreads
	}
	if cfg.Memory.SQLitePath != "" {
		return memory.NewSQLiteStore(cfg.Memory.SQLitePath, maxThreads)
	}
	return memory.NewStore(maxThreads), nil
}
