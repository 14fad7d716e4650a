package app

import (
	"fmt"
	"log/slog"

	"NewsPipeline/internal/config"
	"NewsPipeline/internal/infrastructure/events"
	"NewsPipeline/internal/infrastructure/llm"
	"NewsPipeline/internal/infrastructure/state"
	"NewsPipeline/internal/infrastructure/storage"
	"NewsPipeline/internal/logging"
	"NewsPipeline/internal/ports"
	"NewsPipeline/internal/usecase"
)

// Application wires configuration to stores, providers and use cases.
type Application struct {
	Cfg      config.Config
	Logger   *slog.Logger
	Pipeline *usecase.PipelineOrchestrator
	Analysis *usecase.AnalysisOrchestrator
	Stats    *usecase.StatsService

	publisher *events.RedisPublisher
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	runs := state.NewRunStore(db)
	tracking := state.NewTrackingStore(db)
	filterResults := state.NewFilterResultStore(db)
	ruleStore := state.NewRuleStore(db)
	forceIncludes := state.NewForceIncludeStore(db)
	articles := state.NewArticleSource(db)

	provider, err := buildProvider(cfg.Analysis)
	if err != nil {
		return nil, err
	}

	var results ports.ResultStore
	if cfg.Results.DSN != "" {
		pg, err := storage.Open(cfg.Results.DSN)
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		results = storage.NewPostgresResultStore(pg)
	}

	var publisher *events.RedisPublisher
	var eventSink ports.EventPublisher
	if cfg.Events.RedisAddr != "" {
		publisher = events.NewRedisPublisher(cfg.Events)
		eventSink = publisher
	}

	analysis := usecase.NewAnalysisOrchestrator(usecase.AnalysisDeps{
		Provider:     provider,
		Runs:         runs,
		Tracking:     tracking,
		Articles:     articles,
		Results:      results,
		Logger:       baseLogger.With("component", "analysis"),
		PollInterval: cfg.Analysis.PollInterval(),
		MaxWait:      cfg.Analysis.MaxWait(),
	})

	pipeline := usecase.NewPipelineOrchestrator(usecase.PipelineDeps{
		Runs:          runs,
		Source:        articles,
		FilterResults: filterResults,
		Rules:         ruleStore,
		ForceIncludes: forceIncludes,
		Analysis:      analysis,
		Events:        eventSink,
		Logger:        baseLogger.With("component", "pipeline"),
		FilterWorkers: cfg.Pipeline.FilterWorkers,
		DefaultDays:   cfg.Pipeline.DefaultDays,
	})

	return &Application{
		Cfg:       cfg,
		Logger:    baseLogger,
		Pipeline:  pipeline,
		Analysis:  analysis,
		Stats:     usecase.NewStatsService(runs, filterResults),
		publisher: publisher,
	}, nil
}

// Close releases external connections.
func (a *Application) Close() error {
	if a.publisher != nil {
		return a.publisher.Close()
	}
	return nil
}

func buildProvider(cfg config.AnalysisConfig) (ports.AnalysisProvider, error) {
	switch cfg.Provider {
	case "openai_batch", "":
		return llm.NewOpenAIBatchProvider(cfg.OpenAI), nil
	case "local":
		return llm.NewLocalBatchProvider(cfg.Local), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}
