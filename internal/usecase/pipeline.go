package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
	"NewsPipeline/internal/rules"
)

// ErrRunNotFound is returned when a run id resolves to nothing.
var ErrRunNotFound = errors.New("pipeline run not found")

// PipelineDeps wires all collaborators into the top-level orchestrator.
type PipelineDeps struct {
	Runs          ports.RunStore
	Source        ports.ArticleSource
	FilterResults ports.FilterResultStore
	Rules         ports.RuleStore
	ForceIncludes ports.ForceIncludeStore
	Analysis      *AnalysisOrchestrator
	Events        ports.EventPublisher
	Logger        *slog.Logger
	FilterWorkers int
	DefaultDays   int
}

// PipelineOrchestrator is the state machine sequencing
// fetch → rule filter → llm analysis → store for one named run.
type PipelineOrchestrator struct {
	runs          ports.RunStore
	source        ports.ArticleSource
	filterResults ports.FilterResultStore
	rules         ports.RuleStore
	forceIncludes ports.ForceIncludeStore
	analysis      *AnalysisOrchestrator
	events        ports.EventPublisher
	logger        *slog.Logger
	filterWorkers int
	defaultDays   int
}

// NewPipelineOrchestrator constructs the orchestrator.
func NewPipelineOrchestrator(deps PipelineDeps) *PipelineOrchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := deps.FilterWorkers
	if workers < 1 {
		workers = 4
	}
	defaultDays := deps.DefaultDays
	if defaultDays < 1 {
		defaultDays = 1
	}
	return &PipelineOrchestrator{
		runs:          deps.Runs,
		source:        deps.Source,
		filterResults: deps.FilterResults,
		rules:         deps.Rules,
		forceIncludes: deps.ForceIncludes,
		analysis:      deps.Analysis,
		events:        deps.Events,
		logger:        logger,
		filterWorkers: workers,
		defaultDays:   defaultDays,
	}
}

// CreateRun registers a new run with an optional date-range filter.
func (p *PipelineOrchestrator) CreateRun(ctx context.Context, name string, from, to *time.Time) (*domain.PipelineRun, error) {
	run := &domain.PipelineRun{
		Name:     name,
		Status:   domain.RunCreated,
		DateFrom: from,
		DateTo:   to,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// CreateQuickRun registers a run covering the last `days` days. A
// non-positive value falls back to the configured default window.
func (p *PipelineOrchestrator) CreateQuickRun(ctx context.Context, days int) (*domain.PipelineRun, error) {
	if days < 1 {
		days = p.defaultDays
	}
	from := time.Now().UTC().AddDate(0, 0, -days)
	name := fmt.Sprintf("quick run - last %d day(s) - %s", days, time.Now().Format("2006-01-02 15:04"))
	return p.CreateRun(ctx, name, &from, nil)
}

// Get loads one run.
func (p *PipelineOrchestrator) Get(ctx context.Context, runID int64) (*domain.PipelineRun, error) {
	run, err := p.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	return run, nil
}

// Run executes the pipeline for a run up to and including untilStage.
// A limit of zero processes every article in range. A paused result (poll
// timeout or stage ceiling) is a success, not an error.
func (p *PipelineOrchestrator) Run(ctx context.Context, runID int64, untilStage domain.PipelineStage, limit int) (*domain.PipelineRun, error) {
	run, err := p.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	if err := p.rules.Seed(ctx, rules.Defaults()); err != nil {
		return nil, err
	}

	if err := p.runStages(ctx, run, untilStage, limit); err != nil {
		p.fail(ctx, run, err)
		return run, err
	}
	return run, nil
}

func (p *PipelineOrchestrator) runStages(ctx context.Context, run *domain.PipelineRun, untilStage domain.PipelineStage, limit int) error {
	// Stage 1: fetch.
	if err := p.setStatus(ctx, run, domain.RunRunning, domain.StageFetch); err != nil {
		return err
	}

	total, err := p.source.CountForRange(ctx, run.DateFrom, run.DateTo)
	if err != nil {
		return err
	}
	if limit > 0 && int64(limit) < total {
		total = int64(limit)
	}
	run.TotalArticles = int(total)
	if err := p.runs.Update(ctx, run); err != nil {
		return err
	}

	if untilStage == domain.StageFetch {
		return p.pause(ctx, run)
	}

	// Stage 2: rule filter. When the run already carries filter results
	// (a resumed run), they are reused instead of recomputed: results are
	// created once per run per article and superseded only by a reset.
	if err := p.setStatus(ctx, run, domain.RunRunning, domain.StageRuleFilter); err != nil {
		return err
	}

	passed, err := p.ruleFilterStage(ctx, run, limit)
	if err != nil {
		return err
	}
	if err := p.refreshFilterStats(ctx, run); err != nil {
		return err
	}

	if untilStage == domain.StageRuleFilter {
		return p.pause(ctx, run)
	}

	// Stage 3: llm analysis (downstream storage happens per item inside).
	if len(passed) > 0 {
		if err := p.setStatus(ctx, run, domain.RunRunning, domain.StageLLMAnalysis); err != nil {
			return err
		}

		success, _, err := p.analysis.Analyze(ctx, passed, run)
		if errors.Is(err, ErrPollTimeout) {
			return p.pause(ctx, run)
		}
		if err != nil {
			return err
		}
		run.AnalyzedCount += success
		if err := p.runs.Update(ctx, run); err != nil {
			return err
		}
	}

	if untilStage == domain.StageLLMAnalysis {
		return p.pause(ctx, run)
	}

	// Stage 4: store (finalize).
	if err := p.setStatus(ctx, run, domain.RunRunning, domain.StageStore); err != nil {
		return err
	}
	if err := p.refreshFilterStats(ctx, run); err != nil {
		return err
	}
	return p.complete(ctx, run)
}

// ruleFilterStage evaluates fetched articles, or reloads the passed set
// when results for the run already exist.
func (p *PipelineOrchestrator) ruleFilterStage(ctx context.Context, run *domain.PipelineRun, limit int) ([]domain.Article, error) {
	passedCount, rejectedCount, _, err := p.filterResults.CountsForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if passedCount+rejectedCount > 0 {
		ids, err := p.filterResults.PassedArticleIDs(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		p.logger.Info("reusing filter results", "run", run.ID, "passed", len(ids))
		return p.source.ByIDs(ctx, ids)
	}

	articles, err := p.source.FetchForRange(ctx, run.DateFrom, run.DateTo, limit)
	if err != nil {
		return nil, err
	}

	activeRules, err := p.rules.Active(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := p.forceIncludes.IDs(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := rules.NewEngine(activeRules, overrides)
	if err != nil {
		return nil, err
	}

	outcomes := engine.EvaluateAll(articles, p.filterWorkers)

	now := time.Now().UTC()
	results := make([]domain.RuleFilterResult, 0, len(articles))
	hits := map[string]int64{}
	var passed []domain.Article
	for i, article := range articles {
		outcome := outcomes[i]
		results = append(results, domain.RuleFilterResult{
			RunID:     run.ID,
			ArticleID: article.ID,
			Stage:     domain.StageRuleFilter,
			Decision:  outcome.Decision,
			RuleName:  outcome.RuleName,
			Reason:    outcome.Reason,
			CreatedAt: now,
		})
		if outcome.Decision.Passed() {
			passed = append(passed, article)
		} else {
			hits[outcome.RuleName]++
		}
	}

	if err := p.filterResults.SaveResults(ctx, results); err != nil {
		return nil, err
	}
	if err := p.rules.IncrementFiltered(ctx, hits); err != nil {
		return nil, err
	}

	p.logger.Info("rule filter complete",
		"run", run.ID,
		"articles", len(articles),
		"passed", len(passed),
		"rejected", len(articles)-len(passed))
	return passed, nil
}

func (p *PipelineOrchestrator) refreshFilterStats(ctx context.Context, run *domain.PipelineRun) error {
	passed, rejected, forced, err := p.filterResults.CountsForRun(ctx, run.ID)
	if err != nil {
		return err
	}
	run.RulePassedCount = int(passed)
	run.RuleFilteredCount = int(rejected)
	run.ForceIncludeCount = int(forced)
	return p.runs.Update(ctx, run)
}

// Reset rewinds a run to re-execute from fromStage, deleting stage-local
// results from that stage onward. Tracking rows are never deleted: they
// are keyed by article and make re-analysis after a reset skip articles
// already analyzed in a prior attempt.
func (p *PipelineOrchestrator) Reset(ctx context.Context, runID int64, fromStage domain.PipelineStage) (*domain.PipelineRun, error) {
	run, err := p.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	resetting := false
	for _, stage := range domain.StageOrder {
		if stage == fromStage {
			resetting = true
		}
		if !resetting {
			continue
		}

		switch stage {
		case domain.StageRuleFilter:
			if _, err := p.filterResults.DeleteForRun(ctx, runID, domain.StageRuleFilter); err != nil {
				return nil, err
			}
			run.RulePassedCount = 0
			run.RuleFilteredCount = 0
			run.ForceIncludeCount = 0
		case domain.StageLLMAnalysis:
			run.AnalyzedCount = 0
			run.BatchHandle = ""
		}
	}
	if !resetting {
		return nil, fmt.Errorf("stage %s cannot be reset from", fromStage)
	}

	run.Status = domain.RunCreated
	run.CurrentStage = ""
	run.CompletedAt = nil
	run.ErrorLog = ""
	if err := p.runs.Update(ctx, run); err != nil {
		return nil, err
	}

	p.publish(ctx, run, "reset")
	return run, nil
}

// AddForceInclude registers an operator override after validating the
// article exists and is not already listed.
func (p *PipelineOrchestrator) AddForceInclude(ctx context.Context, articleID int64, reason, addedBy string) (*domain.ForceInclude, error) {
	exists, err := p.source.Exists(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("article %d not found", articleID)
	}

	entry := &domain.ForceInclude{ArticleID: articleID, Reason: reason, AddedBy: addedBy}
	if err := p.forceIncludes.Add(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveForceInclude drops an override; false when it was not listed.
func (p *PipelineOrchestrator) RemoveForceInclude(ctx context.Context, articleID int64) (bool, error) {
	return p.forceIncludes.Remove(ctx, articleID)
}

// ListForceIncludes returns all overrides.
func (p *PipelineOrchestrator) ListForceIncludes(ctx context.Context) ([]domain.ForceInclude, error) {
	return p.forceIncludes.List(ctx)
}

func (p *PipelineOrchestrator) setStatus(ctx context.Context, run *domain.PipelineRun, status domain.RunStatus, stage domain.PipelineStage) error {
	run.Status = status
	// The stage only advances; a rerun of a paused run keeps its furthest
	// stage instead of dropping back to fetch. Only a reset rewinds it.
	if run.CurrentStage == "" || run.CurrentStage.Before(stage) {
		run.CurrentStage = stage
	}
	if status == domain.RunRunning && run.StartedAt == nil {
		now := time.Now().UTC()
		run.StartedAt = &now
	}
	if err := p.runs.Update(ctx, run); err != nil {
		return err
	}
	p.publish(ctx, run, "")
	return nil
}

func (p *PipelineOrchestrator) pause(ctx context.Context, run *domain.PipelineRun) error {
	run.Status = domain.RunPaused
	if err := p.runs.Update(ctx, run); err != nil {
		return err
	}
	p.publish(ctx, run, "paused")
	return nil
}

func (p *PipelineOrchestrator) complete(ctx context.Context, run *domain.PipelineRun) error {
	now := time.Now().UTC()
	run.Status = domain.RunCompleted
	run.CompletedAt = &now
	if err := p.runs.Update(ctx, run); err != nil {
		return err
	}
	p.publish(ctx, run, "completed")
	return nil
}

func (p *PipelineOrchestrator) fail(ctx context.Context, run *domain.PipelineRun, cause error) {
	now := time.Now().UTC()
	run.Status = domain.RunFailed
	run.ErrorLog = cause.Error()
	run.CompletedAt = &now
	if err := p.runs.Update(ctx, run); err != nil {
		p.logger.Error("mark run failed", "run", run.ID, "error", err)
	}
	p.publish(ctx, run, cause.Error())
}

// publish is best-effort: event delivery never fails a run.
func (p *PipelineOrchestrator) publish(ctx context.Context, run *domain.PipelineRun, message string) {
	if p.events == nil {
		return
	}
	event := ports.RunEvent{
		RunID:   run.ID,
		Status:  run.Status,
		Stage:   run.CurrentStage,
		Message: message,
	}
	if err := p.events.PublishRunEvent(ctx, event); err != nil {
		p.logger.Warn("publish run event", "run", run.ID, "error", err)
	}
}
