package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// ErrPollTimeout signals that polling exceeded the configured maximum
// wait. Callers pause the run and may invoke Analyze again later; the
// persisted batch handle guarantees no resubmission.
var ErrPollTimeout = errors.New("batch polling exceeded max wait")

// BatchError is a terminal provider-side batch failure. It halts the run;
// there is no automatic resubmission at the batch level.
type BatchError struct {
	Handle string
	State  ports.BatchState
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %s reached terminal state %s", e.Handle, e.State)
}

// AnalysisDeps wires the orchestrator's collaborators. Results may be nil:
// persistence is a best-effort add-on, not a precondition of analysis.
type AnalysisDeps struct {
	Provider     ports.AnalysisProvider
	Runs         ports.RunStore
	Tracking     ports.TrackingStore
	Articles     ports.ArticleSource
	Results      ports.ResultStore
	Logger       *slog.Logger
	PollInterval time.Duration
	MaxWait      time.Duration
}

// AnalysisOrchestrator drives the submit → persist-handle → poll →
// retrieve → update-tracking cycle and owns resume and retry logic.
type AnalysisOrchestrator struct {
	provider     ports.AnalysisProvider
	runs         ports.RunStore
	tracking     ports.TrackingStore
	articles     ports.ArticleSource
	results      ports.ResultStore
	logger       *slog.Logger
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewAnalysisOrchestrator constructs the orchestrator.
func NewAnalysisOrchestrator(deps AnalysisDeps) *AnalysisOrchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	maxWait := deps.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Hour
	}
	return &AnalysisOrchestrator{
		provider:     deps.Provider,
		runs:         deps.Runs,
		tracking:     deps.Tracking,
		articles:     deps.Articles,
		results:      deps.Results,
		logger:       logger,
		pollInterval: pollInterval,
		maxWait:      maxWait,
	}
}

// Analyze submits the not-yet-analyzed subset of articles for the run,
// polls the provider and records per-item outcomes. Returns the success
// and failure counts. ErrPollTimeout means the run should pause, not fail.
func (o *AnalysisOrchestrator) Analyze(ctx context.Context, articles []domain.Article, run *domain.PipelineRun) (int, int, error) {
	byID := make(map[int64]domain.Article, len(articles))
	ids := make([]int64, 0, len(articles))
	for _, article := range articles {
		byID[article.ID] = article
		ids = append(ids, article.ID)
	}

	toAnalyze, err := o.excludeSettled(ctx, ids, run.BatchHandle)
	if err != nil {
		return 0, 0, err
	}
	if len(toAnalyze) == 0 && run.BatchHandle == "" {
		return 0, 0, nil
	}

	handle := run.BatchHandle
	if handle == "" {
		handle, err = o.submit(ctx, toAnalyze, byID, run)
		if err != nil {
			return 0, 0, err
		}
	} else {
		// Resume: the handle was persisted before any tracking rows, so a
		// crash between the two leaves rows missing. Recreate only the
		// missing ones, keyed by (article, handle).
		existing, err := o.tracking.PendingIDs(ctx, handle)
		if err != nil {
			return 0, 0, err
		}
		tracked := make(map[int64]bool, len(existing))
		for _, id := range existing {
			tracked[id] = true
		}
		var missing []int64
		for _, id := range toAnalyze {
			if !tracked[id] {
				missing = append(missing, id)
			}
		}
		o.logger.Info("resuming batch", "run", run.ID, "handle", handle, "reconciled", len(missing))
		if err := o.tracking.InsertPending(ctx, missing, handle); err != nil {
			return 0, 0, err
		}
	}

	if err := o.poll(ctx, handle); err != nil {
		return 0, 0, err
	}

	results, err := o.provider.RetrieveResults(ctx, handle)
	if err != nil {
		return 0, 0, fmt.Errorf("retrieve results: %w", err)
	}

	success, failed, err := o.applyResults(ctx, handle, results, byID)
	if err != nil {
		return success, failed, err
	}

	// The batch is consumed; release the handle so a later Analyze call is
	// a no-op instead of re-polling a finished batch.
	if err := o.runs.SetBatchHandle(ctx, run.ID, ""); err != nil {
		return success, failed, err
	}
	run.BatchHandle = ""

	return success, failed, nil
}

// excludeSettled drops articles already analyzed successfully and articles
// with live pending work under a different batch handle.
func (o *AnalysisOrchestrator) excludeSettled(ctx context.Context, ids []int64, handle string) ([]int64, error) {
	done, err := o.tracking.AlreadySuccessful(ctx, ids)
	if err != nil {
		return nil, err
	}
	pending, err := o.tracking.PendingElsewhere(ctx, ids, handle)
	if err != nil {
		return nil, err
	}

	var toAnalyze []int64
	for _, id := range ids {
		if done[id] || pending[id] {
			continue
		}
		toAnalyze = append(toAnalyze, id)
	}
	return toAnalyze, nil
}

// submit sends a fresh batch and persists the handle durably before any
// tracking rows are written, so a crash in between is recoverable.
func (o *AnalysisOrchestrator) submit(ctx context.Context, ids []int64, byID map[int64]domain.Article, run *domain.PipelineRun) (string, error) {
	requests := make([]ports.AnalysisRequest, 0, len(ids))
	for _, id := range ids {
		requests = append(requests, ports.AnalysisRequest{
			CustomID: ports.CustomIDFor(id),
			Article:  byID[id],
		})
	}

	o.logger.Info("submitting batch", "run", run.ID, "articles", len(requests), "provider", o.provider.Name())
	handle, err := o.provider.SubmitBatch(ctx, requests)
	if err != nil {
		return "", fmt.Errorf("submit batch: %w", err)
	}

	if err := o.runs.SetBatchHandle(ctx, run.ID, handle); err != nil {
		return "", err
	}
	run.BatchHandle = handle

	if err := o.tracking.InsertPending(ctx, ids, handle); err != nil {
		return "", err
	}
	return handle, nil
}

// poll checks batch status until completion, terminal failure, context
// cancellation or the configured maximum wait.
func (o *AnalysisOrchestrator) poll(ctx context.Context, handle string) error {
	timer := time.NewTimer(o.pollInterval)
	defer timer.Stop()

	var waited time.Duration
	for {
		status, err := o.provider.CheckStatus(ctx, handle)
		if err != nil {
			return fmt.Errorf("check batch status: %w", err)
		}

		switch {
		case status.State == ports.BatchCompleted:
			return nil
		case status.State.Terminal():
			return &BatchError{Handle: handle, State: status.State}
		}

		if waited >= o.maxWait {
			o.logger.Warn("batch polling timed out", "handle", handle, "waited", waited)
			return ErrPollTimeout
		}

		o.logger.Debug("batch in progress",
			"handle", handle,
			"completed", status.Completed,
			"total", status.Total)

		// A slow status check can outlast the interval and leave a fired,
		// undrained timer; Reset on that timer would cut the next sleep
		// short. Stop and drain before rearming.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(o.pollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			waited += o.pollInterval
		}
	}
}

// applyResults transitions tracking rows for every item of a completed
// batch and triggers best-effort downstream storage per success.
func (o *AnalysisOrchestrator) applyResults(ctx context.Context, handle string, results []ports.AnalysisResult, byID map[int64]domain.Article) (int, int, error) {
	var success, failed int

	for _, result := range results {
		articleID, err := ports.ParseCustomID(result.CustomID)
		if err != nil {
			// Unresolvable items count as failures; they are never
			// silently dropped.
			o.logger.Error("unparseable result identifier", "custom_id", result.CustomID, "error", err)
			failed++
			continue
		}

		if !result.Success {
			failed++
			if err := o.tracking.Update(ctx, articleID, handle, domain.TrackingFailed, result.ErrorMsg, ""); err != nil {
				return success, failed, err
			}
			continue
		}

		analysis, err := domain.ParseNewsAnalysis(result.ResultJSON)
		if err != nil {
			// Schema violations are item failures, not batch failures.
			failed++
			if uerr := o.tracking.Update(ctx, articleID, handle, domain.TrackingFailed, err.Error(), ""); uerr != nil {
				return success, failed, uerr
			}
			continue
		}

		success++
		if err := o.tracking.Update(ctx, articleID, handle, domain.TrackingSuccess, "", result.ResultJSON); err != nil {
			return success, failed, err
		}

		if o.results == nil {
			continue
		}
		article, ok := byID[articleID]
		if !ok {
			loaded, err := o.articles.ByIDs(ctx, []int64{articleID})
			if err != nil || len(loaded) == 0 {
				o.logger.Warn("result for unknown article", "article", articleID)
				continue
			}
			article = loaded[0]
		}
		if err := o.results.Store(ctx, article, analysis); err != nil {
			// Storage failure does not undo the successful analysis; it
			// flips the ledger to store_failed for the storage retry path.
			o.logger.Error("result store write failed", "article", articleID, "error", err)
			if uerr := o.tracking.Update(ctx, articleID, handle, domain.TrackingStoreFailed, err.Error(), result.ResultJSON); uerr != nil {
				return success, failed, uerr
			}
		}
	}

	o.logger.Info("batch results applied", "handle", handle, "success", success, "failed", failed)
	return success, failed, nil
}

// RetryFailed re-submits every article whose latest outcome is an analysis
// failure. Old failed rows are deleted (a fresh attempt, not a mutation)
// and the new batch runs through a dedicated retry run record so its
// handle has a durable home for resume. Never touches store_failed rows.
func (o *AnalysisOrchestrator) RetryFailed(ctx context.Context) (int, int, error) {
	ids, err := o.tracking.FailedIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}

	articles, err := o.articles.ByIDs(ctx, ids)
	if err != nil {
		return 0, 0, err
	}

	stale, err := o.tracking.ListByScope(ctx, ports.ClearScope{FailedOnly: true})
	if err != nil {
		return 0, 0, err
	}
	staleIDs := make([]int64, 0, len(stale))
	for _, record := range stale {
		staleIDs = append(staleIDs, record.ID)
	}
	if _, err := o.tracking.DeleteRecords(ctx, staleIDs); err != nil {
		return 0, 0, err
	}

	now := time.Now().UTC()
	run := &domain.PipelineRun{
		Name:         fmt.Sprintf("analysis retry - %s", now.Format("2006-01-02 15:04")),
		Status:       domain.RunRunning,
		CurrentStage: domain.StageLLMAnalysis,
		StartedAt:    &now,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return 0, 0, err
	}

	success, failed, err := o.Analyze(ctx, articles, run)
	o.finalizeRetryRun(ctx, run, success, err)
	return success, failed, err
}

func (o *AnalysisOrchestrator) finalizeRetryRun(ctx context.Context, run *domain.PipelineRun, success int, analyzeErr error) {
	now := time.Now().UTC()
	run.AnalyzedCount = success
	switch {
	case analyzeErr == nil:
		run.Status = domain.RunCompleted
		run.CompletedAt = &now
	case errors.Is(analyzeErr, ErrPollTimeout):
		run.Status = domain.RunPaused
	default:
		run.Status = domain.RunFailed
		run.ErrorLog = analyzeErr.Error()
		run.CompletedAt = &now
	}
	if err := o.runs.Update(ctx, run); err != nil {
		o.logger.Error("finalize retry run", "run", run.ID, "error", err)
	}
}

// RetryStorage replays the result-store write for every store_failed row.
// It never contacts the analysis provider: the validated payload is kept
// on the tracking row for exactly this purpose.
func (o *AnalysisOrchestrator) RetryStorage(ctx context.Context) (int, int, error) {
	if o.results == nil {
		return 0, 0, fmt.Errorf("result store is not configured")
	}

	records, err := o.tracking.StoreFailedRecords(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, nil
	}

	ids := make([]int64, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ArticleID)
	}
	articles, err := o.articles.ByIDs(ctx, ids)
	if err != nil {
		return 0, 0, err
	}
	byID := make(map[int64]domain.Article, len(articles))
	for _, article := range articles {
		byID[article.ID] = article
	}

	var stored, failed int
	for _, record := range records {
		article, ok := byID[record.ArticleID]
		if !ok {
			failed++
			o.logger.Warn("store retry: article missing", "article", record.ArticleID)
			continue
		}

		analysis, err := domain.ParseNewsAnalysis(record.ResultJSON)
		if err != nil {
			failed++
			o.logger.Error("store retry: stored payload invalid", "article", record.ArticleID, "error", err)
			continue
		}

		if err := o.results.Store(ctx, article, analysis); err != nil {
			// Keep the payload on the row so the next retry can replay it.
			failed++
			if uerr := o.tracking.Update(ctx, record.ArticleID, record.BatchHandle, domain.TrackingStoreFailed, err.Error(), record.ResultJSON); uerr != nil {
				return stored, failed, uerr
			}
			continue
		}

		stored++
		if err := o.tracking.Update(ctx, record.ArticleID, record.BatchHandle, domain.TrackingSuccess, "", ""); err != nil {
			return stored, failed, err
		}
	}

	o.logger.Info("storage retry complete", "stored", stored, "failed", failed)
	return stored, failed, nil
}

// Status aggregates the tracking ledger by status.
func (o *AnalysisOrchestrator) Status(ctx context.Context) (domain.AnalysisStatus, error) {
	return o.tracking.StatusCounts(ctx)
}

// Clear deletes tracking rows in scope. For rows that reached success the
// corresponding downstream records are deleted first; the tracking delete
// is the commit point, so a partial failure leaves the ledger intact and
// the clear can simply be re-run.
func (o *AnalysisOrchestrator) Clear(ctx context.Context, scope ports.ClearScope) (int64, error) {
	records, err := o.tracking.ListByScope(ctx, scope)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	var successIDs []int64
	recordIDs := make([]int64, 0, len(records))
	for _, record := range records {
		recordIDs = append(recordIDs, record.ID)
		if record.Status == domain.TrackingSuccess {
			successIDs = append(successIDs, record.ArticleID)
		}
	}

	if len(successIDs) > 0 && o.results != nil {
		articles, err := o.articles.ByIDs(ctx, successIDs)
		if err != nil {
			return 0, err
		}
		externalIDs := make([]string, 0, len(articles))
		for _, article := range articles {
			externalIDs = append(externalIDs, article.ExternalID())
		}
		deleted, err := o.results.DeleteByExternalIDs(ctx, externalIDs)
		if err != nil {
			return 0, fmt.Errorf("delete downstream records: %w", err)
		}
		o.logger.Info("downstream records deleted", "count", deleted)
	}

	return o.tracking.DeleteRecords(ctx, recordIDs)
}
