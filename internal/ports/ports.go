package ports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"NewsPipeline/internal/domain"
)

// ErrProviderUnavailable marks transport or auth failures talking to an
// analysis provider. Not retried by the core; the run is marked failed.
var ErrProviderUnavailable = errors.New("analysis provider unavailable")

// ErrBatchNotReady is returned by RetrieveResults when the batch has not
// reached the completed state yet.
var ErrBatchNotReady = errors.New("batch results not ready")

// BatchState is the provider-side lifecycle state of a submitted batch.
type BatchState string

const (
	BatchPending    BatchState = "pending"
	BatchInProgress BatchState = "in_progress"
	BatchCompleted  BatchState = "completed"
	BatchFailed     BatchState = "failed"
	BatchExpired    BatchState = "expired"
	BatchCancelled  BatchState = "cancelled"
)

// Terminal reports whether the state is a dead end for the batch.
func (s BatchState) Terminal() bool {
	return s == BatchFailed || s == BatchExpired || s == BatchCancelled
}

// BatchStatus is the result of a status check. Checks must be idempotent
// and side-effect-free from the caller's point of view.
type BatchStatus struct {
	State     BatchState
	Total     int
	Completed int
	Failed    int
}

// AnalysisRequest is one article to analyze within a batch.
type AnalysisRequest struct {
	CustomID string
	Article  domain.Article
}

// CustomIDFor builds the stable per-article identifier carried through a
// provider round trip.
func CustomIDFor(articleID int64) string {
	return fmt.Sprintf("article_%d", articleID)
}

// ParseCustomID recovers the article id from a provider custom id.
func ParseCustomID(customID string) (int64, error) {
	raw, ok := strings.CutPrefix(customID, "article_")
	if !ok {
		return 0, fmt.Errorf("custom id %q has no article prefix", customID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("custom id %q: %w", customID, err)
	}
	return id, nil
}

// AnalysisResult is one per-item outcome from a completed batch. A batch
// can complete overall while individual items fail; that is not a
// batch-level failure.
type AnalysisResult struct {
	CustomID   string
	Success    bool
	ResultJSON string
	ErrorMsg   string
}

// AnalysisProvider abstracts a batch-capable analysis backend. Submission
// is the unit of external cost, so the contract operates on lists; dedup
// and retry granularity are the orchestrator's concern.
type AnalysisProvider interface {
	Name() string
	SubmitBatch(ctx context.Context, requests []AnalysisRequest) (string, error)
	CheckStatus(ctx context.Context, handle string) (BatchStatus, error)
	RetrieveResults(ctx context.Context, handle string) ([]AnalysisResult, error)
}

// ArticleSource is the external fetch collaborator: given a date range or
// explicit id list it returns articles, read-only.
type ArticleSource interface {
	CountForRange(ctx context.Context, from, to *time.Time) (int64, error)
	FetchForRange(ctx context.Context, from, to *time.Time, limit int) ([]domain.Article, error)
	ByIDs(ctx context.Context, ids []int64) ([]domain.Article, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// RunStore persists pipeline runs. SetBatchHandle must commit durably
// before the caller proceeds; it is the resume anchor.
type RunStore interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	Get(ctx context.Context, id int64) (*domain.PipelineRun, error)
	Update(ctx context.Context, run *domain.PipelineRun) error
	SetBatchHandle(ctx context.Context, runID int64, handle string) error
	Recent(ctx context.Context, limit int) ([]domain.PipelineRun, error)
	Totals(ctx context.Context) (domain.OverallStats, error)
}

// ClearScope selects tracking rows for deletion. Exactly one selector is
// meaningful per call: All, FailedOnly, ArticleID, or BatchHandle.
type ClearScope struct {
	All         bool
	FailedOnly  bool
	ArticleID   int64
	BatchHandle string
}

// TrackingStore is the analysis ledger, the single source of truth for
// "has this article been analyzed" and "did storage of its result succeed".
type TrackingStore interface {
	// InsertPending bulk-creates pending rows for a batch. It is an
	// idempotent upsert keyed by (article id, batch handle) so resume
	// reconciliation can recreate missing rows safely.
	InsertPending(ctx context.Context, articleIDs []int64, handle string) error
	// Update transitions the (article, handle) row; resolution falls back
	// to the most recent pending row for the article when no handle row
	// exists.
	Update(ctx context.Context, articleID int64, handle string, status domain.TrackingStatus, errMsg, resultJSON string) error
	AlreadySuccessful(ctx context.Context, articleIDs []int64) (map[int64]bool, error)
	// PendingElsewhere reports articles with a pending row under a batch
	// handle other than the given one (live work from another orchestrator).
	PendingElsewhere(ctx context.Context, articleIDs []int64, handle string) (map[int64]bool, error)
	PendingIDs(ctx context.Context, handle string) ([]int64, error)
	FailedIDs(ctx context.Context) ([]int64, error)
	StoreFailedRecords(ctx context.Context) ([]domain.TrackingRecord, error)
	StatusCounts(ctx context.Context) (domain.AnalysisStatus, error)
	ListByScope(ctx context.Context, scope ClearScope) ([]domain.TrackingRecord, error)
	DeleteRecords(ctx context.Context, recordIDs []int64) (int64, error)
}

// FilterResultStore persists per-run rule filter outcomes.
type FilterResultStore interface {
	SaveResults(ctx context.Context, results []domain.RuleFilterResult) error
	DeleteForRun(ctx context.Context, runID int64, stage domain.PipelineStage) (int64, error)
	CountsForRun(ctx context.Context, runID int64) (passed, rejected, forced int64, err error)
	PassedArticleIDs(ctx context.Context, runID int64) ([]int64, error)
	ListForRun(ctx context.Context, runID int64, passed bool, limit int) ([]domain.ReviewItem, error)
}

// RuleStore persists the ordered rule set.
type RuleStore interface {
	Seed(ctx context.Context, rules []domain.FilterRule) error
	Active(ctx context.Context) ([]domain.FilterRule, error)
	All(ctx context.Context) ([]domain.FilterRule, error)
	IncrementFiltered(ctx context.Context, counts map[string]int64) error
}

// ForceIncludeStore manages the operator override list.
type ForceIncludeStore interface {
	Add(ctx context.Context, entry *domain.ForceInclude) error
	Remove(ctx context.Context, articleID int64) (bool, error)
	List(ctx context.Context) ([]domain.ForceInclude, error)
	IDs(ctx context.Context) (map[int64]bool, error)
}

// ResultStore persists successful analysis payloads downstream. Store uses
// one transaction per article and treats an existing record as success.
type ResultStore interface {
	Store(ctx context.Context, article domain.Article, analysis domain.NewsAnalysis) error
	DeleteByExternalIDs(ctx context.Context, externalIDs []string) (int64, error)
}

// RunEvent is a status/stage transition broadcast for external observers.
type RunEvent struct {
	RunID   int64                `json:"run_id"`
	Status  domain.RunStatus     `json:"status"`
	Stage   domain.PipelineStage `json:"stage"`
	Message string               `json:"message,omitempty"`
}

// EventPublisher pushes run events to an external channel. Publishing is
// best-effort; failures must never fail a run.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, event RunEvent) error
}
