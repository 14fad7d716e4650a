package domain

import "time"

// PipelineStage enumerates the stages of one run, in execution order.
type PipelineStage string

const (
	StageFetch       PipelineStage = "fetch"
	StageRuleFilter  PipelineStage = "rule_filter"
	StageLLMAnalysis PipelineStage = "llm_analysis"
	StageStore       PipelineStage = "store"
)

// StageOrder lists resettable stages in execution order.
var StageOrder = []PipelineStage{StageRuleFilter, StageLLMAnalysis, StageStore}

// Before reports whether s comes strictly before other in the stage sequence.
func (s PipelineStage) Before(other PipelineStage) bool {
	order := map[PipelineStage]int{
		StageFetch:       0,
		StageRuleFilter:  1,
		StageLLMAnalysis: 2,
		StageStore:       3,
	}
	return order[s] < order[other]
}

// RunStatus enumerates pipeline run lifecycle states.
type RunStatus string

const (
	RunCreated   RunStatus = "created"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunFailed    RunStatus = "failed"
	RunCompleted RunStatus = "completed"
)

// PipelineRun is one execution instance of the pipeline over a bounded
// article set. A run holds at most one live batch handle at a time.
type PipelineRun struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Name              string `gorm:"size:200"`
	Status            RunStatus
	CurrentStage      PipelineStage
	DateFrom          *time.Time
	DateTo            *time.Time
	BatchHandle       string `gorm:"size:128"`
	TotalArticles     int
	RulePassedCount   int
	RuleFilteredCount int
	ForceIncludeCount int
	AnalyzedCount     int
	ErrorLog          string
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (PipelineRun) TableName() string { return "pipeline_runs" }

// FilterDecision is the outcome of rule filtering for one article.
type FilterDecision string

const (
	DecisionKeep         FilterDecision = "keep"
	DecisionFilter       FilterDecision = "filter"
	DecisionForceInclude FilterDecision = "force_include"
)

// Passed reports whether the article continues down the pipeline.
func (d FilterDecision) Passed() bool {
	return d == DecisionKeep || d == DecisionForceInclude
}

// RuleFilterResult records the filter outcome of one article in one run.
// Rows are append-only per run and superseded only by a reset.
type RuleFilterResult struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	RunID     int64 `gorm:"index"`
	ArticleID int64 `gorm:"index"`
	Stage     PipelineStage
	Decision  FilterDecision
	RuleName  string `gorm:"size:100"`
	Reason    string
	CreatedAt time.Time
}

func (RuleFilterResult) TableName() string { return "rule_filter_results" }

// RuleType selects the matching strategy of a filter rule.
type RuleType string

const (
	RuleKeyword  RuleType = "keyword"
	RulePattern  RuleType = "pattern"
	RuleCategory RuleType = "category"
)

// FilterRule is a persisted, ordered filtering rule. Config is a JSON blob
// interpreted by the rule engine according to Type.
type FilterRule struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Name          string `gorm:"size:100;uniqueIndex"`
	Description   string
	Type          RuleType
	Config        string
	Active        bool `gorm:"default:true"`
	TotalFiltered int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (FilterRule) TableName() string { return "filter_rules" }

// ForceInclude is an operator override forcing an article past rule
// filtering. Independent of any run; persists until explicitly removed.
type ForceInclude struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	ArticleID int64 `gorm:"uniqueIndex"`
	Reason    string
	AddedBy   string `gorm:"size:100"`
	CreatedAt time.Time
}

func (ForceInclude) TableName() string { return "force_includes" }

// TrackingStatus enumerates analysis ledger states. StoreFailed means the
// analysis itself succeeded but downstream persistence did not; its
// remediation path (retry-storage) is disjoint from analysis failure.
type TrackingStatus string

const (
	TrackingPending     TrackingStatus = "pending"
	TrackingSuccess     TrackingStatus = "success"
	TrackingFailed      TrackingStatus = "failed"
	TrackingStoreFailed TrackingStatus = "store_failed"
)

// TrackingRecord is one per-article ledger entry per submission attempt.
// It is keyed by article, not by run, and outlives both runs and resets:
// it is the cross-run dedup ledger for "has this article been analyzed".
type TrackingRecord struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ArticleID   int64  `gorm:"index"`
	BatchHandle string `gorm:"size:128;index"`
	Status      TrackingStatus
	ErrorMsg    string
	ResultJSON  string // kept on success so storage can be replayed
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (TrackingRecord) TableName() string { return "analysis_tracking" }

// RunStats is the aggregate view of one run used by review/stats commands.
type RunStats struct {
	RunID           int64
	Name            string
	Status          RunStatus
	Stage           PipelineStage
	TotalArticles   int
	Passed          int
	Rejected        int
	ForceIncluded   int
	Analyzed        int
	FilterRate      float64
	DurationSeconds float64
}

// ReviewItem is one row of a run review listing (filter result joined with
// its article).
type ReviewItem struct {
	ArticleID int64          `json:"article_id"`
	Title     string         `json:"title"`
	Source    string         `json:"source"`
	Category  string         `json:"category"`
	Decision  FilterDecision `json:"decision"`
	RuleName  string         `json:"rule_name"`
	Reason    string         `json:"reason"`
}

// OverallStats aggregates every run ever executed.
type OverallStats struct {
	TotalRuns         int64
	CompletedRuns     int64
	TotalArticles     int64
	TotalRuleFiltered int64
	TotalAnalyzed     int64
	AvgFilterRate     float64
}

// AnalysisStatus is the aggregate view of the tracking ledger.
type AnalysisStatus struct {
	Pending     int64
	Success     int64
	Failed      int64
	StoreFailed int64
}
