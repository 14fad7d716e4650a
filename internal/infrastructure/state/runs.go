package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// RunStore persists pipeline runs.
type RunStore struct {
	db *gorm.DB
}

var _ ports.RunStore = (*RunStore)(nil)

// NewRunStore wires a gorm handle.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a new run in the created state.
func (s *RunStore) Create(ctx context.Context, run *domain.PipelineRun) error {
	if run.Status == "" {
		run.Status = domain.RunCreated
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// Get loads a run by id, nil when absent.
func (s *RunStore) Get(ctx context.Context, id int64) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := s.db.WithContext(ctx).First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run %d: %w", id, err)
	}
	return &run, nil
}

// Update persists the whole run record.
func (s *RunStore) Update(ctx context.Context, run *domain.PipelineRun) error {
	run.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	return nil
}

// SetBatchHandle durably records the batch handle on the run. The caller
// relies on this commit happening before any tracking rows are written.
func (s *RunStore) SetBatchHandle(ctx context.Context, runID int64, handle string) error {
	err := s.db.WithContext(ctx).
		Model(&domain.PipelineRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{"batch_handle": handle, "updated_at": time.Now().UTC()}).
		Error
	if err != nil {
		return fmt.Errorf("persist batch handle for run %d: %w", runID, err)
	}
	return nil
}

// Totals aggregates all runs for the overall stats view.
func (s *RunStore) Totals(ctx context.Context) (domain.OverallStats, error) {
	type row struct {
		Runs      int64
		Completed int64
		Articles  int64
		Filtered  int64
		Analyzed  int64
	}
	var totals row
	err := s.db.WithContext(ctx).
		Model(&domain.PipelineRun{}).
		Select(`COUNT(*) AS runs,
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed,
			COALESCE(SUM(total_articles), 0) AS articles,
			COALESCE(SUM(rule_filtered_count), 0) AS filtered,
			COALESCE(SUM(analyzed_count), 0) AS analyzed`, domain.RunCompleted).
		Scan(&totals).
		Error
	if err != nil {
		return domain.OverallStats{}, fmt.Errorf("aggregate runs: %w", err)
	}

	stats := domain.OverallStats{
		TotalRuns:         totals.Runs,
		CompletedRuns:     totals.Completed,
		TotalArticles:     totals.Articles,
		TotalRuleFiltered: totals.Filtered,
		TotalAnalyzed:     totals.Analyzed,
	}
	if stats.TotalArticles > 0 {
		stats.AvgFilterRate = 100 * float64(stats.TotalRuleFiltered) / float64(stats.TotalArticles)
	}
	return stats, nil
}

// Recent lists the newest runs, newest first.
func (s *RunStore) Recent(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	var runs []domain.PipelineRun
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).
		Error
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	return runs, nil
}
