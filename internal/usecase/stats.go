package usecase

import (
	"context"
	"fmt"
	"time"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// StatsService builds the review and stats read models.
type StatsService struct {
	runs          ports.RunStore
	filterResults ports.FilterResultStore
}

// NewStatsService wires the read-side stores.
func NewStatsService(runs ports.RunStore, filterResults ports.FilterResultStore) *StatsService {
	return &StatsService{runs: runs, filterResults: filterResults}
}

// RunStats assembles the aggregate view of one run.
func (s *StatsService) RunStats(ctx context.Context, runID int64) (*domain.RunStats, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}

	passed, rejected, forced, err := s.filterResults.CountsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	stats := &domain.RunStats{
		RunID:         run.ID,
		Name:          run.Name,
		Status:        run.Status,
		Stage:         run.CurrentStage,
		TotalArticles: run.TotalArticles,
		Passed:        int(passed),
		Rejected:      int(rejected),
		ForceIncluded: int(forced),
		Analyzed:      run.AnalyzedCount,
	}
	if total := passed + rejected; total > 0 {
		stats.FilterRate = 100 * float64(rejected) / float64(total)
	}
	if run.StartedAt != nil {
		end := time.Now().UTC()
		if run.CompletedAt != nil {
			end = *run.CompletedAt
		}
		stats.DurationSeconds = end.Sub(*run.StartedAt).Seconds()
	}
	return stats, nil
}

// Overall aggregates every run plus the most recent ones for display.
func (s *StatsService) Overall(ctx context.Context, recentLimit int) (domain.OverallStats, []domain.PipelineRun, error) {
	totals, err := s.runs.Totals(ctx)
	if err != nil {
		return domain.OverallStats{}, nil, err
	}
	if recentLimit < 1 {
		recentLimit = 10
	}
	recent, err := s.runs.Recent(ctx, recentLimit)
	if err != nil {
		return domain.OverallStats{}, nil, err
	}
	return totals, recent, nil
}

// Review lists filter outcomes of one run, either the passed or the
// rejected side.
func (s *StatsService) Review(ctx context.Context, runID int64, passed bool, limit int) ([]domain.ReviewItem, error) {
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if limit < 1 {
		limit = 50
	}
	return s.filterResults.ListForRun(ctx, runID, passed, limit)
}
