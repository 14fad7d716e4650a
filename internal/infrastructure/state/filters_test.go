package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/rules"
)

func TestSeedDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(testDB(t))

	require.NoError(t, store.Seed(ctx, rules.Defaults()))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(rules.Defaults()))

	// Deactivate one rule, reseed, and check the edit survives.
	edited := all[0]
	edited.Active = false
	require.NoError(t, store.db.Save(&edited).Error)

	require.NoError(t, store.Seed(ctx, rules.Defaults()))

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, len(rules.Defaults())-1)
}

func TestIncrementFiltered(t *testing.T) {
	ctx := context.Background()
	store := NewRuleStore(testDB(t))
	require.NoError(t, store.Seed(ctx, rules.Defaults()))

	require.NoError(t, store.IncrementFiltered(ctx, map[string]int64{"horoscope_filter": 3}))
	require.NoError(t, store.IncrementFiltered(ctx, map[string]int64{"horoscope_filter": 2, "lottery_filter": 1}))

	all, err := store.All(ctx)
	require.NoError(t, err)
	byName := map[string]int64{}
	for _, rule := range all {
		byName[rule.Name] = rule.TotalFiltered
	}
	require.Equal(t, int64(5), byName["horoscope_filter"])
	require.Equal(t, int64(1), byName["lottery_filter"])
}

func TestFilterResultCountsAndReset(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewFilterResultStore(db)

	results := []domain.RuleFilterResult{
		{RunID: 1, ArticleID: 1, Stage: domain.StageRuleFilter, Decision: domain.DecisionKeep},
		{RunID: 1, ArticleID: 2, Stage: domain.StageRuleFilter, Decision: domain.DecisionFilter, RuleName: "horoscope_filter"},
		{RunID: 1, ArticleID: 3, Stage: domain.StageRuleFilter, Decision: domain.DecisionForceInclude},
		{RunID: 2, ArticleID: 1, Stage: domain.StageRuleFilter, Decision: domain.DecisionKeep},
	}
	require.NoError(t, store.SaveResults(ctx, results))

	passed, rejected, forced, err := store.CountsForRun(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), passed)
	require.Equal(t, int64(1), rejected)
	require.Equal(t, int64(1), forced)

	ids, err := store.PassedArticleIDs(ctx, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 3}, ids)

	deleted, err := store.DeleteForRun(ctx, 1, domain.StageRuleFilter)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	// Other runs are untouched.
	passed, _, _, err = store.CountsForRun(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), passed)
}

func TestListForRunJoinsArticles(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	store := NewFilterResultStore(db)

	require.NoError(t, db.Create(&domain.Article{
		ID: 1, URL: "https://example.org/a", URLHash: "h1",
		Title: "daily horoscope", Source: "example", Category: "lifestyle",
	}).Error)
	require.NoError(t, store.SaveResults(ctx, []domain.RuleFilterResult{
		{RunID: 1, ArticleID: 1, Stage: domain.StageRuleFilter, Decision: domain.DecisionFilter, RuleName: "horoscope_filter", Reason: "horoscope content"},
	}))

	items, err := store.ListForRun(ctx, 1, false, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "daily horoscope", items[0].Title)
	require.Equal(t, "horoscope_filter", items[0].RuleName)
}

func TestForceIncludeStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewForceIncludeStore(testDB(t))

	require.NoError(t, store.Add(ctx, &domain.ForceInclude{ArticleID: 7, Reason: "editorial pick", AddedBy: "ops"}))
	require.ErrorIs(t, store.Add(ctx, &domain.ForceInclude{ArticleID: 7}), ErrAlreadyForceIncluded)

	ids, err := store.IDs(ctx)
	require.NoError(t, err)
	require.True(t, ids[7])

	removed, err := store.Remove(ctx, 7)
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = store.Remove(ctx, 7)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestRunStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewRunStore(testDB(t))

	run := &domain.PipelineRun{Name: "nightly"}
	require.NoError(t, store.Create(ctx, run))
	require.NotZero(t, run.ID)
	require.Equal(t, domain.RunCreated, run.Status)

	require.NoError(t, store.SetBatchHandle(ctx, run.ID, "batch_77"))

	loaded, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "batch_77", loaded.BatchHandle)

	now := time.Now().UTC()
	loaded.Status = domain.RunCompleted
	loaded.TotalArticles = 10
	loaded.RuleFilteredCount = 4
	loaded.AnalyzedCount = 6
	loaded.CompletedAt = &now
	require.NoError(t, store.Update(ctx, loaded))

	missing, err := store.Get(ctx, 9999)
	require.NoError(t, err)
	require.Nil(t, missing)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), totals.TotalRuns)
	require.Equal(t, int64(1), totals.CompletedRuns)
	require.Equal(t, int64(10), totals.TotalArticles)
	require.Equal(t, int64(4), totals.TotalRuleFiltered)
	require.InDelta(t, 40.0, totals.AvgFilterRate, 0.01)
}
