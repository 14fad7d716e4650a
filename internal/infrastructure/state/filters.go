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

// FilterResultStore persists per-run rule filter outcomes.
type FilterResultStore struct {
	db *gorm.DB
}

var _ ports.FilterResultStore = (*FilterResultStore)(nil)

func NewFilterResultStore(db *gorm.DB) *FilterResultStore {
	return &FilterResultStore{db: db}
}

// SaveResults appends filter rows for a run.
func (s *FilterResultStore) SaveResults(ctx context.Context, results []domain.RuleFilterResult) error {
	if len(results) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&results).Error; err != nil {
		return fmt.Errorf("save filter results: %w", err)
	}
	return nil
}

// DeleteForRun removes a run's results at the given stage (reset support).
func (s *FilterResultStore) DeleteForRun(ctx context.Context, runID int64, stage domain.PipelineStage) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("run_id = ? AND stage = ?", runID, stage).
		Delete(&domain.RuleFilterResult{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete filter results: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountsForRun aggregates a run's filter outcomes.
func (s *FilterResultStore) CountsForRun(ctx context.Context, runID int64) (passed, rejected, forced int64, err error) {
	type row struct {
		Decision domain.FilterDecision
		N        int64
	}
	var counted []row
	err = s.db.WithContext(ctx).
		Model(&domain.RuleFilterResult{}).
		Select("decision, COUNT(*) AS n").
		Where("run_id = ? AND stage = ?", runID, domain.StageRuleFilter).
		Group("decision").
		Scan(&counted).
		Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count filter results: %w", err)
	}

	for _, r := range counted {
		switch r.Decision {
		case domain.DecisionKeep:
			passed += r.N
		case domain.DecisionForceInclude:
			passed += r.N
			forced += r.N
		case domain.DecisionFilter:
			rejected += r.N
		}
	}
	return passed, rejected, forced, nil
}

// PassedArticleIDs lists articles the rule filter let through for a run.
func (s *FilterResultStore) PassedArticleIDs(ctx context.Context, runID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&domain.RuleFilterResult{}).
		Where("run_id = ? AND stage = ?", runID, domain.StageRuleFilter).
		Where("decision IN ?", []domain.FilterDecision{domain.DecisionKeep, domain.DecisionForceInclude}).
		Pluck("article_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("query passed articles: %w", err)
	}
	return ids, nil
}

// ListForRun joins filter rows with their articles for review output.
func (s *FilterResultStore) ListForRun(ctx context.Context, runID int64, passed bool, limit int) ([]domain.ReviewItem, error) {
	decisions := []domain.FilterDecision{domain.DecisionFilter}
	if passed {
		decisions = []domain.FilterDecision{domain.DecisionKeep, domain.DecisionForceInclude}
	}

	var items []domain.ReviewItem
	err := s.db.WithContext(ctx).
		Table("rule_filter_results").
		Select(`rule_filter_results.article_id,
			news_articles.title,
			news_articles.source,
			news_articles.category,
			rule_filter_results.decision,
			rule_filter_results.rule_name,
			rule_filter_results.reason`).
		Joins("JOIN news_articles ON news_articles.id = rule_filter_results.article_id").
		Where("rule_filter_results.run_id = ?", runID).
		Where("rule_filter_results.decision IN ?", decisions).
		Limit(limit).
		Scan(&items).
		Error
	if err != nil {
		return nil, fmt.Errorf("list review items: %w", err)
	}
	return items, nil
}

// RuleStore persists the ordered rule set.
type RuleStore struct {
	db *gorm.DB
}

var _ ports.RuleStore = (*RuleStore)(nil)

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

// Seed inserts rules that do not exist yet, matched by name.
func (s *RuleStore) Seed(ctx context.Context, rules []domain.FilterRule) error {
	for _, rule := range rules {
		var existing int64
		err := s.db.WithContext(ctx).
			Model(&domain.FilterRule{}).
			Where("name = ?", rule.Name).
			Count(&existing).
			Error
		if err != nil {
			return fmt.Errorf("check rule %s: %w", rule.Name, err)
		}
		if existing > 0 {
			continue
		}
		if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.Name, err)
		}
	}
	return nil
}

// Active lists active rules in insertion order.
func (s *RuleStore) Active(ctx context.Context) ([]domain.FilterRule, error) {
	var rules []domain.FilterRule
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&rules).
		Error
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	return rules, nil
}

// All lists every rule, active or not.
func (s *RuleStore) All(ctx context.Context) ([]domain.FilterRule, error) {
	var rules []domain.FilterRule
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

// IncrementFiltered adds per-rule hit counts accumulated during a run.
func (s *RuleStore) IncrementFiltered(ctx context.Context, counts map[string]int64) error {
	for name, n := range counts {
		if n == 0 {
			continue
		}
		err := s.db.WithContext(ctx).
			Model(&domain.FilterRule{}).
			Where("name = ?", name).
			Update("total_filtered", gorm.Expr("total_filtered + ?", n)).
			Error
		if err != nil {
			return fmt.Errorf("increment rule %s: %w", name, err)
		}
	}
	return nil
}

// ForceIncludeStore manages the operator override list.
type ForceIncludeStore struct {
	db *gorm.DB
}

var _ ports.ForceIncludeStore = (*ForceIncludeStore)(nil)

func NewForceIncludeStore(db *gorm.DB) *ForceIncludeStore {
	return &ForceIncludeStore{db: db}
}

// ErrAlreadyForceIncluded is returned when adding a duplicate entry.
var ErrAlreadyForceIncluded = errors.New("article is already force-included")

// Add inserts a new entry; duplicates by article id are rejected.
func (s *ForceIncludeStore) Add(ctx context.Context, entry *domain.ForceInclude) error {
	var existing int64
	err := s.db.WithContext(ctx).
		Model(&domain.ForceInclude{}).
		Where("article_id = ?", entry.ArticleID).
		Count(&existing).
		Error
	if err != nil {
		return fmt.Errorf("check force-include: %w", err)
	}
	if existing > 0 {
		return ErrAlreadyForceIncluded
	}

	entry.CreatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("add force-include: %w", err)
	}
	return nil
}

// Remove deletes by article id; false when nothing matched.
func (s *ForceIncludeStore) Remove(ctx context.Context, articleID int64) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("article_id = ?", articleID).
		Delete(&domain.ForceInclude{})
	if result.Error != nil {
		return false, fmt.Errorf("remove force-include: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// List returns all entries, oldest first.
func (s *ForceIncludeStore) List(ctx context.Context) ([]domain.ForceInclude, error) {
	var entries []domain.ForceInclude
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list force-includes: %w", err)
	}
	return entries, nil
}

// IDs returns the override set for rule evaluation.
func (s *ForceIncludeStore) IDs(ctx context.Context) (map[int64]bool, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&domain.ForceInclude{}).
		Pluck("article_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("load force-include ids: %w", err)
	}
	return toSet(ids), nil
}
