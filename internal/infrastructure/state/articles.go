package state

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// ArticleSource reads crawled articles from the shared articles table. The
// pipeline treats articles as read-only input.
type ArticleSource struct {
	db *gorm.DB
}

var _ ports.ArticleSource = (*ArticleSource)(nil)

func NewArticleSource(db *gorm.DB) *ArticleSource {
	return &ArticleSource{db: db}
}

// CountForRange counts articles inside the run's date window.
func (s *ArticleSource) CountForRange(ctx context.Context, from, to *time.Time) (int64, error) {
	var count int64
	if err := s.rangeQuery(ctx, from, to).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return count, nil
}

// FetchForRange loads articles inside the window, newest first. A limit of
// zero means no limit.
func (s *ArticleSource) FetchForRange(ctx context.Context, from, to *time.Time, limit int) ([]domain.Article, error) {
	query := s.rangeQuery(ctx, from, to).Order("published_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var articles []domain.Article
	if err := query.Find(&articles).Error; err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	return articles, nil
}

// ByIDs loads the given articles; ids with no row are silently absent.
func (s *ArticleSource) ByIDs(ctx context.Context, ids []int64) ([]domain.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var articles []domain.Article
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&articles).Error; err != nil {
		return nil, fmt.Errorf("load articles by id: %w", err)
	}
	return articles, nil
}

// Exists reports whether an article id is known.
func (s *ArticleSource) Exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Article{}).
		Where("id = ?", id).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("check article %d: %w", id, err)
	}
	return count > 0, nil
}

func (s *ArticleSource) rangeQuery(ctx context.Context, from, to *time.Time) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&domain.Article{})
	if from != nil {
		query = query.Where("published_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("published_at <= ?", *to)
	}
	return query
}
