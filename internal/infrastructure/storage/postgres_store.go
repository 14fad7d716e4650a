package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/ports"
)

// dedupWindow bounds the published-at range of the duplicate check. The
// same external id republished outside the window counts as a new story.
const dedupWindow = 7 * 24 * time.Hour

// PostgresResultStore persists analyzed articles into the downstream
// analytics database. One transaction per article; an already stored
// external id is a no-op success, so replays are safe.
type PostgresResultStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ResultStore = (*PostgresResultStore)(nil)

// NewPostgresResultStore wires a sql.DB implementation.
func NewPostgresResultStore(db *sql.DB) *PostgresResultStore {
	return &PostgresResultStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Store writes one article with its analysis.
func (s *PostgresResultStore) Store(ctx context.Context, article domain.Article, analysis domain.NewsAnalysis) error {
	if s.db == nil {
		return fmt.Errorf("result store not configured")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := s.existsInWindow(ctx, tx, article)
	if err != nil {
		return err
	}
	if exists {
		return tx.Commit()
	}

	entities, err := json.Marshal(analysis.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	events, err := json.Marshal(analysis.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	entityRels, err := json.Marshal(analysis.EntityRelations)
	if err != nil {
		return fmt.Errorf("marshal entity relations: %w", err)
	}
	eventRels, err := json.Marshal(analysis.EventRelations)
	if err != nil {
		return fmt.Errorf("marshal event relations: %w", err)
	}
	keyClaims, err := json.Marshal(analysis.Signals.KeyClaims)
	if err != nil {
		return fmt.Errorf("marshal key claims: %w", err)
	}

	publishedAt := time.Now().UTC()
	if article.PublishedAt != nil {
		publishedAt = *article.PublishedAt
	}

	query, args, err := s.builder.
		Insert("analyzed_articles").
		Columns(
			"external_id", "url", "title", "source", "author", "published_at",
			"sentiment_polarity", "sentiment_intensity", "sentiment_tone",
			"framing_angle", "narrative_type",
			"entities", "events", "entity_relations", "event_relations",
			"is_exclusive", "is_opinion", "has_update", "key_claims", "virality_score",
			"category_normalized", "stored_at",
		).
		Values(
			article.ExternalID(), article.URL, article.Title, article.Source, article.Author, publishedAt,
			analysis.Sentiment.Polarity, analysis.Sentiment.Intensity, analysis.Sentiment.Tone,
			analysis.Framing.Angle, analysis.Framing.NarrativeType,
			entities, events, entityRels, eventRels,
			analysis.Signals.IsExclusive, analysis.Signals.IsOpinion, analysis.Signals.HasUpdate,
			keyClaims, analysis.Signals.ViralityScore,
			analysis.Category, time.Now().UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert analyzed article %s: %w", article.ExternalID(), err)
	}
	return tx.Commit()
}

func (s *PostgresResultStore) existsInWindow(ctx context.Context, tx *sql.Tx, article domain.Article) (bool, error) {
	publishedAt := time.Now().UTC()
	if article.PublishedAt != nil {
		publishedAt = *article.PublishedAt
	}

	query, args, err := s.builder.
		Select("1").
		From("analyzed_articles").
		Where(sq.Eq{"external_id": article.ExternalID()}).
		Where(sq.GtOrEq{"published_at": publishedAt.Add(-dedupWindow)}).
		Where(sq.LtOrEq{"published_at": publishedAt.Add(dedupWindow)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing article %s: %w", article.ExternalID(), err)
	}
	return true, nil
}

// DeleteByExternalIDs removes stored results for the given articles and
// reports how many rows went away.
func (s *PostgresResultStore) DeleteByExternalIDs(ctx context.Context, externalIDs []string) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("result store not configured")
	}
	if len(externalIDs) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analyzed_articles WHERE external_id = ANY($1)`,
		pq.StringArray(externalIDs))
	if err != nil {
		return 0, fmt.Errorf("delete analyzed articles: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// Open connects to the downstream Postgres database.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
