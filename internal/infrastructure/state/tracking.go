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

// TrackingStore is the gorm-backed analysis ledger.
type TrackingStore struct {
	db *gorm.DB
}

var _ ports.TrackingStore = (*TrackingStore)(nil)

// NewTrackingStore wires a gorm handle.
func NewTrackingStore(db *gorm.DB) *TrackingStore {
	return &TrackingStore{db: db}
}

// InsertPending bulk-creates pending rows for a batch. Upsert semantics
// keyed by (article id, batch handle) make resume reconciliation safe: a
// row that already exists is left untouched.
func (s *TrackingStore) InsertPending(ctx context.Context, articleIDs []int64, handle string) error {
	if len(articleIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]domain.TrackingRecord, 0, len(articleIDs))
	for _, id := range articleIDs {
		rows = append(rows, domain.TrackingRecord{
			ArticleID:   id,
			BatchHandle: handle,
			Status:      domain.TrackingPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			var existing int64
			err := tx.Model(&domain.TrackingRecord{}).
				Where("article_id = ? AND batch_handle = ?", row.ArticleID, row.BatchHandle).
				Count(&existing).
				Error
			if err != nil {
				return err
			}
			if existing > 0 {
				continue
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert pending rows: %w", err)
	}
	return nil
}

// Update transitions one row. Resolution is by (article id, batch handle);
// when no row carries the handle it falls back to the most recent pending
// row for the article, guarding against rows written by older attempts.
func (s *TrackingStore) Update(ctx context.Context, articleID int64, handle string, status domain.TrackingStatus, errMsg, resultJSON string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record domain.TrackingRecord
		err := tx.Where("article_id = ? AND batch_handle = ?", articleID, handle).
			Order("created_at DESC").
			First(&record).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.Where("article_id = ? AND status = ?", articleID, domain.TrackingPending).
				Order("created_at DESC").
				First(&record).
				Error
		}
		if err != nil {
			return fmt.Errorf("locate tracking row for article %d: %w", articleID, err)
		}

		record.Status = status
		record.ErrorMsg = errMsg
		if resultJSON != "" {
			record.ResultJSON = resultJSON
		}
		record.UpdatedAt = time.Now().UTC()

		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("update tracking row for article %d: %w", articleID, err)
		}
		return nil
	})
}

// AlreadySuccessful returns the subset of ids with a success row.
func (s *TrackingStore) AlreadySuccessful(ctx context.Context, articleIDs []int64) (map[int64]bool, error) {
	return s.idsWhere(ctx, articleIDs, "status = ?", domain.TrackingSuccess)
}

// PendingElsewhere returns ids that have a pending row under a different
// batch handle, i.e. live work owned by another orchestrator instance.
func (s *TrackingStore) PendingElsewhere(ctx context.Context, articleIDs []int64, handle string) (map[int64]bool, error) {
	if len(articleIDs) == 0 {
		return map[int64]bool{}, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingRecord{}).
		Where("article_id IN ?", articleIDs).
		Where("status = ?", domain.TrackingPending).
		Where("batch_handle <> ?", handle).
		Pluck("article_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("query pending rows: %w", err)
	}
	return toSet(ids), nil
}

// PendingIDs lists article ids with a pending row under the given handle.
func (s *TrackingStore) PendingIDs(ctx context.Context, handle string) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingRecord{}).
		Where("batch_handle = ? AND status = ?", handle, domain.TrackingPending).
		Pluck("article_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("query pending ids: %w", err)
	}
	return ids, nil
}

// FailedIDs lists article ids whose latest outcome is an analysis failure.
func (s *TrackingStore) FailedIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingRecord{}).
		Where("status = ?", domain.TrackingFailed).
		Distinct().
		Pluck("article_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("query failed ids: %w", err)
	}
	return ids, nil
}

// StoreFailedRecords lists rows whose analysis succeeded but whose
// downstream persistence did not.
func (s *TrackingStore) StoreFailedRecords(ctx context.Context) ([]domain.TrackingRecord, error) {
	var records []domain.TrackingRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", domain.TrackingStoreFailed).
		Order("created_at ASC").
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("query store-failed rows: %w", err)
	}
	return records, nil
}

// StatusCounts aggregates the ledger by status.
func (s *TrackingStore) StatusCounts(ctx context.Context) (domain.AnalysisStatus, error) {
	type row struct {
		Status domain.TrackingStatus
		N      int64
	}
	var counted []row
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingRecord{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&counted).
		Error
	if err != nil {
		return domain.AnalysisStatus{}, fmt.Errorf("count tracking rows: %w", err)
	}

	var status domain.AnalysisStatus
	for _, r := range counted {
		switch r.Status {
		case domain.TrackingPending:
			status.Pending = r.N
		case domain.TrackingSuccess:
			status.Success = r.N
		case domain.TrackingFailed:
			status.Failed = r.N
		case domain.TrackingStoreFailed:
			status.StoreFailed = r.N
		}
	}
	return status, nil
}

// ListByScope loads the rows a clear operation would remove.
func (s *TrackingStore) ListByScope(ctx context.Context, scope ports.ClearScope) ([]domain.TrackingRecord, error) {
	query := s.db.WithContext(ctx).Model(&domain.TrackingRecord{})
	switch {
	case scope.All:
	case scope.FailedOnly:
		query = query.Where("status = ?", domain.TrackingFailed)
	case scope.ArticleID != 0:
		query = query.Where("article_id = ?", scope.ArticleID)
	case scope.BatchHandle != "":
		query = query.Where("batch_handle = ?", scope.BatchHandle)
	default:
		return nil, fmt.Errorf("clear scope selects nothing")
	}

	var records []domain.TrackingRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list tracking rows: %w", err)
	}
	return records, nil
}

// DeleteRecords removes rows by primary key and returns the count.
func (s *TrackingStore) DeleteRecords(ctx context.Context, recordIDs []int64) (int64, error) {
	if len(recordIDs) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Delete(&domain.TrackingRecord{}, recordIDs)
	if result.Error != nil {
		return 0, fmt.Errorf("delete tracking rows: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *TrackingStore) idsWhere(ctx context.Context, articleIDs []int64, cond string, args ...any) (map[int64]bool, error) {
	if len(articleIDs) == 0 {
		return map[int64]bool{}, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingRecord{}).
		Where("article_id IN ?", articleIDs).
		Where(cond, args...).
		Pluck("article_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("query tracking rows: %w", err)
	}
	return toSet(ids), nil
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
