// Package state persists pipeline runs, filter results, rules, the
// force-include list and the analysis tracking ledger in a local sqlite
// database via gorm.
package state

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"NewsPipeline/internal/domain"
)

// Open connects to the state database and migrates the pipeline tables.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.AutoMigrate(
		&domain.PipelineRun{},
		&domain.RuleFilterResult{},
		&domain.FilterRule{},
		&domain.ForceInclude{},
		&domain.TrackingRecord{},
		&domain.Article{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate state db: %w", err)
	}

	return db, nil
}
