package domain

import "time"

// Article is a crawled news item. The pipeline never mutates articles; it
// only reads them for filtering and analysis.
type Article struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	URL         string `gorm:"size:2048;uniqueIndex"`
	URLHash     string `gorm:"size:32;index"`
	Title       string `gorm:"size:500"`
	Content     string
	Summary     string
	Author      string `gorm:"size:200"`
	Source      string `gorm:"size:100"`
	Category    string `gorm:"size:100"`
	SubCategory string `gorm:"size:100"`
	Tags        string // JSON array string
	PublishedAt *time.Time
	CrawledAt   time.Time
}

// TableName keeps the table name shared with the crawler side.
func (Article) TableName() string { return "news_articles" }

// ExternalID is the stable identifier the result store keys dedup on.
func (a Article) ExternalID() string { return a.URLHash }
