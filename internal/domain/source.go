package domain

import "time"

// Filing is a regulatory disclosure ingested from an exchange feed.
type Filing struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	Ticker      string    `json:"ticker"       gorm:"type:varchar(16);index"`
	CompanyName string    `json:"company_name" gorm:"type:varchar(255)"`
	Category    string    `json:"category"     gorm:"type:varchar(64);index"`
	Title       string    `json:"title"        gorm:"type:varchar(512)"`
	ReportName  string    `json:"report_name"  gorm:"type:varchar(512)"`
	URL         string    `json:"url"          gorm:"type:varchar(1024)"`
	FiledAt     time.Time `json:"filed_at"     gorm:"not null;index"`
}

// TableName returns the database table name for Filing.
func (Filing) TableName() string { return "filings" }

// NewsArticle is a scored news item. Entities is a comma-separated list of
// recognized company or person names.
type NewsArticle struct {
	ID          string    `json:"id"                  gorm:"type:varchar(64);primaryKey"`
	Ticker      string    `json:"ticker"              gorm:"type:varchar(16);index"`
	Headline    string    `json:"headline"            gorm:"type:varchar(512)"`
	Summary     string    `json:"summary"             gorm:"type:text"`
	Sector      string    `json:"sector"              gorm:"type:varchar(64)"`
	Industry    string    `json:"industry"            gorm:"type:varchar(64)"`
	Entities    string    `json:"entities"            gorm:"type:text"`
	Sentiment   *float64  `json:"sentiment,omitempty"`
	Publisher   string    `json:"publisher"           gorm:"type:varchar(128)"`
	URL         string    `json:"url"                 gorm:"type:varchar(1024)"`
	PublishedAt time.Time `json:"published_at"        gorm:"not null;index"`
}

// TableName returns the database table name for NewsArticle.
func (NewsArticle) TableName() string { return "news_articles" }
