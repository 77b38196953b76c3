package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// DefaultMatchLimit caps how many events a single evaluation looks at.
const DefaultMatchLimit = 10

// FilingQuery selects filings for a compiled filing trigger. Empty lists do
// not filter. Within a list any value may match; across lists all must.
type FilingQuery struct {
	Tickers    []string
	Categories []string
	Keywords   []string // title or report name
	Entities   []string // company name
	Since      time.Time
	Limit      int
}

// NewsQuery selects news articles for a compiled news trigger.
type NewsQuery struct {
	Tickers      []string
	Sectors      []string // sector or industry
	Keywords     []string // headline or summary
	Entities     []string // entity list or ticker
	MinSentiment *float64
	Since        time.Time
	Limit        int
}

// MatchFilings returns the newest filings matching q, at most q.Limit
// (DefaultMatchLimit when unset).
func MatchFilings(ctx context.Context, db *gorm.DB, q FilingQuery) ([]domain.Filing, error) {
	tx := db.WithContext(ctx).Where("filed_at >= ?", q.Since)
	if len(q.Tickers) > 0 {
		tx = tx.Where("UPPER(ticker) IN ?", mapStrings(q.Tickers, strings.ToUpper))
	}
	if len(q.Categories) > 0 {
		tx = tx.Where("LOWER(category) IN ?", mapStrings(q.Categories, strings.ToLower))
	}
	if len(q.Keywords) > 0 {
		sql, args := containsAny([]string{"title", "report_name"}, q.Keywords)
		tx = tx.Where(sql, args...)
	}
	if len(q.Entities) > 0 {
		sql, args := containsAny([]string{"company_name"}, q.Entities)
		tx = tx.Where(sql, args...)
	}

	var out []domain.Filing
	err := tx.Order("filed_at desc").Order("id").Limit(limitOr(q.Limit)).Find(&out).Error
	return out, err
}

// MatchNews returns the newest news articles matching q.
func MatchNews(ctx context.Context, db *gorm.DB, q NewsQuery) ([]domain.NewsArticle, error) {
	tx := db.WithContext(ctx).Where("published_at >= ?", q.Since)
	if len(q.Tickers) > 0 {
		tx = tx.Where("UPPER(ticker) IN ?", mapStrings(q.Tickers, strings.ToUpper))
	}
	if len(q.Sectors) > 0 {
		lower := mapStrings(q.Sectors, strings.ToLower)
		tx = tx.Where("(LOWER(sector) IN ? OR LOWER(industry) IN ?)", lower, lower)
	}
	if len(q.Keywords) > 0 {
		sql, args := containsAny([]string{"headline", "summary"}, q.Keywords)
		tx = tx.Where(sql, args...)
	}
	if len(q.Entities) > 0 {
		sql, args := containsAny([]string{"entities"}, q.Entities)
		args = append(args, mapStrings(q.Entities, strings.ToUpper))
		tx = tx.Where("("+sql+" OR UPPER(ticker) IN ?)", args...)
	}
	if q.MinSentiment != nil {
		tx = tx.Where("sentiment IS NOT NULL AND sentiment >= ?", *q.MinSentiment)
	}

	var out []domain.NewsArticle
	err := tx.Order("published_at desc").Order("id").Limit(limitOr(q.Limit)).Find(&out).Error
	return out, err
}

// InsertFiling stores a filing, typically from the ingestion feed or tests.
func InsertFiling(ctx context.Context, db *gorm.DB, f *domain.Filing) error {
	return db.WithContext(ctx).Create(f).Error
}

// InsertNews stores a news article.
func InsertNews(ctx context.Context, db *gorm.DB, n *domain.NewsArticle) error {
	return db.WithContext(ctx).Create(n).Error
}

// containsAny builds a parenthesized OR group matching any value as a
// case-insensitive substring of any column.
func containsAny(cols, values []string) (string, []any) {
	var parts []string
	var args []any
	for _, v := range values {
		pat := "%" + escapeLike(strings.ToLower(v)) + "%"
		for _, c := range cols {
			parts = append(parts, "LOWER("+c+") LIKE ? ESCAPE '\\'")
			args = append(args, pat)
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func mapStrings(in []string, fn func(string) string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fn(strings.TrimSpace(s))
	}
	return out
}

func limitOr(n int) int {
	if n <= 0 {
		return DefaultMatchLimit
	}
	return n
}
