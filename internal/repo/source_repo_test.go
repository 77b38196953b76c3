package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/domain"
)

func f64(v float64) *float64 { return &v }

func seedSources(t *testing.T) (*gorm.DB, time.Time) {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()
	now := mustTime(t, "2025-06-01T12:00:00Z")

	filings := []domain.Filing{
		{ID: "f1", Ticker: "005930", CompanyName: "Samsung Electronics", Category: "Buyback", Title: "Treasury stock acquisition", ReportName: "Share BUYBACK decision", FiledAt: now.Add(-30 * time.Minute)},
		{ID: "f2", Ticker: "000660", CompanyName: "SK Hynix", Category: "Earnings", Title: "Q2 results", FiledAt: now.Add(-10 * time.Minute)},
		{ID: "f3", Ticker: "005930", CompanyName: "Samsung Electronics", Category: "Buyback", Title: "Old buyback", FiledAt: now.Add(-5 * time.Hour)},
		{ID: "f4", Ticker: "AAPL", CompanyName: "Apple 100%_Inc", Category: "8-K", Title: "Other", FiledAt: now.Add(-time.Minute)},
	}
	for i := range filings {
		if err := InsertFiling(ctx, db, &filings[i]); err != nil {
			t.Fatalf("InsertFiling: %v", err)
		}
	}

	news := []domain.NewsArticle{
		{ID: "n1", Ticker: "005930", Headline: "Samsung announces buyback", Sector: "Technology", Industry: "Semiconductors", Entities: "Samsung Electronics,Lee Jae-yong", Sentiment: f64(0.6), PublishedAt: now.Add(-20 * time.Minute)},
		{ID: "n2", Ticker: "005930", Headline: "Samsung chip outlook", Summary: "No buyback planned", Sector: "Technology", Sentiment: f64(0.1), PublishedAt: now.Add(-15 * time.Minute)},
		{ID: "n3", Ticker: "TSLA", Headline: "Tesla deliveries", Sector: "Autos", Entities: "Tesla", PublishedAt: now.Add(-5 * time.Minute)},
	}
	for i := range news {
		if err := InsertNews(ctx, db, &news[i]); err != nil {
			t.Fatalf("InsertNews: %v", err)
		}
	}
	return db, now
}

func joinIDs[T any](rows []T, id func(T) string) string {
	out := ""
	for _, r := range rows {
		out += id(r) + ","
	}
	return out
}

func filingIDs(rows []domain.Filing) string { return joinIDs(rows, func(f domain.Filing) string { return f.ID }) }
func newsIDs(rows []domain.NewsArticle) string {
	return joinIDs(rows, func(n domain.NewsArticle) string { return n.ID })
}

func TestMatchFilings(t *testing.T) {
	db, now := seedSources(t)
	ctx := context.Background()
	since := now.Add(-time.Hour)

	cases := []struct {
		name string
		q    FilingQuery
		want string
	}{
		{"window only, newest first", FilingQuery{Since: since}, "f4,f2,f1,"},
		{"ticker", FilingQuery{Tickers: []string{"005930"}, Since: since}, "f1,"},
		{"ticker case-insensitive", FilingQuery{Tickers: []string{"aapl"}, Since: since}, "f4,"},
		{"category", FilingQuery{Categories: []string{"earnings", "8-k"}, Since: since}, "f4,f2,"},
		{"keyword in report name", FilingQuery{Keywords: []string{"buyback"}, Since: since}, "f1,"},
		{"keyword widens window", FilingQuery{Keywords: []string{"buyback"}, Since: now.Add(-6 * time.Hour)}, "f1,f3,"},
		{"entity", FilingQuery{Entities: []string{"hynix", "nobody"}, Since: since}, "f2,"},
		{"like wildcards escaped", FilingQuery{Entities: []string{"100%_"}, Since: since}, "f4,"},
		{"wildcard does not match literally elsewhere", FilingQuery{Entities: []string{"%"}, Since: since}, "f4,"},
		{"all filters", FilingQuery{Tickers: []string{"005930"}, Keywords: []string{"treasury"}, Entities: []string{"samsung"}, Since: since}, "f1,"},
		{"limit", FilingQuery{Since: since, Limit: 1}, "f4,"},
	}
	for _, tc := range cases {
		got, err := MatchFilings(ctx, db, tc.q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if s := filingIDs(got); s != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, s, tc.want)
		}
	}
}

func TestMatchNews(t *testing.T) {
	db, now := seedSources(t)
	ctx := context.Background()
	since := now.Add(-time.Hour)

	cases := []struct {
		name string
		q    NewsQuery
		want string
	}{
		{"window only", NewsQuery{Since: since}, "n3,n2,n1,"},
		{"keyword in headline or summary", NewsQuery{Keywords: []string{"BUYBACK"}, Since: since}, "n2,n1,"},
		{"min sentiment excludes null", NewsQuery{MinSentiment: f64(0.2), Since: since}, "n1,"},
		{"sector or industry", NewsQuery{Sectors: []string{"semiconductors"}, Since: since}, "n1,"},
		{"entity by list", NewsQuery{Entities: []string{"lee jae"}, Since: since}, "n1,"},
		{"entity by ticker", NewsQuery{Entities: []string{"tsla"}, Since: since}, "n3,"},
		{"example rule", NewsQuery{Tickers: []string{"005930"}, Keywords: []string{"buyback"}, MinSentiment: f64(0.2), Since: now.Add(-2 * time.Hour)}, "n1,"},
	}
	for _, tc := range cases {
		got, err := MatchNews(ctx, db, tc.q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if s := newsIDs(got); s != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, s, tc.want)
		}
	}
}

func TestMatchFilings_DefaultLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := mustTime(t, "2025-06-01T12:00:00Z")
	for i := 0; i < DefaultMatchLimit+5; i++ {
		f := &domain.Filing{ID: fmt.Sprintf("f%02d", i), Ticker: "X", FiledAt: now.Add(-time.Duration(i) * time.Minute)}
		if err := InsertFiling(ctx, db, f); err != nil {
			t.Fatalf("InsertFiling: %v", err)
		}
	}
	got, err := MatchFilings(ctx, db, FilingQuery{Since: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("MatchFilings: %v", err)
	}
	if len(got) != DefaultMatchLimit || got[0].ID != "f00" {
		t.Fatalf("got %d rows starting at %s", len(got), got[0].ID)
	}
}
