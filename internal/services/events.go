package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/domain"
	"github.com/tbourn/go-alerts-backend/internal/repo"
)

// maxSnapshotEventIDs caps the event ids kept in a persisted snapshot.
const maxSnapshotEventIDs = 50

// fetchEvents runs plan against its source for the window ending at now and
// returns the matches newest first.
func fetchEvents(ctx context.Context, db *gorm.DB, plan compiler.Plan, now time.Time) ([]compiler.Event, error) {
	since := plan.WindowStart(now)
	switch t := plan.Trigger().(type) {
	case compiler.NewsTrigger:
		rows, err := repo.MatchNews(ctx, db, repo.NewsQuery{
			Tickers:      t.Tickers,
			Sectors:      t.Sectors,
			Keywords:     t.Keywords,
			Entities:     t.Entities,
			MinSentiment: t.MinSentiment,
			Since:        since,
			Limit:        repo.DefaultMatchLimit,
		})
		if err != nil {
			return nil, err
		}
		out := make([]compiler.Event, 0, len(rows))
		for _, n := range rows {
			out = append(out, newsEvent(n))
		}
		return out, nil
	case compiler.FilingTrigger:
		rows, err := repo.MatchFilings(ctx, db, repo.FilingQuery{
			Tickers:    t.Tickers,
			Categories: t.Categories,
			Keywords:   t.Keywords,
			Entities:   t.Entities,
			Since:      since,
			Limit:      repo.DefaultMatchLimit,
		})
		if err != nil {
			return nil, err
		}
		out := make([]compiler.Event, 0, len(rows))
		for _, f := range rows {
			out = append(out, filingEvent(f))
		}
		return out, nil
	}
	return nil, nil
}

func filingEvent(f domain.Filing) compiler.Event {
	return compiler.Event{
		"id":           f.ID,
		"source":       domain.SourceFiling,
		"ticker":       f.Ticker,
		"company_name": f.CompanyName,
		"category":     f.Category,
		"title":        f.Title,
		"report_name":  f.ReportName,
		"url":          f.URL,
		"filed_at":     f.FiledAt.UTC().Format(time.RFC3339),
	}
}

func newsEvent(n domain.NewsArticle) compiler.Event {
	e := compiler.Event{
		"id":           n.ID,
		"source":       domain.SourceNews,
		"ticker":       n.Ticker,
		"headline":     n.Headline,
		"summary":      n.Summary,
		"sector":       n.Sector,
		"industry":     n.Industry,
		"publisher":    n.Publisher,
		"url":          n.URL,
		"published_at": n.PublishedAt.UTC().Format(time.RFC3339),
	}
	if n.Sentiment != nil {
		e["sentiment"] = *n.Sentiment
	}
	return e
}

func eventID(e compiler.Event) string {
	s, _ := e["id"].(string)
	return s
}

func eventIDs(events []compiler.Event) []string {
	n := min(len(events), maxSnapshotEventIDs)
	out := make([]string, 0, n)
	for _, e := range events[:n] {
		out = append(out, eventID(e))
	}
	return out
}

// buildSnapshot computes the dedup snapshot for events matched by plan.
func buildSnapshot(plan compiler.Plan, events []compiler.Event, now time.Time) *domain.EvaluationSnapshot {
	return &domain.EvaluationSnapshot{
		PlanSignature: compiler.PlanSignature(plan),
		EventHash:     compiler.SnapshotDigest(events),
		EventIDs:      eventIDs(events),
		EventCount:    len(events),
		WindowMinutes: plan.WindowMinutes,
		WindowStart:   plan.WindowStart(now),
		EvaluatedAt:   now,
	}
}
