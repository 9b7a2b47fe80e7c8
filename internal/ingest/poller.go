package ingest

import (
	"context"
	"log/slog"
	"time"
)

// FeedIngester fetches and ingests a set of feeds.
type FeedIngester interface {
	FetchRSS(ctx context.Context, collection string, urls []string) (Summary, error)
}

// Poller re-ingests a fixed list of feeds on an interval. Already stored
// chunks are skipped by the RSS pipeline, so each round only embeds new
// articles.
type Poller struct {
	ingester   FeedIngester
	urls       []string
	collection string
	interval   time.Duration
	logger     *slog.Logger
}

// NewPoller creates a Poller. If interval is <= 0, it defaults to 15m.
func NewPoller(ingester FeedIngester, collection string, urls []string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Poller{
		ingester:   ingester,
		urls:       urls,
		collection: collection,
		interval:   interval,
		logger:     slog.Default(),
	}
}

// Run polls until ctx is cancelled. The first round starts immediately.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("feed poll failed", "feeds", len(p.urls), "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

// RunOnce fetches and ingests every feed once.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	sum, err := p.ingester.FetchRSS(ctx, p.collection, p.urls)
	if err != nil {
		return Summary{}, err
	}
	p.logger.Info("feeds polled", "collection", sum.Collection, "new_chunks", sum.Count)
	return sum, nil
}
