package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/kalambet/langserver/internal/chunker"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

// DefaultFeedTimeout bounds a single feed download.
const DefaultFeedTimeout = 30 * time.Second

// FeedFetcher downloads and parses RSS, Atom and JSON feeds.
type FeedFetcher struct {
	client *http.Client
}

// NewFeedFetcher returns a fetcher whose downloads time out after timeout.
// A non-positive timeout uses DefaultFeedTimeout.
func NewFeedFetcher(timeout time.Duration) *FeedFetcher {
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}
	return &FeedFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads one feed and converts its entries to articles. The article
// id is derived from the entry link and its publish date as given by the
// feed; the content is the entry summary, falling back to its full content.
func (f *FeedFetcher) Fetch(ctx context.Context, url string) ([]Article, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client
	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, &FeedError{URL: url, Err: err}
	}

	articles := make([]Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		content := item.Description
		if content == "" {
			content = item.Content
		}
		articles = append(articles, Article{
			ID:          chunker.DeterministicID(item.Link, item.Published),
			URL:         item.Link,
			Title:       item.Title,
			Content:     content,
			PublishedAt: item.Published,
		})
	}
	return articles, nil
}

// FetchAll downloads every feed concurrently and returns their articles in
// the order of urls. The first failing feed fails the call.
func (f *FeedFetcher) FetchAll(ctx context.Context, urls []string) ([]Article, error) {
	results := make([][]Article, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		g.Go(func() error {
			articles, err := f.Fetch(ctx, url)
			if err != nil {
				return err
			}
			results[i] = articles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Article
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// FetchRSS downloads the given feeds and ingests their articles with RSS.
func (p *Pipeline) FetchRSS(ctx context.Context, collection string, urls []string) (Summary, error) {
	articles, err := p.feeds.FetchAll(ctx, urls)
	if err != nil {
		return Summary{}, err
	}
	p.logger.Debug("feeds fetched", "feeds", len(urls), "articles", len(articles))
	return p.RSS(ctx, collection, articles)
}
