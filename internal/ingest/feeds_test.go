package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/feeds"
	"github.com/kalambet/langserver/internal/chunker"
)

func serveFeed(t *testing.T, items ...*feeds.Item) *httptest.Server {
	t.Helper()
	feed := &feeds.Feed{
		Title:       "Example news",
		Link:        &feeds.Link{Href: "https://example.com"},
		Description: "test feed",
		Created:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Items:       items,
	}
	body, err := feed.ToRss()
	if err != nil {
		t.Fatalf("ToRss: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedFetcher_Fetch(t *testing.T) {
	srv := serveFeed(t,
		&feeds.Item{
			Title:       "Launch",
			Link:        &feeds.Link{Href: "https://example.com/launch"},
			Description: "We launched.",
			Created:     time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		},
		&feeds.Item{
			Title:       "Update",
			Link:        &feeds.Link{Href: "https://example.com/update"},
			Description: "Small update.",
			Created:     time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC),
		},
	)

	articles, err := NewFeedFetcher(time.Second).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("got %d articles, want 2", len(articles))
	}
	a := articles[0]
	if a.Title != "Launch" || a.URL != "https://example.com/launch" || a.Content != "We launched." {
		t.Errorf("article = %+v", a)
	}
	if a.PublishedAt == "" {
		t.Error("published date not carried over")
	}
	if a.ID != chunker.DeterministicID(a.URL, a.PublishedAt) {
		t.Errorf("id %s not derived from link and publish date", a.ID)
	}
}

func TestFetchRSS_IngestsAllFeeds(t *testing.T) {
	one := serveFeed(t, &feeds.Item{Title: "A", Link: &feeds.Link{Href: "https://a.example/1"}, Description: "alpha", Created: time.Now()})
	two := serveFeed(t, &feeds.Item{Title: "B", Link: &feeds.Link{Href: "https://b.example/1"}, Description: "beta", Created: time.Now()})

	emb, store := &fakeEmbedder{}, &fakeStore{}
	p := New(emb, store, Options{}, WithFeedFetcher(NewFeedFetcher(time.Second)))

	sum, err := p.FetchRSS(context.Background(), "news", []string{one.URL, two.URL})
	if err != nil {
		t.Fatalf("FetchRSS: %v", err)
	}
	if sum.Count != 2 || sum.Collection != "news" {
		t.Errorf("summary = %+v", sum)
	}
	if emb.texts[0] != "A\n\nalpha" || emb.texts[1] != "B\n\nbeta" {
		t.Errorf("texts = %q", emb.texts)
	}

	again, err := p.FetchRSS(context.Background(), "news", []string{one.URL, two.URL})
	if err != nil {
		t.Fatalf("FetchRSS: %v", err)
	}
	if again.Count != 0 {
		t.Errorf("second fetch ingested %d chunks, want 0", again.Count)
	}
}

func TestFetchRSS_FeedFailure(t *testing.T) {
	good := serveFeed(t, &feeds.Item{Title: "A", Link: &feeds.Link{Href: "https://a.example/1"}, Description: "alpha", Created: time.Now()})
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer bad.Close()

	emb := &fakeEmbedder{}
	_, err := New(emb, &fakeStore{}, Options{}).FetchRSS(context.Background(), "news", []string{good.URL, bad.URL})
	var ferr *FeedError
	if !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want *FeedError", err)
	}
	if ferr.URL != bad.URL {
		t.Errorf("FeedError.URL = %q, want %q", ferr.URL, bad.URL)
	}
	if emb.calls != 0 {
		t.Error("nothing should be embedded when a feed fails")
	}
}
