package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/badabook/audiobookctl/internal/ratelimit"
)

const fixtureHTML = `
<html><body>
<div class="postTitle"><h1>The Way of Kings</h1></div>
<div class="postInfo"><span class="label">Author:</span><span class="value">Brandon Sanderson</span></div>
<div class="postInfo"><span class="label">Narrator:</span><span class="value">Michael Kramer</span></div>
<div class="postInfo"><span class="label">Genre:</span><span class="value">Fantasy, Epic</span></div>
<div class="postContent">A tale of kings and storms.</div>
<div class="postImage"><img src="https://example.com/cover.jpg"></div>
</body></html>`

func TestAudiobookBayParse(t *testing.T) {
	fetcher := NewFetcher(ratelimit.New(0))
	s := NewAudiobookBay(fetcher)

	m, err := s.Parse([]byte(fixtureHTML), "https://audiobookbay.lu/book/1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if m.Title != "The Way of Kings" {
		t.Errorf("Title = %q", m.Title)
	}
	if m.Author != "Brandon Sanderson" {
		t.Errorf("Author = %q", m.Author)
	}
	if m.Narrator != "Michael Kramer" {
		t.Errorf("Narrator = %q", m.Narrator)
	}
	if len(m.Genres) != 2 || m.Genres[0] != "Fantasy" || m.Genres[1] != "Epic" {
		t.Errorf("Genres = %v", m.Genres)
	}
	if m.CoverURL != "https://example.com/cover.jpg" {
		t.Errorf("CoverURL = %q", m.CoverURL)
	}
}

func TestAudiobookBayURLPattern(t *testing.T) {
	s := NewAudiobookBay(nil)
	if !s.URLPattern().MatchString("https://audiobookbay.lu/book/1") {
		t.Error("expected match for audiobookbay.lu URL")
	}
	if s.URLPattern().MatchString("https://example.com/book/1") {
		t.Error("expected no match for unrelated host")
	}
}

func TestRegistryForURL(t *testing.T) {
	r := NewRegistry()
	r.Register(NewAudiobookBay(nil))

	s, err := r.ForURL("https://audiobookbay.lu/book/1")
	if err != nil {
		t.Fatalf("ForURL: %v", err)
	}
	if s.Site() != "audiobookbay" {
		t.Errorf("Site() = %q", s.Site())
	}

	_, err = r.ForURL("https://unknown-catalog.example.com/book/1")
	if err != ErrUnsupportedURL {
		t.Fatalf("expected ErrUnsupportedURL, got %v", err)
	}
}

func TestFetcherRetriesOnFailureThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(ratelimit.New(0))
	f.BaseDelay = time.Millisecond
	f.MaxDelay = 5 * time.Millisecond

	body, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestFetcherExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(ratelimit.New(0))
	f.MaxAttempts = 2
	f.BaseDelay = time.Millisecond
	f.MaxDelay = 2 * time.Millisecond

	_, err := f.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}
