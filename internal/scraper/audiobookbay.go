package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/badabook/audiobookctl/internal/metadata"
)

// AudiobookBay scrapes a generic audiobook catalog page: title, author,
// narrator, genres and cover are all extracted from a handful of CSS
// selectors, which is representative of the "HTML scraper" half of the
// registry contract (the "site-API scraper" half needs no goquery at all,
// since it decodes JSON).
type AudiobookBay struct {
	fetcher *Fetcher
}

// NewAudiobookBay constructs the scraper, sharing fetcher (and therefore
// the process's rate limiter) with every other registered scraper.
func NewAudiobookBay(fetcher *Fetcher) *AudiobookBay {
	return &AudiobookBay{fetcher: fetcher}
}

func (s *AudiobookBay) Site() string { return "audiobookbay" }

var audiobookBayURLPattern = regexp.MustCompile(`(?i)^https?://(www\.)?audiobookbay\.\w+/.*`)

func (s *AudiobookBay) URLPattern() *regexp.Regexp { return audiobookBayURLPattern }

// Preprocess strips tracking query parameters some catalog links arrive
// with, so two URLs differing only by campaign params resolve to the same
// cache entry.
func (s *AudiobookBay) Preprocess(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del("utm_source")
	q.Del("utm_campaign")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *AudiobookBay) SearchURL(term string) string {
	return "https://audiobookbay.lu/?s=" + url.QueryEscape(term)
}

func (s *AudiobookBay) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	return s.fetcher.Get(ctx, pageURL)
}

func (s *AudiobookBay) Parse(body []byte, sourceURL string) (*metadata.BookMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("audiobookbay: parse %q: %w", sourceURL, err)
	}

	m := &metadata.BookMetadata{URL: sourceURL}
	m.Title = strings.TrimSpace(doc.Find("div.postTitle h1").First().Text())
	if m.Title == "" {
		return nil, fmt.Errorf("audiobookbay: %q has no title element", sourceURL)
	}

	doc.Find("div.postInfo").Each(func(_ int, sel *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(sel.Find("span.label").Text()))
		value := strings.TrimSpace(sel.Find("span.value").Text())
		switch {
		case strings.Contains(label, "author"):
			m.Author = value
		case strings.Contains(label, "narrator"):
			m.Narrator = value
		case strings.Contains(label, "genre"):
			for _, g := range strings.Split(value, ",") {
				if g = strings.TrimSpace(g); g != "" {
					m.Genres = append(m.Genres, g)
				}
			}
		case strings.Contains(label, "language"):
			m.Language = value
		}
	})

	m.Summary = strings.TrimSpace(doc.Find("div.postContent").First().Text())
	if cover, ok := doc.Find("div.postImage img").First().Attr("src"); ok {
		m.CoverURL = cover
	}

	return m, nil
}
