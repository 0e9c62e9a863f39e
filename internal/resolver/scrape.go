package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jwmirror/internal/domain"
)

// ScrapeResolver is the fallback for entries with no direct API link:
// it renders the item's finder page through a browserless endpoint and
// takes the src attribute off the page's video or audio tag.
type ScrapeResolver struct {
	client     *http.Client
	renderURL  string
	token      string
	finderURL  string
	language   string
	maxRetries int

	// backoff computes the wait before the given attempt. Swapped out
	// in tests.
	backoff func(attempt int) time.Duration
}

type ScrapeOptions struct {
	BrowserlessURL   string
	BrowserlessToken string
	FinderURL        string
	Language         string
	MaxRetries       int
}

func NewScrape(client *http.Client, opts ScrapeOptions) *ScrapeResolver {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	return &ScrapeResolver{
		client:     client,
		renderURL:  strings.TrimRight(opts.BrowserlessURL, "/") + "/content",
		token:      opts.BrowserlessToken,
		finderURL:  opts.FinderURL,
		language:   opts.Language,
		maxRetries: opts.MaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		},
	}
}

func (r *ScrapeResolver) Resolve(ctx context.Context, entry domain.CatalogEntry) (Resolution, error) {
	if entry.NaturalKey == "" {
		return Resolution{Outcome: Unavailable, Reason: "entry has no natural key to look up"}, nil
	}

	html, err := r.renderPage(ctx, r.pageURL(entry))
	if err != nil {
		return Resolution{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", domain.ErrBadResponse, err)
	}

	tag := "audio"
	if strings.Contains(strings.ToUpper(entry.FormatCode), "VIDEO") {
		tag = "video"
	}

	src, ok := doc.Find(tag).First().Attr("src")
	if !ok || src == "" {
		return Resolution{
			Outcome: Unavailable,
			Reason:  fmt.Sprintf("no %s tag on the finder page", tag),
		}, nil
	}

	return Resolution{
		Outcome: Resolved,
		Asset: domain.ResolvedAsset{
			URL:    src,
			Subdir: entry.PrimaryCategory,
		},
	}, nil
}

func (r *ScrapeResolver) pageURL(entry domain.CatalogEntry) string {
	params := url.Values{}
	params.Set("lank", entry.NaturalKey)
	params.Set("applanguage", r.language)
	return r.finderURL + "?" + params.Encode()
}

// renderPage asks the browserless service to load the page and return
// the DOM after scripts have run. A plain GET would miss the media tag,
// which is injected client side. Network failures and 5xx answers are
// retried with bounded backoff; other statuses fail immediately.
func (r *ScrapeResolver) renderPage(ctx context.Context, pageURL string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return nil, err
	}

	renderURL := r.renderURL
	if r.token != "" {
		renderURL += "?token=" + url.QueryEscape(r.token)
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, renderURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build render request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("render request returned status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("render request returned status %d", resp.StatusCode)
		}

		var buf bytes.Buffer
		_, err = buf.ReadFrom(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	return nil, fmt.Errorf("render request failed after %d attempts: %w", r.maxRetries, lastErr)
}
