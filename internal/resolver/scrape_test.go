package resolver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"jwmirror/internal/domain"
)

func newTestScraper(t *testing.T, page string, capture *url.Values) *ScrapeResolver {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read render request body: %v", err)
		}
		var payload struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("render request body is not JSON: %v", err)
		}
		if capture != nil {
			u, err := url.Parse(payload.URL)
			if err != nil {
				t.Errorf("render request carries a bad page URL: %v", err)
			} else {
				*capture = u.Query()
			}
		}
		w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	r := NewScrape(srv.Client(), ScrapeOptions{
		BrowserlessURL: srv.URL,
		FinderURL:      "https://example.org/finder",
		Language:       "S",
	})
	r.backoff = func(int) time.Duration { return 0 }
	return r
}

func TestScrapeExtractsVideoSource(t *testing.T) {
	page := `<html><body>
		<audio src="https://cdn.example/wrong.mp3"></audio>
		<video src="https://cdn.example/clip-240p.mp4"></video>
		<video src="https://cdn.example/second.mp4"></video>
	</body></html>`

	var query url.Values
	r := newTestScraper(t, page, &query)

	res, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:            domain.KindMedia,
		Identifier:      "abc",
		FormatCode:      "VIDEO",
		NaturalKey:      "X1",
		PrimaryCategory: "VODBibleTeachings",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != Resolved {
		t.Fatalf("expected resolved, got %v (%s)", res.Outcome, res.Reason)
	}
	if res.Asset.URL != "https://cdn.example/clip-240p.mp4" {
		t.Fatalf("expected first video src, got %q", res.Asset.URL)
	}
	if res.Asset.Subdir != "VODBibleTeachings" {
		t.Fatalf("expected category subdir, got %q", res.Asset.Subdir)
	}
	if query.Get("lank") != "X1" || query.Get("applanguage") != "S" {
		t.Fatalf("unexpected finder page query: %v", query)
	}
}

func TestScrapeExtractsAudioSource(t *testing.T) {
	page := `<html><body><audio src="https://cdn.example/track.mp3"></audio></body></html>`
	r := newTestScraper(t, page, nil)

	res, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:       domain.KindMedia,
		Identifier: "abc",
		FormatCode: "AUDIO",
		NaturalKey: "X2",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Asset.URL != "https://cdn.example/track.mp3" {
		t.Fatalf("expected audio src, got %q", res.Asset.URL)
	}
}

func TestScrapeMissingTagIsUnavailable(t *testing.T) {
	r := newTestScraper(t, `<html><body><p>nothing here</p></body></html>`, nil)

	res, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:       domain.KindMedia,
		Identifier: "abc",
		FormatCode: "VIDEO",
		NaturalKey: "X3",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != Unavailable {
		t.Fatalf("expected unavailable, got %v", res.Outcome)
	}
}

func TestScrapeWithoutNaturalKeyIsUnavailable(t *testing.T) {
	r := newTestScraper(t, "", nil)

	res, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:       domain.KindMedia,
		Identifier: "abc",
		FormatCode: "VIDEO",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Outcome != Unavailable {
		t.Fatalf("expected unavailable without a natural key, got %v", res.Outcome)
	}
}

func TestScrapeRenderFailureIsAnError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	r := NewScrape(srv.Client(), ScrapeOptions{
		BrowserlessURL: srv.URL,
		FinderURL:      "https://example.org/finder",
		Language:       "S",
		MaxRetries:     3,
	})
	r.backoff = func(int) time.Duration { return 0 }

	if _, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:       domain.KindMedia,
		FormatCode: "VIDEO",
		NaturalKey: "X4",
	}); err == nil {
		t.Fatal("expected an error when the render service keeps failing")
	}
	if calls != 3 {
		t.Fatalf("expected 3 render attempts, got %d", calls)
	}
}

func TestScrapeRecoversOnRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<html><body><video src="https://cdn.example/late.mp4"></video></body></html>`))
	}))
	t.Cleanup(srv.Close)

	r := NewScrape(srv.Client(), ScrapeOptions{
		BrowserlessURL: srv.URL,
		FinderURL:      "https://example.org/finder",
		Language:       "S",
		MaxRetries:     3,
	})
	r.backoff = func(int) time.Duration { return 0 }

	res, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:       domain.KindMedia,
		FormatCode: "VIDEO",
		NaturalKey: "X5",
	})
	if err != nil {
		t.Fatalf("Resolve failed after retries: %v", err)
	}
	if res.Asset.URL != "https://cdn.example/late.mp4" {
		t.Fatalf("expected the rendered source after recovery, got %q", res.Asset.URL)
	}
	if calls != 3 {
		t.Fatalf("expected 3 render attempts, got %d", calls)
	}
}

func TestScrapeClientErrorIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	r := NewScrape(srv.Client(), ScrapeOptions{
		BrowserlessURL: srv.URL,
		FinderURL:      "https://example.org/finder",
		Language:       "S",
		MaxRetries:     3,
	})
	r.backoff = func(int) time.Duration { return 0 }

	if _, err := r.Resolve(context.Background(), domain.CatalogEntry{
		Kind:       domain.KindMedia,
		FormatCode: "VIDEO",
		NaturalKey: "X6",
	}); err == nil {
		t.Fatal("expected an error for a rejected render request")
	}
	if calls != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls)
	}
}
