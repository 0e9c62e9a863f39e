package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jwmirror/internal/domain"
	"jwmirror/internal/logger"
)

func newTestExecutor(t *testing.T, maxRetries int) *Executor {
	t.Helper()

	e := New(http.DefaultClient, t.TempDir(), maxRetries, logger.Discard())
	e.backoff = func(int) time.Duration { return 0 }
	return e
}

func testKey() domain.Key {
	return domain.Key{Identifier: "abc", Track: 1, FormatCode: "VIDEO"}
}

func TestFetchWritesFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	e := newTestExecutor(t, 3)
	path, n, err := e.Fetch(context.Background(), domain.ResolvedAsset{
		URL:      srv.URL + "/clip.mp4",
		Filename: "clip.mp4",
		Subdir:   "VODBibleTeachings",
	}, testKey())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if n != int64(len("payload")) {
		t.Fatalf("expected %d bytes, got %d", len("payload"), n)
	}

	want := filepath.Join(e.outDir, "VODBibleTeachings", "clip.mp4")
	if path != want {
		t.Fatalf("expected path %q, got %q", want, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fetched file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected file content %q", data)
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Fatalf("partial file was not cleaned up: %v", err)
	}
}

func TestFetchNamePrecedence(t *testing.T) {
	cases := []struct {
		name        string
		asset       domain.ResolvedAsset
		disposition string
		want        string
	}{
		{
			name:  "resolver filename wins",
			asset: domain.ResolvedAsset{Filename: "X1.vtt"},
			want:  "X1.vtt",
		},
		{
			name:        "content disposition next",
			asset:       domain.ResolvedAsset{},
			disposition: `attachment; filename="served.mp4"`,
			want:        "served.mp4",
		},
		{
			name:  "url tail next",
			asset: domain.ResolvedAsset{},
			want:  "tail.mp4",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.disposition != "" {
					w.Header().Set("Content-Disposition", tc.disposition)
				}
				w.Write([]byte("x"))
			}))
			defer srv.Close()

			e := newTestExecutor(t, 1)
			tc.asset.URL = srv.URL + "/tail.mp4"

			path, _, err := e.Fetch(context.Background(), tc.asset, testKey())
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if got := filepath.Base(path); got != tc.want {
				t.Fatalf("expected filename %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFetchKeyFallbackName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	e := newTestExecutor(t, 1)
	// No filename, no disposition and no usable URL tail.
	path, _, err := e.Fetch(context.Background(), domain.ResolvedAsset{URL: srv.URL + "/"}, testKey())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := filepath.Base(path); got != "abc_1_VIDEO" {
		t.Fatalf("expected composite key fallback name, got %q", got)
	}
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestExecutor(t, 3)
	if _, _, err := e.Fetch(context.Background(), domain.ResolvedAsset{URL: srv.URL + "/x"}, testKey()); err == nil {
		t.Fatal("expected an error for a 404")
	}
	if calls != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls)
	}
}

func TestFetchRetriesExhaust(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestExecutor(t, 3)
	if _, _, err := e.Fetch(context.Background(), domain.ResolvedAsset{URL: srv.URL + "/x"}, testKey()); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected exactly maxRetries attempts, got %d", calls)
	}
}

func TestFetchRecoversOnRetry(t *testing.T) {
	var calls int
	var delays []time.Duration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	e := newTestExecutor(t, 3)
	e.backoff = func(attempt int) time.Duration {
		delays = append(delays, expBackoff(attempt))
		return 0
	}

	path, _, err := e.Fetch(context.Background(), domain.ResolvedAsset{URL: srv.URL + "/x.mp4"}, testKey())
	if err != nil {
		t.Fatalf("Fetch failed after recovery: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "late" {
		t.Fatalf("unexpected content %q", data)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("expected exponential waits of 2s then 4s, got %v", delays)
	}
}

func TestFetchMalformedURL(t *testing.T) {
	e := newTestExecutor(t, 3)
	if _, _, err := e.Fetch(context.Background(), domain.ResolvedAsset{URL: "not a url"}, testKey()); err == nil {
		t.Fatal("expected an error for a malformed url")
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName(`a/b\c:d*e?f"g<h>i|j`); got != "a_b_c_d_e_f_g_h_i_j" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
}
