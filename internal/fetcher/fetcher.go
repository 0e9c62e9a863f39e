package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"jwmirror/internal/domain"
	"jwmirror/internal/logger"
)

// ErrTransient marks a failure class worth retrying: network errors and
// server-side statuses. Everything else aborts the fetch immediately.
var ErrTransient = errors.New("transient transfer error")

// Executor streams resolved assets to disk with bounded retries.
type Executor struct {
	client     *http.Client
	outDir     string
	maxRetries int
	logger     *logger.Logger

	// backoff computes the wait before the given attempt (attempt >= 2).
	// Swapped out in tests.
	backoff func(attempt int) time.Duration
}

func New(client *http.Client, outDir string, maxRetries int, log *logger.Logger) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Executor{
		client:     client,
		outDir:     outDir,
		maxRetries: maxRetries,
		logger:     log,
		backoff:    expBackoff,
	}
}

// expBackoff waits 2^(attempt-1) seconds: 2s before the second attempt,
// then 4s, 8s and so on.
func expBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
}

// Fetch downloads the asset to its target path, creating parent
// directories as needed. Up to maxRetries attempts are made, with
// 2^attempt seconds between attempts, only for transient failures.
// Returns the final path and the byte count.
func (e *Executor) Fetch(ctx context.Context, asset domain.ResolvedAsset, key domain.Key) (string, int64, error) {
	// A URL that does not parse will never succeed: no retries
	if _, err := url.ParseRequestURI(asset.URL); err != nil {
		return "", 0, fmt.Errorf("malformed asset url %q: %w", asset.URL, err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if attempt > 1 {
			delay := e.backoff(attempt)
			e.logger.Info("Retrying %s in %s (attempt %d/%d)", key, delay, attempt, e.maxRetries)

			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		finalPath, n, err := e.attempt(ctx, asset, key)
		if err == nil {
			return finalPath, n, nil
		}

		if !errors.Is(err, ErrTransient) {
			return "", 0, err
		}

		e.logger.Warn("Attempt %d failed for %s: %v", attempt, key, err)
		lastErr = err
	}

	return "", 0, fmt.Errorf("fetch failed after %d attempts: %w", e.maxRetries, lastErr)
}

func (e *Executor) attempt(ctx context.Context, asset domain.ResolvedAsset, key domain.Key) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Proceed
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", 0, fmt.Errorf("%w: server returned status %d", ErrTransient, resp.StatusCode)
	default:
		return "", 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	destDir := e.outDir
	if asset.Subdir != "" {
		destDir = filepath.Join(destDir, sanitizeName(asset.Subdir))
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	finalPath := filepath.Join(destDir, e.targetName(asset, resp, key))
	partPath := finalPath + ".part"

	n, err := e.writeFile(partPath, resp.Body)
	if err != nil {
		// A half-written .part is never a valid artifact
		_ = os.Remove(partPath)
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if err := os.Rename(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return "", 0, fmt.Errorf("failed to finalize %s: %w", finalPath, err)
	}

	return finalPath, n, nil
}

func (e *Executor) writeFile(partPath string, body io.Reader) (int64, error) {
	f, err := os.Create(partPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if err != nil {
		f.Close()
		return n, err
	}

	// Sync to disk and close before the rename
	if err := f.Sync(); err != nil {
		f.Close()
		return n, err
	}
	return n, f.Close()
}

// targetName picks the on-disk filename: the resolver's choice first,
// then the content-disposition header, then the URL tail. The fallback
// uses the composite key so re-runs of the same key collide on purpose.
func (e *Executor) targetName(asset domain.ResolvedAsset, resp *http.Response, key domain.Key) string {
	if asset.Filename != "" {
		return sanitizeName(asset.Filename)
	}

	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return sanitizeName(name)
			}
		}
	}

	if u, err := url.Parse(asset.URL); err == nil {
		if tail := path.Base(u.Path); tail != "" && tail != "." && tail != "/" {
			return sanitizeName(tail)
		}
	}

	return sanitizeName(fmt.Sprintf("%s_%d_%s", key.Identifier, key.Track, key.FormatCode))
}

var badChars = regexp.MustCompile(`[\\/:*?"<>|]`)

func sanitizeName(name string) string {
	return strings.TrimSpace(badChars.ReplaceAllString(name, "_"))
}
