package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"jwmirror/internal/domain"
)

// PubMediaResolver resolves entries against the pub-media lookup API:
// a GET keyed by written language and either a publication symbol or a
// document id, answering with files[lang][formatLabel][]descriptor.
type PubMediaResolver struct {
	client   *http.Client
	baseURL  string
	language string
	policy   SelectionPolicy

	// formatOrder is the fixed preference order format labels are
	// tried in. Within one label the response order decides.
	formatOrder []string

	// excludeMarkers skip an entry (or a single file) whose title
	// contains one of these phrases.
	excludeMarkers []string

	maxRetries int

	// backoff computes the wait before the given attempt. Swapped out
	// in tests.
	backoff func(attempt int) time.Duration
}

type PubMediaOptions struct {
	BaseURL        string
	Language       string
	FormatOrder    []string
	ExcludeMarkers []string
	MaxRetries     int
}

func NewPubMedia(client *http.Client, policy SelectionPolicy, opts PubMediaOptions) *PubMediaResolver {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if len(opts.FormatOrder) == 0 {
		opts.FormatOrder = []string{"MP4", "MP3"}
	}

	return &PubMediaResolver{
		client:         client,
		baseURL:        opts.BaseURL,
		language:       opts.Language,
		policy:         policy,
		formatOrder:    opts.FormatOrder,
		excludeMarkers: opts.ExcludeMarkers,
		maxRetries:     opts.MaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		},
	}
}

// linksResponse is the recognized response shape of GETPUBMEDIALINKS.
type linksResponse struct {
	PubName string                                 `json:"pubName"`
	Files   map[string]map[string][]FileDescriptor `json:"files"`
}

func (r *PubMediaResolver) Resolve(ctx context.Context, entry domain.CatalogEntry) (Resolution, error) {
	links, err := r.lookup(ctx, entry)
	if err != nil {
		return Resolution{}, err
	}

	// Entry-level exclusion beats every inclusion check
	if containsMarker(links.PubName, r.excludeMarkers) {
		return Resolution{
			Outcome: Skipped,
			Reason:  fmt.Sprintf("title %q matches exclusion marker", links.PubName),
		}, nil
	}

	formats, ok := links.Files[r.language]
	if !ok {
		return Resolution{
			Outcome: Unavailable,
			Reason:  fmt.Sprintf("no %s language branch in response", r.language),
		}, nil
	}

	for _, label := range r.formatOrder {
		for _, file := range formats[label] {
			if containsMarker(file.Title, r.excludeMarkers) {
				return Resolution{
					Outcome: Skipped,
					Reason:  fmt.Sprintf("file title %q matches exclusion marker", file.Title),
				}, nil
			}

			if asset, ok := r.policy.Match(entry, file); ok {
				return Resolution{Outcome: Resolved, Asset: asset}, nil
			}
		}
	}

	return Resolution{Outcome: Unavailable, Reason: "no matching file descriptor"}, nil
}

// lookup performs the GET with bounded retries on server errors. Client
// errors and malformed bodies fail immediately: retrying cannot fix
// them.
func (r *PubMediaResolver) lookup(ctx context.Context, entry domain.CatalogEntry) (*linksResponse, error) {
	lookupURL := r.buildURL(entry)

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			delay := r.backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build lookup request: %w", err)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("lookup returned status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("lookup for %s returned status %d", entry.Key(), resp.StatusCode)
		}

		var links linksResponse
		err = json.NewDecoder(resp.Body).Decode(&links)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadResponse, err)
		}

		if links.Files == nil {
			return nil, fmt.Errorf("%w: no files mapping", domain.ErrBadResponse)
		}

		return &links, nil
	}

	return nil, fmt.Errorf("lookup for %s failed after %d attempts: %w", entry.Key(), r.maxRetries, lastErr)
}

func (r *PubMediaResolver) buildURL(entry domain.CatalogEntry) string {
	params := url.Values{}
	params.Set("langwritten", r.language)
	params.Set("fileformat", r.policy.RequestFormats(entry))

	// Document-id entries look up by docid; everything else by pub
	// symbol. Issue-numbered publications use their key symbol.
	switch {
	case entry.DocID != "":
		params.Set("docid", entry.DocID)
	case entry.Issue != 0 && entry.KeySymbol != "":
		params.Set("pub", entry.KeySymbol)
		params.Set("issue", strconv.Itoa(entry.Issue))
	default:
		params.Set("pub", entry.Identifier)
	}

	if entry.Kind != domain.KindPublication && entry.Track != 0 {
		params.Set("track", strconv.Itoa(entry.Track))
	}

	return r.baseURL + "/GETPUBMEDIALINKS?" + params.Encode()
}
