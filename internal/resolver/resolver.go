package resolver

import (
	"context"
	"strings"

	"jwmirror/internal/domain"
)

// Outcome tags a resolution result.
type Outcome int

const (
	// Resolved means an asset was selected and can be fetched.
	Resolved Outcome = iota
	// Unavailable means no matching asset existed for the entry.
	Unavailable
	// Skipped means the entry was intentionally excluded by policy.
	Skipped
)

// Resolution is the structured result of resolving one catalog entry.
// Failures travel on the error return instead.
type Resolution struct {
	Outcome Outcome
	Asset   domain.ResolvedAsset
	Reason  string
}

// Resolver translates a catalog entry into a concrete asset URL. The
// pipeline never depends on which implementation is active.
type Resolver interface {
	Resolve(ctx context.Context, entry domain.CatalogEntry) (Resolution, error)
}

// FileDescriptor is one downloadable file in a lookup API response.
type FileDescriptor struct {
	Title string `json:"title"`
	Label string `json:"label"`
	File  struct {
		URL string `json:"url"`
	} `json:"file"`
	Subtitles *struct {
		URL string `json:"url"`
	} `json:"subtitles,omitempty"`
}

// SelectionPolicy is the entry-kind specific part of resolution. The
// resolver walks descriptors in a fixed order and the first descriptor
// a policy matches wins.
type SelectionPolicy interface {
	// RequestFormats returns the fileformat parameter for the lookup
	// request.
	RequestFormats(entry domain.CatalogEntry) string

	// Match derives an asset from the descriptor, or reports that the
	// descriptor does not satisfy the policy.
	Match(entry domain.CatalogEntry, file FileDescriptor) (domain.ResolvedAsset, bool)
}

// containsMarker reports whether a title matches one of the configured
// exclusion phrases.
func containsMarker(title string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(title, m) {
			return true
		}
	}
	return false
}
