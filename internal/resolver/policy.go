package resolver

import (
	"fmt"
	"strings"

	"jwmirror/internal/domain"
)

// SubtitlePolicy selects the subtitle asset nested under a media file
// descriptor. The media file itself is not downloaded.
type SubtitlePolicy struct{}

func (SubtitlePolicy) RequestFormats(entry domain.CatalogEntry) string {
	if strings.EqualFold(entry.FormatCode, "VIDEO") {
		return "mp4,m4v"
	}
	return "mp3"
}

func (SubtitlePolicy) Match(entry domain.CatalogEntry, file FileDescriptor) (domain.ResolvedAsset, bool) {
	if file.Subtitles == nil || file.Subtitles.URL == "" {
		return domain.ResolvedAsset{}, false
	}

	asset := domain.ResolvedAsset{URL: file.Subtitles.URL}
	if entry.NaturalKey != "" {
		asset.Filename = entry.NaturalKey + ".vtt"
	}
	return asset, true
}

// MediaPolicy selects the media file itself. When Label is set only
// descriptors carrying that exact label qualify (e.g. "240p").
type MediaPolicy struct {
	Label string
}

func (p MediaPolicy) RequestFormats(entry domain.CatalogEntry) string {
	if strings.EqualFold(entry.FormatCode, "VIDEO") {
		return "mp4,m4v"
	}
	return "mp3"
}

func (p MediaPolicy) Match(entry domain.CatalogEntry, file FileDescriptor) (domain.ResolvedAsset, bool) {
	if p.Label != "" && file.Label != p.Label {
		return domain.ResolvedAsset{}, false
	}
	if file.File.URL == "" {
		return domain.ResolvedAsset{}, false
	}

	return domain.ResolvedAsset{
		URL:    file.File.URL,
		Subdir: entry.PrimaryCategory,
	}, true
}

// PublicationPolicy selects the publication bundle for an entry and
// names it deterministically from the symbol and issue number.
type PublicationPolicy struct{}

func (PublicationPolicy) RequestFormats(entry domain.CatalogEntry) string {
	return "jwpub"
}

func (PublicationPolicy) Match(entry domain.CatalogEntry, file FileDescriptor) (domain.ResolvedAsset, bool) {
	if file.File.URL == "" {
		return domain.ResolvedAsset{}, false
	}

	return domain.ResolvedAsset{
		URL:      file.File.URL,
		Filename: fmt.Sprintf("%s_%d.jwpub", entry.Identifier, entry.Issue),
	}, true
}

// PolicyFor maps an entry kind to its selection policy.
func PolicyFor(kind domain.EntryKind, videoLabel string) (SelectionPolicy, error) {
	switch kind {
	case domain.KindSubtitle:
		return SubtitlePolicy{}, nil
	case domain.KindMedia:
		return MediaPolicy{Label: videoLabel}, nil
	case domain.KindPublication:
		return PublicationPolicy{}, nil
	default:
		return nil, fmt.Errorf("no selection policy for entry kind %q", kind)
	}
}
