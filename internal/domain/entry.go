package domain

import "fmt"

type EntryKind string

const (
	KindMedia       EntryKind = "media"
	KindSubtitle    EntryKind = "subtitle"
	KindPublication EntryKind = "publication"
)

// Key uniquely identifies one unit of downloadable work.
// Two catalog lines with the same Key are the same unit.
type Key struct {
	Identifier string `json:"identifier"`
	Track      int    `json:"track"`
	FormatCode string `json:"format_code"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Identifier, k.Track, k.FormatCode)
}

// CatalogEntry is one parsed catalog line. Produced by the ingestor,
// consumed once by the pipeline, never persisted.
type CatalogEntry struct {
	Kind       EntryKind
	Identifier string
	Track      int
	FormatCode string

	// NaturalKey is the catalog's language-agnostic name for the item,
	// used for deterministic output filenames.
	NaturalKey string

	// PrimaryCategory namespaces the output directory (media items only).
	PrimaryCategory string

	// DocID is set when the item is keyed by document id instead of a
	// publication symbol. Mutually exclusive with Identifier being a pub
	// symbol on the lookup API.
	DocID string

	// Issue is the publication issue tag number (publications only).
	Issue int

	// KeySymbol is the lookup symbol for issue-numbered publications,
	// which differs from the plain Symbol stored in Identifier.
	KeySymbol string
}

func (e CatalogEntry) Key() Key {
	return Key{Identifier: e.Identifier, Track: e.Track, FormatCode: e.FormatCode}
}
