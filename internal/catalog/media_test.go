package catalog_test

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jwmirror/internal/catalog"
	"jwmirror/internal/domain"
)

const sampleCatalog = `{"type":"media-item","o":{"naturalKey":"X1","primaryCategory":"VODTeaching","keyParts":{"pubSymbol":"abc","track":1,"formatCode":"VIDEO"}}}
{"type":"language","o":{"code":"S"}}
not json at all
{"type":"media-item","o":{"naturalKey":"X2","keyParts":{"pubSymbol":"def","track":2}}}
{"type":"media-item","o":{"languageAgnosticNaturalKey":"doc-item","keyParts":{"docID":502016123,"track":0,"formatCode":"AUDIO"}}}
{"type":"media-item","o":{"naturalKey":"X3","keyParts":{"track":4,"formatCode":"VIDEO"}}}
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "S.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write catalog fixture: %v", err)
	}
	return path
}

func collect(t *testing.T, s *catalog.Scanner) []domain.CatalogEntry {
	t.Helper()
	var entries []domain.CatalogEntry
	err := s.Scan(context.Background(), func(e domain.CatalogEntry) bool {
		entries = append(entries, e)
		return true
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return entries
}

func TestScannerYieldsMediaItems(t *testing.T) {
	s := catalog.NewScanner(writeCatalog(t, sampleCatalog), domain.KindSubtitle)

	entries := collect(t, s)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %#v", len(entries), entries)
	}

	first := entries[0]
	if first.Identifier != "abc" || first.Track != 1 || first.FormatCode != "VIDEO" {
		t.Fatalf("unexpected first entry: %#v", first)
	}
	if first.Kind != domain.KindSubtitle {
		t.Fatalf("expected scanner to stamp entry kind, got %s", first.Kind)
	}
	if first.NaturalKey != "X1" || first.PrimaryCategory != "VODTeaching" {
		t.Fatalf("unexpected first entry metadata: %#v", first)
	}

	second := entries[1]
	if second.Identifier != "502016123" || second.DocID != "502016123" {
		t.Fatalf("expected doc-id keyed entry, got %#v", second)
	}
	if second.NaturalKey != "doc-item" {
		t.Fatalf("expected language-agnostic key fallback, got %q", second.NaturalKey)
	}
}

func TestScannerCountsMalformedLines(t *testing.T) {
	s := catalog.NewScanner(writeCatalog(t, sampleCatalog), domain.KindMedia)

	collect(t, s)

	// Unparseable line, missing formatCode, missing identifier
	if got := s.Malformed(); got != 3 {
		t.Fatalf("expected 3 malformed lines, got %d", got)
	}
}

func TestScannerIsRestartable(t *testing.T) {
	s := catalog.NewScanner(writeCatalog(t, sampleCatalog), domain.KindMedia)

	first := collect(t, s)
	second := collect(t, s)

	if len(first) != len(second) {
		t.Fatalf("expected identical replay, got %d then %d entries", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("entry %d differs between scans: %#v vs %#v", i, first[i], second[i])
		}
	}
}

func TestScannerSkipsOverlongLines(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"type":"media-item","o":{"naturalKey":"A1","keyParts":{"pubSymbol":"abc","track":1,"formatCode":"VIDEO"}}}` + "\n")
	// A single line well past the scanner's 4 MiB cap
	b.WriteString(`{"type":"media-item","o":{"naturalKey":"BIG","pad":"` + strings.Repeat("x", 5*1024*1024) + `","keyParts":{"pubSymbol":"big","track":2,"formatCode":"VIDEO"}}}` + "\n")
	b.WriteString(`{"type":"media-item","o":{"naturalKey":"A2","keyParts":{"pubSymbol":"def","track":3,"formatCode":"VIDEO"}}}` + "\n")

	s := catalog.NewScanner(writeCatalog(t, b.String()), domain.KindMedia)

	entries := collect(t, s)
	if len(entries) != 2 {
		t.Fatalf("expected the lines around the oversized one, got %d entries", len(entries))
	}
	if entries[0].Identifier != "abc" || entries[1].Identifier != "def" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if got := s.Malformed(); got != 1 {
		t.Fatalf("expected the oversized line counted as malformed, got %d", got)
	}
}

func TestScannerStopsEarly(t *testing.T) {
	s := catalog.NewScanner(writeCatalog(t, sampleCatalog), domain.KindMedia)

	var seen int
	err := s.Scan(context.Background(), func(domain.CatalogEntry) bool {
		seen++
		return false
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected scan to stop after 1 entry, got %d", seen)
	}
}

func TestDownloadMediaExtractsCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gz := gzip.NewWriter(w)
		gz.Write([]byte(sampleCatalog))
		gz.Close()
	}))
	defer srv.Close()

	workDir := t.TempDir()
	jsonPath, err := catalog.DownloadMedia(context.Background(), srv.Client(), srv.URL+"/%s.json.gz", workDir, "S")
	if err != nil {
		t.Fatalf("DownloadMedia failed: %v", err)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("failed to read extracted catalog: %v", err)
	}
	if string(data) != sampleCatalog {
		t.Fatal("extracted catalog does not match source")
	}

	// The archive must not linger after extraction
	if _, err := os.Stat(filepath.Join(workDir, "S.json.gz")); !os.IsNotExist(err) {
		t.Fatal("expected the gz archive to be removed")
	}
}

func TestDownloadMediaFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := catalog.DownloadMedia(context.Background(), srv.Client(), srv.URL+"/%s.json.gz", t.TempDir(), "S")
	if !errors.Is(err, domain.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
}
