package catalog

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"jwmirror/internal/domain"
)

// DownloadMedia fetches the gzipped line-delimited media catalog for a
// language and extracts it into workDir. The archive is removed after
// extraction; the path to the decompressed catalog is returned.
func DownloadMedia(ctx context.Context, client *http.Client, urlTemplate, workDir, language string) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create catalog dir: %w", err)
	}

	url := fmt.Sprintf(urlTemplate, language)
	gzPath := filepath.Join(workDir, language+".json.gz")
	jsonPath := filepath.Join(workDir, language+".json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: catalog request returned status %d", domain.ErrCatalogUnavailable, resp.StatusCode)
	}

	gzFile, err := os.Create(gzPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", gzPath, err)
	}

	if _, err := io.Copy(gzFile, resp.Body); err != nil {
		gzFile.Close()
		return "", fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}
	if err := gzFile.Close(); err != nil {
		return "", err
	}

	if err := extractGzip(gzPath, jsonPath); err != nil {
		return "", fmt.Errorf("failed to extract catalog: %w", err)
	}

	// The archive is only an intermediate artifact
	_ = os.Remove(gzPath)

	return jsonPath, nil
}

func extractGzip(gzPath, outPath string) error {
	in, err := os.Open(gzPath)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// catalogLine is the recognized shape of one media catalog line.
// Unknown types and extra fields are ignored.
type catalogLine struct {
	Type string `json:"type"`
	O    struct {
		NaturalKey                 string `json:"naturalKey"`
		LanguageAgnosticNaturalKey string `json:"languageAgnosticNaturalKey"`
		PrimaryCategory            string `json:"primaryCategory"`
		KeyParts                   struct {
			PubSymbol  string      `json:"pubSymbol"`
			DocID      json.Number `json:"docID"`
			Track      int         `json:"track"`
			FormatCode string      `json:"formatCode"`
		} `json:"keyParts"`
	} `json:"o"`
}

// Scanner streams typed entries out of a decompressed media catalog.
// Each Scan call re-reads the file from the start, so a sequence can be
// replayed after a partial run.
type Scanner struct {
	path      string
	kind      domain.EntryKind
	malformed int
}

func NewScanner(path string, kind domain.EntryKind) *Scanner {
	return &Scanner{path: path, kind: kind}
}

// Malformed returns the number of lines skipped since the last Scan:
// unparseable, oversized, or missing key fields. A data-quality
// signal, not an error.
func (s *Scanner) Malformed() int {
	return s.malformed
}

// maxLineLen bounds the memory spent on a single catalog line. Lines
// past it are counted as malformed and drained, never buffered whole.
const maxLineLen = 4 * 1024 * 1024

// Scan parses the catalog line by line and invokes fn for every
// media-item entry. A line that fails to parse, belongs to another item
// type, exceeds maxLineLen, or is missing its identifier or format code
// is skipped without aborting the sequence. fn returning false stops
// the scan early.
func (s *Scanner) Scan(ctx context.Context, fn func(domain.CatalogEntry) bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	s.malformed = 0

	reader := bufio.NewReaderSize(f, 64*1024)

	var raw []byte
	overlong := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := reader.ReadSlice('\n')
		if !overlong {
			raw = append(raw, chunk...)
			if len(raw) > maxLineLen {
				// Drain the rest of the line without buffering it
				overlong = true
				raw = raw[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read catalog: %w", err)
		}

		if overlong {
			s.malformed++
		} else if entry, ok := s.parseLine(raw); ok {
			if !fn(entry) {
				return nil
			}
		}

		raw = raw[:0]
		overlong = false

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (s *Scanner) parseLine(raw []byte) (domain.CatalogEntry, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return domain.CatalogEntry{}, false
	}

	var line catalogLine
	if err := json.Unmarshal(raw, &line); err != nil {
		s.malformed++
		return domain.CatalogEntry{}, false
	}

	if line.Type != "media-item" {
		return domain.CatalogEntry{}, false
	}

	entry, ok := s.toEntry(line)
	if !ok {
		s.malformed++
	}
	return entry, ok
}

func (s *Scanner) toEntry(line catalogLine) (domain.CatalogEntry, bool) {
	parts := line.O.KeyParts

	identifier := parts.PubSymbol
	docID := parts.DocID.String()
	if identifier == "" {
		// Items without a pub symbol are keyed by document id
		if docID == "" || docID == "0" {
			return domain.CatalogEntry{}, false
		}
		identifier = docID
	} else {
		docID = ""
	}

	if parts.FormatCode == "" {
		return domain.CatalogEntry{}, false
	}

	naturalKey := line.O.NaturalKey
	if naturalKey == "" {
		naturalKey = line.O.LanguageAgnosticNaturalKey
	}

	return domain.CatalogEntry{
		Kind:            s.kind,
		Identifier:      identifier,
		Track:           parts.Track,
		FormatCode:      parts.FormatCode,
		NaturalKey:      naturalKey,
		PrimaryCategory: line.O.PrimaryCategory,
		DocID:           docID,
	}, true
}
