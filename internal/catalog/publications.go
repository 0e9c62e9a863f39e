package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"jwmirror/internal/domain"
)

// FetchPublicationCatalog resolves the current publication catalog
// version from the manifest endpoint and downloads the versioned
// database snapshot into workDir. Returns the extracted database path.
func FetchPublicationCatalog(ctx context.Context, client *http.Client, manifestURL, catalogURLTemplate, workDir string) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create catalog dir: %w", err)
	}

	manifestID, err := currentManifestID(ctx, client, manifestURL)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf(catalogURLTemplate, manifestID)
	gzPath := filepath.Join(workDir, "catalog.db.gz")
	dbPath := filepath.Join(workDir, "catalog.db")

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

	if err := extractGzip(gzPath, dbPath); err != nil {
		return "", fmt.Errorf("failed to extract catalog db: %w", err)
	}

	_ = os.Remove(gzPath)

	return dbPath, nil
}

func currentManifestID(ctx context.Context, client *http.Client, manifestURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: manifest request returned status %d", domain.ErrCatalogUnavailable, resp.StatusCode)
	}

	var manifest struct {
		Current string `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return "", fmt.Errorf("%w: bad manifest: %v", domain.ErrCatalogUnavailable, err)
	}

	if manifest.Current == "" {
		return "", fmt.Errorf("%w: manifest id is missing", domain.ErrCatalogUnavailable)
	}
	return manifest.Current, nil
}

// Publications reads the catalog database snapshot and yields one entry
// per distinct publication. Issue-numbered publications look up by
// KeySymbol with the issue; the rest by plain Symbol.
func Publications(ctx context.Context, dbPath string) ([]domain.CatalogEntry, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT IssueTagNumber, Symbol, KeySymbol FROM Publication`)
	if err != nil {
		return nil, fmt.Errorf("failed to query publications: %w", err)
	}
	defer rows.Close()

	var entries []domain.CatalogEntry
	for rows.Next() {
		var issue int
		var symbol, keySymbol string

		if err := rows.Scan(&issue, &symbol, &keySymbol); err != nil {
			return nil, err
		}
		if symbol == "" {
			continue
		}

		entries = append(entries, domain.CatalogEntry{
			Kind:       domain.KindPublication,
			Identifier: symbol,
			Track:      issue,
			FormatCode: "JWPUB",
			Issue:      issue,
			KeySymbol:  keySymbol,
		})
	}
	return entries, rows.Err()
}
