package store

import (
	"context"
	"fmt"

	"jwmirror/internal/config"
	"jwmirror/internal/domain"
)

// Store owns the DownloadRecord lifecycle. Writes are full replaces of
// the record for a key; per-key access is serialized by the database,
// different keys never contend.
type Store interface {
	// Lookup returns the record for the key, or nil when absent.
	Lookup(ctx context.Context, key domain.Key) (*domain.DownloadRecord, error)

	// Upsert replaces the record for rec.Key.
	Upsert(ctx context.Context, rec *domain.DownloadRecord) error

	// Claim writes a pending sentinel for the key so no other worker
	// processes it. It returns false when the key is already done
	// (success or skipped), or when a claim from the same run exists.
	// Pending claims left behind by other runs are taken over.
	Claim(ctx context.Context, key domain.Key, runID string) (bool, error)

	// Summary returns per-status record counts.
	Summary(ctx context.Context) (map[domain.Status]int, error)

	// Records returns all records with the given status, or every
	// record when status is empty.
	Records(ctx context.Context, status domain.Status) ([]*domain.DownloadRecord, error)

	StartRun(ctx context.Context, run *domain.Run) error
	FinishRun(ctx context.Context, run *domain.Run) error
	Runs(ctx context.Context) ([]*domain.Run, error)

	Close() error
}

// Open picks the backend from config.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
