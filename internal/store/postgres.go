package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"jwmirror/internal/domain"
)

// PostgresStore mirrors the sqlite backend for deployments that keep
// pipeline state in a shared database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	store := &PostgresStore{db: db}

	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("could not create schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS download_records (
			identifier TEXT NOT NULL,
			track INTEGER NOT NULL,
			format_code TEXT NOT NULL,
			status TEXT NOT NULL,
			resolved_url TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (identifier, track, format_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_download_records_status ON download_records (status)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			counts TEXT NOT NULL DEFAULT '{}'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Lookup(ctx context.Context, key domain.Key) (*domain.DownloadRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, resolved_url, reason, run_id, updated_at
		FROM download_records
		WHERE identifier = $1 AND track = $2 AND format_code = $3
		LIMIT 1`,
		key.Identifier, key.Track, key.FormatCode,
	)

	rec := &domain.DownloadRecord{Key: key}
	err := row.Scan(&rec.Status, &rec.ResolvedURL, &rec.Reason, &rec.RunID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch record for %s: %w", key, err)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec *domain.DownloadRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_records
			(identifier, track, format_code, status, resolved_url, reason, run_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identifier, track, format_code) DO UPDATE SET
			status = excluded.status,
			resolved_url = excluded.resolved_url,
			reason = excluded.reason,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at`,
		rec.Key.Identifier, rec.Key.Track, rec.Key.FormatCode,
		rec.Status, rec.ResolvedURL, rec.Reason, rec.RunID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record for %s: %w", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) Claim(ctx context.Context, key domain.Key, runID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO download_records
			(identifier, track, format_code, status, resolved_url, reason, run_id, updated_at)
		VALUES ($1, $2, $3, 'pending', '', '', $4, $5)
		ON CONFLICT (identifier, track, format_code) DO UPDATE SET
			status = 'pending',
			resolved_url = '',
			reason = '',
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
		WHERE download_records.status NOT IN ('success', 'skipped')
		  AND download_records.run_id <> excluded.run_id`,
		key.Identifier, key.Track, key.FormatCode, runID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) Summary(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM download_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) Records(ctx context.Context, status domain.Status) ([]*domain.DownloadRecord, error) {
	query := `
		SELECT identifier, track, format_code, status, resolved_url, reason, run_id, updated_at
		FROM download_records`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY identifier, track, format_code`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.DownloadRecord
	for rows.Next() {
		rec := &domain.DownloadRecord{}
		err := rows.Scan(
			&rec.Key.Identifier, &rec.Key.Track, &rec.Key.FormatCode,
			&rec.Status, &rec.ResolvedURL, &rec.Reason, &rec.RunID, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) StartRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Kind, run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *domain.Run) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("failed to encode run counts: %w", err)
	}

	now := time.Now().UTC()
	run.FinishedAt = &now

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = $1, counts = $2 WHERE id = $3`,
		now, string(countsJSON), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresStore) Runs(ctx context.Context) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, started_at, finished_at, counts FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run := &domain.Run{}
		var countsJSON string
		var finishedAt sql.NullTime

		if err := rows.Scan(&run.ID, &run.Kind, &run.StartedAt, &finishedAt, &countsJSON); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}
		if err := json.Unmarshal([]byte(countsJSON), &run.Counts); err != nil {
			run.Counts = nil
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
