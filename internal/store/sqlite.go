package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"jwmirror/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {

	dbDir := filepath.Dir(dbPath)

	// Ensure the database directory exists
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.runMigrations(); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Lookup(ctx context.Context, key domain.Key) (*domain.DownloadRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT status, resolved_url, reason, run_id, updated_at
		FROM download_records
		WHERE identifier = ? AND track = ? AND format_code = ?
		LIMIT 1`,
		key.Identifier, key.Track, key.FormatCode,
	)

	rec := &domain.DownloadRecord{Key: key}
	var updatedAt string

	err := row.Scan(&rec.Status, &rec.ResolvedURL, &rec.Reason, &rec.RunID, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Absent: the key has never been processed
		}
		return nil, fmt.Errorf("failed to fetch record for %s: %w", key, err)
	}

	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec *domain.DownloadRecord) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO download_records
			(identifier, track, format_code, status, resolved_url, reason, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key.Identifier, rec.Key.Track, rec.Key.FormatCode,
		rec.Status, rec.ResolvedURL, rec.Reason, rec.RunID, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record for %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Claim(ctx context.Context, key domain.Key, runID string) (bool, error) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	// The conditional upsert only fires for keys that are absent, left
	// over from a crashed run, or terminally failed/unavailable in an
	// earlier run. Zero affected rows means someone else owns the key.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO download_records
			(identifier, track, format_code, status, resolved_url, reason, run_id, updated_at)
		VALUES (?, ?, ?, 'pending', '', '', ?, ?)
		ON CONFLICT(identifier, track, format_code) DO UPDATE SET
			status = 'pending',
			resolved_url = '',
			reason = '',
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
		WHERE download_records.status NOT IN ('success', 'skipped')
		  AND download_records.run_id <> excluded.run_id`,
		key.Identifier, key.Track, key.FormatCode, runID, ts,
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

func (s *SQLiteStore) Summary(ctx context.Context) (map[domain.Status]int, error) {
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

func (s *SQLiteStore) Records(ctx context.Context, status domain.Status) ([]*domain.DownloadRecord, error) {
	query := `
		SELECT identifier, track, format_code, status, resolved_url, reason, run_id, updated_at
		FROM download_records`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
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
		var updatedAt string

		err := rows.Scan(
			&rec.Key.Identifier, &rec.Key.Track, &rec.Key.FormatCode,
			&rec.Status, &rec.ResolvedURL, &rec.Reason, &rec.RunID, &updatedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) StartRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Kind, run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *domain.Run) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("failed to encode run counts: %w", err)
	}

	now := time.Now().UTC()
	run.FinishedAt = &now

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, counts = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano), string(countsJSON), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Runs(ctx context.Context) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, started_at, finished_at, counts FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run := &domain.Run{}
		var startedAt string
		var finishedAt, countsJSON sql.NullString

		if err := rows.Scan(&run.ID, &run.Kind, &startedAt, &finishedAt, &countsJSON); err != nil {
			return nil, err
		}

		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
			run.FinishedAt = &t
		}
		if countsJSON.Valid {
			if err := json.Unmarshal([]byte(countsJSON.String), &run.Counts); err != nil {
				// Leave counts nil rather than dropping the run row
				run.Counts = nil
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
