package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS analysis_runs (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		run_at              INTEGER NOT NULL,
		window_label        TEXT NOT NULL,
		symbols             INTEGER NOT NULL,
		records             INTEGER NOT NULL,
		decode_failures     INTEGER NOT NULL,
		matrix_size         INTEGER NOT NULL,
		highest_correlation TEXT NOT NULL,
		lowest_correlation  TEXT NOT NULL,
		created_at          INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_runs_run_at ON analysis_runs(run_at)`,
	`CREATE TABLE IF NOT EXISTS ranking_entries (
		run_id      INTEGER NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
		ranking     TEXT NOT NULL,
		rank        INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		alpha       TEXT NOT NULL,
		probability TEXT NOT NULL,
		change_pct  TEXT NOT NULL,
		volume      TEXT NOT NULL,
		PRIMARY KEY (run_id, ranking, rank)
	)`,
}

// SQLiteStore persists runs in an embedded SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates the run tables when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts run and its ranking entries in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrNotConfigured
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO analysis_runs
		(run_at, window_label, symbols, records, decode_failures, matrix_size,
		 highest_correlation, lowest_correlation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunAt.UTC().UnixMilli(),
		run.Window,
		run.Symbols,
		run.Records,
		run.DecodeFailures,
		run.MatrixSize,
		run.HighestCorrelation.String(),
		run.LowestCorrelation.String(),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for _, e := range run.Entries {
		cols := entryValues(e)
		if _, err := tx.ExecContext(ctx, `INSERT INTO ranking_entries
			(run_id, ranking, rank, symbol, alpha, probability, change_pct, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.Ranking, e.Rank, e.Symbol, cols.alpha, cols.probability, cols.change, cols.volume,
		); err != nil {
			return 0, fmt.Errorf("insert ranking entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// ListRecentRuns lists the most recent runs with their entries, newest first.
func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, run_at, window_label, symbols, records,
		decode_failures, matrix_size, highest_correlation, lowest_correlation, created_at
		FROM analysis_runs ORDER BY run_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}

	runs := make([]Run, 0)
	for rows.Next() {
		var (
			run              Run
			runAt, createdAt int64
			highest, lowest  string
		)
		if err := rows.Scan(&run.ID, &runAt, &run.Window, &run.Symbols, &run.Records,
			&run.DecodeFailures, &run.MatrixSize, &highest, &lowest, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		run.RunAt = time.UnixMilli(runAt).UTC()
		run.CreatedAt = time.UnixMilli(createdAt).UTC()
		if run.HighestCorrelation, err = parseDecimal("highest_correlation", highest); err != nil {
			rows.Close()
			return nil, err
		}
		if run.LowestCorrelation, err = parseDecimal("lowest_correlation", lowest); err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		entries, err := s.listEntries(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Entries = entries
	}
	return runs, nil
}

func (s *SQLiteStore) listEntries(ctx context.Context, runID int64) ([]RankingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ranking, rank, symbol, alpha, probability, change_pct, volume
		FROM ranking_entries WHERE run_id = ? ORDER BY ranking, rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("list ranking entries: %w", err)
	}
	defer rows.Close()

	var entries []RankingEntry
	for rows.Next() {
		var (
			e    RankingEntry
			cols entryColumns
		)
		if err := rows.Scan(&e.Ranking, &e.Rank, &e.Symbol,
			&cols.alpha, &cols.probability, &cols.change, &cols.volume); err != nil {
			return nil, err
		}
		if err := cols.apply(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ RunStore = (*SQLiteStore)(nil)
