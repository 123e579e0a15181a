package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSchemaSQL = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id                  BIGSERIAL PRIMARY KEY,
    run_at              TIMESTAMPTZ NOT NULL,
    window_label        TEXT NOT NULL,
    symbols             INTEGER NOT NULL,
    records             INTEGER NOT NULL,
    decode_failures     INTEGER NOT NULL,
    matrix_size         INTEGER NOT NULL,
    highest_correlation NUMERIC NOT NULL,
    lowest_correlation  NUMERIC NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_run_at ON analysis_runs (run_at DESC);
CREATE TABLE IF NOT EXISTS ranking_entries (
    run_id      BIGINT NOT NULL REFERENCES analysis_runs (id) ON DELETE CASCADE,
    ranking     TEXT NOT NULL,
    rank        INTEGER NOT NULL,
    symbol      TEXT NOT NULL,
    alpha       NUMERIC NOT NULL,
    probability NUMERIC NOT NULL,
    change_pct  NUMERIC NOT NULL,
    volume      NUMERIC NOT NULL,
    PRIMARY KEY (run_id, ranking, rank)
);`

	pgInsertRunSQL = `INSERT INTO analysis_runs (
        run_at,
        window_label,
        symbols,
        records,
        decode_failures,
        matrix_size,
        highest_correlation,
        lowest_correlation
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	pgInsertEntrySQL = `INSERT INTO ranking_entries (
        run_id,
        ranking,
        rank,
        symbol,
        alpha,
        probability,
        change_pct,
        volume
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	pgListRecentRunsSQL = `SELECT
        id,
        run_at,
        window_label,
        symbols,
        records,
        decode_failures,
        matrix_size,
        highest_correlation::text,
        lowest_correlation::text,
        created_at
    FROM analysis_runs
    ORDER BY run_at DESC, id DESC
    LIMIT $1;`

	pgListEntriesSQL = `SELECT
        run_id,
        ranking,
        rank,
        symbol,
        alpha::text,
        probability::text,
        change_pct::text,
        volume::text
    FROM ranking_entries
    WHERE run_id = ANY($1)
    ORDER BY run_id, ranking, rank;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore persists runs in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the run tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// SaveRun inserts run and its ranking entries in one transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, run Run) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, pgInsertRunSQL,
			run.RunAt,
			run.Window,
			run.Symbols,
			run.Records,
			run.DecodeFailures,
			run.MatrixSize,
			run.HighestCorrelation.String(),
			run.LowestCorrelation.String(),
		).Scan(&id); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if len(run.Entries) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range run.Entries {
			cols := entryValues(e)
			batch.Queue(pgInsertEntrySQL, id, e.Ranking, e.Rank, e.Symbol,
				cols.alpha, cols.probability, cols.change, cols.volume)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert ranking entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListRecentRuns lists the most recent runs with their entries, newest first.
func (s *PostgresStore) ListRecentRuns(ctx context.Context, limit int) ([]Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pgListRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	runs := make([]Run, 0, limit)
	for rows.Next() {
		var (
			run             Run
			highest, lowest string
		)
		if err := rows.Scan(
			&run.ID,
			&run.RunAt,
			&run.Window,
			&run.Symbols,
			&run.Records,
			&run.DecodeFailures,
			&run.MatrixSize,
			&highest,
			&lowest,
			&run.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, err
		}
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
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(runs) == 0 {
		return runs, nil
	}

	ids := make([]int64, len(runs))
	index := make(map[int64]int, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
		index[run.ID] = i
	}

	entryRows, queryErr := pool.Query(ctx, pgListEntriesSQL, ids)
	if queryErr != nil {
		return nil, fmt.Errorf("list ranking entries: %w", queryErr)
	}
	defer entryRows.Close()

	for entryRows.Next() {
		var (
			runID int64
			e     RankingEntry
			cols  entryColumns
		)
		if err := entryRows.Scan(&runID, &e.Ranking, &e.Rank, &e.Symbol,
			&cols.alpha, &cols.probability, &cols.change, &cols.volume); err != nil {
			return nil, err
		}
		if err := cols.apply(&e); err != nil {
			return nil, err
		}
		i := index[runID]
		runs[i].Entries = append(runs[i].Entries, e)
	}
	if entryRows.Err() != nil {
		return nil, entryRows.Err()
	}
	return runs, nil
}

var (
	_ RunStore       = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
