package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrRunNotFound is returned when no run carries the requested id.
	ErrRunNotFound = errors.New("storage: run not found")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS integration_runs (
        id            UUID PRIMARY KEY,
        instrument    TEXT NOT NULL,
        contracts     TEXT[] NOT NULL,
        coefficients  DOUBLE PRECISION[] NOT NULL,
        period_start  DATE NOT NULL,
        period_end    DATE NOT NULL,
        n_s           INTEGER NOT NULL,
        status        TEXT NOT NULL,
        trades        INTEGER NOT NULL,
        quotes        INTEGER NOT NULL,
        dropped       INTEGER NOT NULL,
        duplicates    INTEGER NOT NULL,
        provenance    JSONB NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS run_records (
        run_id      UUID NOT NULL REFERENCES integration_runs (id) ON DELETE CASCADE,
        seq         INTEGER NOT NULL,
        ts          TIMESTAMPTZ NOT NULL,
        kind        TEXT NOT NULL,
        source      TEXT NOT NULL,
        side        SMALLINT NOT NULL DEFAULT 0,
        price       NUMERIC,
        volume      NUMERIC,
        bid         NUMERIC,
        ask         NUMERIC,
        bid_source  TEXT NOT NULL DEFAULT '',
        ask_source  TEXT NOT NULL DEFAULT '',
        invalid     BOOLEAN NOT NULL DEFAULT false,
        trade_id    TEXT NOT NULL DEFAULT '',
        broker_id   INTEGER NOT NULL DEFAULT 0,
        duplicates  INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (run_id, seq)
    );`

	insertRunSQL = `INSERT INTO integration_runs (
        id,
        instrument,
        contracts,
        coefficients,
        period_start,
        period_end,
        n_s,
        status,
        trades,
        quotes,
        dropped,
        duplicates,
        provenance
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING created_at;`

	insertRecordSQL = `INSERT INTO run_records (
        run_id,
        seq,
        ts,
        kind,
        source,
        side,
        price,
        volume,
        bid,
        ask,
        bid_source,
        ask_source,
        invalid,
        trade_id,
        broker_id,
        duplicates
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
    );`

	selectRunColumns = `SELECT
        id,
        instrument,
        contracts,
        coefficients,
        period_start,
        period_end,
        n_s,
        status,
        trades,
        quotes,
        dropped,
        duplicates,
        provenance,
        created_at
    FROM integration_runs`

	listRecentRunsSQL = selectRunColumns + `
    ORDER BY created_at DESC
    LIMIT $1;`

	getRunSQL = selectRunColumns + `
    WHERE id = $1;`

	listRunRecordsSQL = `SELECT
        seq,
        ts,
        kind,
        source,
        side,
        price,
        volume,
        bid,
        ask,
        bid_source,
        ask_source,
        invalid,
        trade_id,
        broker_id,
        duplicates
    FROM run_records
    WHERE run_id = $1
    ORDER BY seq;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines operations for integration run persistence.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord, rows []RecordRow) (RunRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	GetRun(ctx context.Context, id uuid.UUID) (RunRecord, error)
	ListRunRecords(ctx context.Context, id uuid.UUID) ([]RecordRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists integration runs and their merged records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool, nil when not configured.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the run tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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

// SaveRun stores the run header and all of its records in one transaction.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, rows []RecordRow) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	provenance := run.Provenance
	if len(provenance) == 0 {
		provenance = []byte("{}")
	}
	if err := tx.QueryRow(ctx, insertRunSQL,
		run.ID,
		run.Instrument,
		run.Contracts,
		run.Coefficients,
		run.PeriodStart,
		run.PeriodEnd,
		run.NS,
		run.Status,
		run.Trades,
		run.Quotes,
		run.Dropped,
		run.Duplicates,
		[]byte(provenance),
	).Scan(&run.CreatedAt); err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, row := range rows {
			batch.Queue(insertRecordSQL,
				run.ID,
				row.Seq,
				row.Time,
				row.Kind,
				row.Source,
				row.Side,
				decimalArg(row.Price),
				decimalArg(row.Volume),
				decimalArg(row.Bid),
				decimalArg(row.Ask),
				row.BidSource,
				row.AskSource,
				row.Invalid,
				row.TradeID,
				row.BrokerID,
				row.Duplicates,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return RunRecord{}, fmt.Errorf("insert run records: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return RunRecord{}, fmt.Errorf("commit run: %w", err)
	}
	return run, nil
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// GetRun loads one run header.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}
	run, err := scanRun(pool.QueryRow(ctx, getRunSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRunRecords loads the merged records of a run in output order.
func (s *Store) ListRunRecords(ctx context.Context, id uuid.UUID) ([]RecordRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunRecordsSQL, id)
	if queryErr != nil {
		return nil, fmt.Errorf("list run records: %w", queryErr)
	}
	defer rows.Close()

	out := make([]RecordRow, 0)
	for rows.Next() {
		row, scanErr := scanRecordRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var run RunRecord
	if err := row.Scan(
		&run.ID,
		&run.Instrument,
		&run.Contracts,
		&run.Coefficients,
		&run.PeriodStart,
		&run.PeriodEnd,
		&run.NS,
		&run.Status,
		&run.Trades,
		&run.Quotes,
		&run.Dropped,
		&run.Duplicates,
		&run.Provenance,
		&run.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

func scanRecordRow(row rowScanner) (RecordRow, error) {
	var (
		rec                      RecordRow
		price, volume, bid, ask sql.NullString
	)
	if err := row.Scan(
		&rec.Seq,
		&rec.Time,
		&rec.Kind,
		&rec.Source,
		&rec.Side,
		&price,
		&volume,
		&bid,
		&ask,
		&rec.BidSource,
		&rec.AskSource,
		&rec.Invalid,
		&rec.TradeID,
		&rec.BrokerID,
		&rec.Duplicates,
	); err != nil {
		return RecordRow{}, err
	}

	var err error
	if rec.Price, err = parseNullDecimal(price); err != nil {
		return RecordRow{}, fmt.Errorf("parse price: %w", err)
	}
	if rec.Volume, err = parseNullDecimal(volume); err != nil {
		return RecordRow{}, fmt.Errorf("parse volume: %w", err)
	}
	if rec.Bid, err = parseNullDecimal(bid); err != nil {
		return RecordRow{}, fmt.Errorf("parse bid: %w", err)
	}
	if rec.Ask, err = parseNullDecimal(ask); err != nil {
		return RecordRow{}, fmt.Errorf("parse ask: %w", err)
	}
	rec.Time = rec.Time.UTC()
	return rec, nil
}

func parseNullDecimal(v sql.NullString) (decimal.NullDecimal, error) {
	if !v.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func decimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

var (
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
