package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"meridian/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE runs (
		id              TEXT PRIMARY KEY,
		created_at      INTEGER NOT NULL,
		symbol          TEXT NOT NULL,
		strategy        TEXT NOT NULL,
		policy          TEXT NOT NULL,
		start_at        INTEGER NOT NULL,
		end_at          INTEGER NOT NULL,
		initial_cash    REAL NOT NULL,
		execution_price TEXT NOT NULL,
		strategy_params TEXT NOT NULL,
		policy_params   TEXT NOT NULL,
		metrics         TEXT NOT NULL,
		final_equity    REAL NOT NULL
	);
	CREATE INDEX runs_created_at ON runs (created_at DESC);
	CREATE TABLE trades (
		run_id       TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		date         INTEGER NOT NULL,
		side         TEXT NOT NULL,
		price        REAL NOT NULL,
		quantity     INTEGER NOT NULL,
		cash_after   REAL NOT NULL,
		shares_after INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE TABLE equity (
		run_id TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
		seq    INTEGER NOT NULL,
		date   INTEGER NOT NULL,
		equity REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies any
// pending migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps PRAGMAs in effect and serialises writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run, its trades and its equity curve in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.BacktestRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run has no ID", domain.ErrInput)
	}
	stratParams, err := marshalJSON(run.StrategyParams)
	if err != nil {
		return err
	}
	polParams, err := marshalJSON(run.PolicyParams)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(run.Result.Metrics)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r := &run.Result
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, created_at, symbol, strategy, policy, start_at, end_at, initial_cash,
		 execution_price, strategy_params, policy_params, metrics, final_equity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixMilli(), r.Symbol, r.Strategy, r.Policy,
		run.Start.UnixMilli(), run.End.UnixMilli(), r.InitialCash,
		string(r.ExecutionPrice), stratParams, polParams, metrics, r.FinalEquity())
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, seq, date, side, price, quantity, cash_after, shares_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for i, t := range r.Trades {
		if _, err := tradeStmt.ExecContext(ctx, run.ID, i, t.Date.UnixMilli(), string(t.Side),
			t.Price, t.Quantity, t.CashAfter, t.SharesAfter); err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}

	equityStmt, err := tx.PrepareContext(ctx, `INSERT INTO equity (run_id, seq, date, equity) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer equityStmt.Close()
	for i, p := range r.EquityCurve {
		if _, err := equityStmt.ExecContext(ctx, run.ID, i, p.Date.UnixMilli(), p.Equity); err != nil {
			return fmt.Errorf("inserting equity point %d of run %s: %w", i, run.ID, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, created_at, symbol, strategy, policy, start_at, end_at,
	initial_cash, execution_price, strategy_params, policy_params, metrics`

// GetRun loads a run with its full ledger and equity curve.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}

	trades, err := s.db.QueryContext(ctx, `SELECT date, side, price, quantity, cash_after, shares_after
		FROM trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("reading trades of run %s: %w", id, err)
	}
	defer trades.Close()
	for trades.Next() {
		var (
			t    domain.Trade
			date int64
			side string
		)
		if err := trades.Scan(&date, &side, &t.Price, &t.Quantity, &t.CashAfter, &t.SharesAfter); err != nil {
			return nil, err
		}
		t.Symbol = run.Result.Symbol
		t.Date = time.UnixMilli(date).UTC()
		t.Side = domain.Side(side)
		run.Result.Trades = append(run.Result.Trades, t)
	}
	if err := trades.Err(); err != nil {
		return nil, err
	}
	trades.Close()

	points, err := s.db.QueryContext(ctx, `SELECT date, equity FROM equity WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("reading equity of run %s: %w", id, err)
	}
	defer points.Close()
	for points.Next() {
		var (
			p    domain.EquityPoint
			date int64
		)
		if err := points.Scan(&date, &p.Equity); err != nil {
			return nil, err
		}
		p.Date = time.UnixMilli(date).UTC()
		run.Result.EquityCurve = append(run.Result.EquityCurve, p)
	}
	if err := points.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns run summaries newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]domain.BacktestRun, error) {
	var (
		where []string
		args  []any
	)
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	if filter.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BacktestRun, error) {
	var (
		run                         domain.BacktestRun
		created, start, end         int64
		execPrice                   string
		stratParams, polParams, met string
	)
	r := &run.Result
	if err := row.Scan(&run.ID, &created, &r.Symbol, &r.Strategy, &r.Policy, &start, &end,
		&r.InitialCash, &execPrice, &stratParams, &polParams, &met); err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	run.Start = time.UnixMilli(start).UTC()
	run.End = time.UnixMilli(end).UTC()
	r.ExecutionPrice = domain.ExecutionPrice(execPrice)
	if err := json.Unmarshal([]byte(stratParams), &run.StrategyParams); err != nil {
		return nil, fmt.Errorf("decoding strategy params of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(polParams), &run.PolicyParams); err != nil {
		return nil, fmt.Errorf("decoding policy params of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(met), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics of run %s: %w", run.ID, err)
	}
	return &run, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding %T: %w", v, err)
	}
	return string(b), nil
}
