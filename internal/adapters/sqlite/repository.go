package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/ports"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// Repository implements ports.PriceStore and ports.ReportRepository using SQLite.
// Decimal amounts are stored as TEXT so no precision is lost to REAL columns.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/gainloss.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Currencies are matched concurrently; a single connection serialises their writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS usd_prices (
		currency TEXT NOT NULL,
		bucket INTEGER NOT NULL, -- unix seconds of the bucket start
		price TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (currency, bucket)
	);

	CREATE TABLE IF NOT EXISTS gain_loss_runs (
		id TEXT PRIMARY KEY,
		currency TEXT NOT NULL,
		policy TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		total_gain TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS disposals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES gain_loss_runs(id),
		trade_id TEXT NOT NULL,
		product TEXT NOT NULL,
		side TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		size TEXT NOT NULL,
		total TEXT NOT NULL,
		fee TEXT NOT NULL,
		currency TEXT NOT NULL,
		gain TEXT NOT NULL,
		cost TEXT NOT NULL,
		lot_fees TEXT NOT NULL,
		sale_fee TEXT NOT NULL,
		proceeds TEXT NOT NULL,
		unmatched TEXT NOT NULL,
		info TEXT NOT NULL,
		incomplete_cost_basis INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tax_lots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES gain_loss_runs(id),
		description TEXT NOT NULL,
		date_acquired TIMESTAMP NOT NULL,
		date_sold TIMESTAMP NOT NULL,
		proceeds TEXT NOT NULL,
		cost TEXT NOT NULL,
		gain_or_loss TEXT NOT NULL,
		tran_dt TIMESTAMP NOT NULL,
		volume TEXT NOT NULL,
		currency TEXT NOT NULL,
		trade_id TEXT NOT NULL,
		lot_trade_id TEXT NOT NULL
	);
	-- Add indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_gain_loss_runs_currency ON gain_loss_runs (currency);
	CREATE INDEX IF NOT EXISTS idx_disposals_run ON disposals (run_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tax_lots_run ON tax_lots (run_id, tran_dt);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PriceStore Implementation ---

// GetPrice returns the stored USD price of currency for the bucket starting at bucket.
func (r *Repository) GetPrice(ctx context.Context, currency string, bucket time.Time) (decimal.Decimal, bool, error) {
	const query = `SELECT price FROM usd_prices WHERE currency = ? AND bucket = ?`

	var price decimal.Decimal
	err := r.db.QueryRowContext(ctx, query, strings.ToUpper(currency), bucket.Unix()).Scan(&price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to query price of %s at %s: %w: %w", currency, bucket.Format(time.RFC3339), ports.ErrQueryFailed, err)
	}
	return price, true, nil
}

// SavePrice stores or replaces the USD price of a bucket.
func (r *Repository) SavePrice(ctx context.Context, currency string, bucket time.Time, price decimal.Decimal) error {
	const query = `
	INSERT INTO usd_prices (currency, bucket, price, fetched_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (currency, bucket) DO UPDATE SET price = excluded.price, fetched_at = excluded.fetched_at`

	_, err := r.db.ExecContext(ctx, query, strings.ToUpper(currency), bucket.Unix(), price.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save price of %s at %s: %w: %w", currency, bucket.Format(time.RFC3339), ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Price saved", map[string]interface{}{"currency": currency, "bucket": bucket.Format(time.RFC3339), "price": price})
	return nil
}

// --- ReportRepository Implementation ---

// SaveRun stores a run with its disposals and tax lots in one transaction.
// A run without an ID gets a fresh UUID, which is also written back to run.ID.
func (r *Repository) SaveRun(ctx context.Context, run *domain.RunReport) (string, error) {
	if run == nil {
		return "", fmt.Errorf("cannot save nil run: %w", ports.ErrInvalidRequest)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction for run %s: %w: %w", run.ID, ports.ErrDBConnection, err)
	}
	defer tx.Rollback() // no-op after Commit

	const runQuery = `
	INSERT INTO gain_loss_runs (id, currency, policy, start_time, end_time, created_at, total_gain)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, runQuery,
		run.ID, run.Currency, string(run.Policy), run.Start.UTC(), run.End.UTC(), run.CreatedAt.UTC(), run.TotalGain.String()); err != nil {
		return "", fmt.Errorf("failed to insert run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}

	const disposalQuery = `
	INSERT INTO disposals (run_id, trade_id, product, side, created_at, size, total, fee, currency,
	                       gain, cost, lot_fees, sale_fee, proceeds, unmatched, info, incomplete_cost_basis)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, d := range run.Disposals {
		if _, err := tx.ExecContext(ctx, disposalQuery,
			run.ID, d.Row.TradeID, d.Row.Product, string(d.Row.Side), d.Row.CreatedAt.UTC(),
			d.Row.Size.String(), d.Row.Total.String(), d.Row.Fee.String(), d.Currency,
			d.Gain.String(), d.Cost.String(), d.LotFees.String(), d.SaleFee.String(), d.Proceeds.String(),
			d.Unmatched.String(), d.Info, d.IncompleteCostBasis); err != nil {
			return "", fmt.Errorf("failed to insert disposal %s of run %s: %w: %w", d.Row.TradeID, run.ID, ports.ErrQueryFailed, err)
		}
	}

	const taxLotQuery = `
	INSERT INTO tax_lots (run_id, description, date_acquired, date_sold, proceeds, cost, gain_or_loss,
	                      tran_dt, volume, currency, trade_id, lot_trade_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, l := range run.TaxLots {
		if _, err := tx.ExecContext(ctx, taxLotQuery,
			run.ID, l.Description, l.DateAcquired.UTC(), l.DateSold.UTC(), l.Proceeds.String(), l.Cost.String(),
			l.GainOrLoss.String(), l.TranDT.UTC(), l.Volume.String(), l.Currency, l.TradeID, l.LotTradeID); err != nil {
			return "", fmt.Errorf("failed to insert tax lot %s/%s of run %s: %w: %w", l.TradeID, l.LotTradeID, run.ID, ports.ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Run saved", map[string]interface{}{
		"runID":     run.ID,
		"currency":  run.Currency,
		"disposals": len(run.Disposals),
		"taxLots":   len(run.TaxLots),
	})
	return run.ID, nil
}

// FindDisposalsByRun returns the disposals of a run ordered by trade time.
func (r *Repository) FindDisposalsByRun(ctx context.Context, runID string) ([]domain.DisposalResult, error) {
	const query = `
	SELECT trade_id, product, side, created_at, size, total, fee, currency,
	       gain, cost, lot_fees, sale_fee, proceeds, unmatched, info, incomplete_cost_basis
	FROM disposals
	WHERE run_id = ?
	ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query disposals of run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	disposals := make([]domain.DisposalResult, 0)
	for rows.Next() {
		d, err := scanDisposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disposal of run %s: %w", runID, err)
		}
		disposals = append(disposals, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating disposal rows: %w", err)
	}
	return disposals, nil
}

// FindTaxLotsByRun returns the tax lots of a run ordered by sale time.
func (r *Repository) FindTaxLotsByRun(ctx context.Context, runID string) ([]domain.TaxLotRow, error) {
	const query = `
	SELECT description, date_acquired, date_sold, proceeds, cost, gain_or_loss,
	       tran_dt, volume, currency, trade_id, lot_trade_id
	FROM tax_lots
	WHERE run_id = ?
	ORDER BY tran_dt, id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tax lots of run %s: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	lots := make([]domain.TaxLotRow, 0)
	for rows.Next() {
		l, err := scanTaxLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tax lot of run %s: %w", runID, err)
		}
		lots = append(lots, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tax lot rows: %w", err)
	}
	return lots, nil
}

// TotalGainByCurrency sums the total gain of every stored run of currency.
// The sum is done in Go because SQLite would coerce the TEXT amounts to REAL.
func (r *Repository) TotalGainByCurrency(ctx context.Context, currency string) (decimal.Decimal, error) {
	const query = `SELECT total_gain FROM gain_loss_runs WHERE currency = ?`

	rows, err := r.db.QueryContext(ctx, query, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query gains of %s: %w: %w", currency, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var gain decimal.Decimal
		if err := rows.Scan(&gain); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan gain of %s: %w", currency, err)
		}
		total = total.Add(gain)
	}
	if err = rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating gain rows: %w", err)
	}
	return total, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDisposal(s scanner) (domain.DisposalResult, error) {
	var d domain.DisposalResult
	var side string
	err := s.Scan(
		&d.Row.TradeID, &d.Row.Product, &side, &d.Row.CreatedAt, &d.Row.Size, &d.Row.Total, &d.Row.Fee, &d.Currency,
		&d.Gain, &d.Cost, &d.LotFees, &d.SaleFee, &d.Proceeds, &d.Unmatched, &d.Info, &d.IncompleteCostBasis)
	if err != nil {
		return domain.DisposalResult{}, err
	}
	d.Row.Side = domain.Side(side)
	return d, nil
}

func scanTaxLot(s scanner) (domain.TaxLotRow, error) {
	var l domain.TaxLotRow
	err := s.Scan(
		&l.Description, &l.DateAcquired, &l.DateSold, &l.Proceeds, &l.Cost, &l.GainOrLoss,
		&l.TranDT, &l.Volume, &l.Currency, &l.TradeID, &l.LotTradeID)
	if err != nil {
		return domain.TaxLotRow{}, err
	}
	return l, nil
}
