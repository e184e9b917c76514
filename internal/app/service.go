package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cryptoGainLoss/config"
	"cryptoGainLoss/internal/adapters/csvreport"
	"cryptoGainLoss/internal/analytics"
	"cryptoGainLoss/internal/costbasis"
	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/gainloss"
	"cryptoGainLoss/internal/ports"
)

// CostBasisEnricher attaches USD prices to the non-USD rows of a batch.
type CostBasisEnricher interface {
	Enrich(ctx context.Context, rows []domain.TradeRow) ([]domain.TradeRow, error)
}

// CurrencyReport is the outcome of one currency's pipeline.
type CurrencyReport struct {
	Currency        string
	RunID           string
	Rows            int
	Result          *gainloss.Result
	TaxTransactions []domain.TaxTransaction
	Summary         *analytics.GainSummary
}

// RunSummary is the outcome of a whole run.
type RunSummary struct {
	Reports   []*CurrencyReport // successful currencies, in configured order
	Failed    map[string]error
	TotalGain decimal.Decimal // sum of every reported tax lot's gain or loss
}

// GainLossService orchestrates loading, pricing, matching and reporting of every configured currency.
type GainLossService struct {
	cfg      *config.Config
	logger   ports.Logger
	source   ports.TradeSource
	enricher CostBasisEnricher
	repo     ports.ReportRepository
	engine   *gainloss.Engine
	layout   csvreport.Layout
}

// NewGainLossService creates a new application service instance.
func NewGainLossService(
	cfg *config.Config,
	logger ports.Logger,
	source ports.TradeSource,
	enricher CostBasisEnricher,
	repo ports.ReportRepository,
	engine *gainloss.Engine,
) (*GainLossService, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || source == nil || repo == nil || engine == nil {
		return nil, fmt.Errorf("missing required dependencies for GainLossService")
	}
	if cfg.Enrich && enricher == nil {
		return nil, fmt.Errorf("enrichment is enabled but no enricher was given")
	}

	// Validate config values needed by service
	if len(cfg.Currencies) == 0 {
		return nil, fmt.Errorf("configuration Currencies must not be empty")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("configuration OutputDir must be set")
	}
	if cfg.ReportEnd.Before(cfg.ReportStart) {
		return nil, fmt.Errorf("configuration ReportEnd is before ReportStart")
	}

	return &GainLossService{
		cfg:      cfg,
		logger:   logger,
		source:   source,
		enricher: enricher,
		repo:     repo,
		engine:   engine,
		layout:   csvreport.Layout{Root: cfg.OutputDir, Start: cfg.ReportStart, End: cfg.ReportEnd},
	}, nil
}

// Run processes every configured currency concurrently and writes the merged TOTAL reports.
// A failing currency does not stop the others; failures are returned joined, together with
// the summary of the currencies that succeeded.
func (s *GainLossService) Run(ctx context.Context) (*RunSummary, error) {
	s.logger.Info(ctx, "Starting gain/loss run", map[string]interface{}{
		"currencies": len(s.cfg.Currencies),
		"start":      s.cfg.ReportStart.Format(time.RFC3339),
		"end":        s.cfg.ReportEnd.Format(time.RFC3339),
		"policy":     s.cfg.MatchPolicy,
	})

	reports := make([]*CurrencyReport, len(s.cfg.Currencies))
	errs := make([]error, len(s.cfg.Currencies))

	// Currencies share no state except the oracle, which is safe for concurrent use.
	var g errgroup.Group
	for i, cc := range s.cfg.Currencies {
		i, cc := i, cc
		g.Go(func() error {
			report, err := s.processCurrency(ctx, cc)
			if err != nil {
				s.logger.Error(ctx, err, "Currency failed", map[string]interface{}{"currency": cc.Currency})
				errs[i] = fmt.Errorf("%s: %w", cc.Currency, err)
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()

	summary := &RunSummary{Failed: make(map[string]error)}
	var lots [][]domain.TaxLotRow
	var taxTxs [][]domain.TaxTransaction
	for i, cc := range s.cfg.Currencies {
		if errs[i] != nil {
			summary.Failed[cc.Currency] = errs[i]
			continue
		}
		summary.Reports = append(summary.Reports, reports[i])
		lots = append(lots, reports[i].Result.TaxLots)
		taxTxs = append(taxTxs, reports[i].TaxTransactions)
	}

	mergedLots := csvreport.MergeTaxLots(lots...)
	summary.TotalGain = decimal.Zero
	for _, l := range mergedLots {
		summary.TotalGain = summary.TotalGain.Add(l.GainOrLoss)
	}

	if len(summary.Reports) > 0 {
		if err := s.writeTotals(mergedLots, csvreport.MergeTaxTransactions(taxTxs...)); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info(ctx, "Gain/loss run finished", map[string]interface{}{
		"succeeded": len(summary.Reports),
		"failed":    len(summary.Failed),
		"taxLots":   len(mergedLots),
		"totalGain": summary.TotalGain.StringFixed(2),
	})
	return summary, errors.Join(errs...)
}

func (s *GainLossService) writeTotals(lots []domain.TaxLotRow, txs []domain.TaxTransaction) error {
	if err := csvreport.WriteFile(s.layout.TotalPath(csvreport.KindTaxLots), func(w io.Writer) error {
		return csvreport.WriteTaxLots(w, lots)
	}); err != nil {
		return fmt.Errorf("total tax lots: %w", err)
	}
	if err := csvreport.WriteFile(s.layout.TotalPath(csvreport.KindTaxTransactions), func(w io.Writer) error {
		return csvreport.WriteTaxTransactions(w, txs)
	}); err != nil {
		return fmt.Errorf("total tax transactions: %w", err)
	}
	return nil
}

// processCurrency runs the full pipeline for one currency.
func (s *GainLossService) processCurrency(ctx context.Context, cc config.CurrencyConfig) (*CurrencyReport, error) {
	// 1. Load priced rows
	rows, err := s.loadRows(ctx, cc)
	if err != nil {
		return nil, err
	}

	// 2. Build fee-folded transactions and the tax transaction projection
	txs := make([]*domain.Transaction, 0, len(rows))
	taxTxs := make([]domain.TaxTransaction, 0, len(rows))
	for _, row := range rows {
		t, err := domain.NewTransaction(row)
		if err != nil {
			return nil, fmt.Errorf("failed to build transaction: %w", err)
		}
		tt, err := t.TaxTransaction(cc.Currency)
		if err != nil {
			return nil, fmt.Errorf("failed to build tax transaction: %w", err)
		}
		txs = append(txs, t)
		taxTxs = append(taxTxs, tt)
	}
	if err := csvreport.WriteFile(s.layout.Path(csvreport.KindTaxTransactions, cc.Currency), func(w io.Writer) error {
		return csvreport.WriteTaxTransactions(w, taxTxs)
	}); err != nil {
		return nil, err
	}

	// 3. Match disposals against open lots
	result, err := s.engine.Match(ctx, txs, gainloss.Options{
		Currency:        cc.Currency,
		Start:           s.cfg.ReportStart,
		End:             s.cfg.ReportEnd,
		Policy:          s.cfg.MatchPolicy,
		StrictCostBasis: s.cfg.StrictCostBasis,
		WindowTaxLots:   s.cfg.WindowTaxLots,
	})
	if err != nil {
		return nil, fmt.Errorf("matching failed: %w", err)
	}

	// 4. Write reports
	if err := csvreport.WriteFile(s.layout.Path(csvreport.KindDisposals, cc.Currency), func(w io.Writer) error {
		return csvreport.WriteDisposals(w, result.Disposals)
	}); err != nil {
		return nil, err
	}
	if err := csvreport.WriteFile(s.layout.Path(csvreport.KindTaxLots, cc.Currency), func(w io.Writer) error {
		return csvreport.WriteTaxLots(w, result.TaxLots)
	}); err != nil {
		return nil, err
	}

	// 5. Persist the run
	runID, err := s.repo.SaveRun(ctx, &domain.RunReport{
		Currency:  cc.Currency,
		Policy:    s.cfg.MatchPolicy,
		Start:     s.cfg.ReportStart,
		End:       s.cfg.ReportEnd,
		CreatedAt: time.Now().UTC(),
		TotalGain: result.TotalGain(),
		Disposals: result.Disposals,
		TaxLots:   result.TaxLots,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	summary := analytics.Summarize(cc.Currency, result)
	summaryFields := summary.Fields()
	summaryFields["runID"] = runID
	s.logger.Info(ctx, "Currency processed", summaryFields)
	if summary.IncompleteCount > 0 {
		s.logger.Warn(ctx, "Some disposals have incomplete cost basis", map[string]interface{}{
			"currency":   cc.Currency,
			"incomplete": summary.IncompleteCount,
		})
	}
	return &CurrencyReport{
		Currency:        cc.Currency,
		RunID:           runID,
		Rows:            len(rows),
		Result:          result,
		TaxTransactions: taxTxs,
		Summary:         summary,
	}, nil
}

// loadRows returns the chronologically ordered, USD priced rows of one currency.
//
// With enrichment off, a previously written enriched report is reused when present so prices
// fixed by hand survive a rerun.
func (s *GainLossService) loadRows(ctx context.Context, cc config.CurrencyConfig) ([]domain.TradeRow, error) {
	enrichedPath := s.layout.Path(csvreport.KindEnriched, cc.Currency)

	if !s.cfg.Enrich {
		if _, err := os.Stat(enrichedPath); err == nil {
			rows, err := csvreport.ReadFillsFile(enrichedPath)
			if err != nil {
				return nil, err
			}
			s.logger.Info(ctx, "Using enriched report", map[string]interface{}{
				"currency": cc.Currency,
				"path":     enrichedPath,
				"rows":     len(rows),
			})
			return sortRows(filterEnd(rows, s.cfg.ReportEnd)), nil
		}
	}

	rows, err := s.source.LoadTrades(ctx, cc.Products, s.cfg.ReportEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	coinbaseRows, err := s.loadCoinbase(ctx, cc.Currency)
	if err != nil {
		return nil, err
	}
	rows = sortRows(append(rows, coinbaseRows...))

	var enrichErr *costbasis.EnrichmentError
	if s.cfg.Enrich {
		enriched, err := s.enricher.Enrich(ctx, rows)
		if err != nil && !errors.As(err, &enrichErr) {
			return nil, fmt.Errorf("enrichment failed: %w", err)
		}
		rows = enriched
	}

	// The enriched report is written even when prices are missing so they can be filled in.
	if err := csvreport.WriteFile(enrichedPath, func(w io.Writer) error {
		return csvreport.WriteFills(w, rows)
	}); err != nil {
		return nil, err
	}
	if enrichErr != nil {
		return nil, fmt.Errorf("enrichment incomplete, see %s: %w", enrichedPath, enrichErr)
	}
	return rows, nil
}

// loadCoinbase converts <COINBASE_DIR>/<CUR>_TRX.csv and <CUR>_TAX.csv when both exist.
func (s *GainLossService) loadCoinbase(ctx context.Context, currency string) ([]domain.TradeRow, error) {
	if s.cfg.CoinbaseDir == "" {
		return nil, nil
	}
	transfers := filepath.Join(s.cfg.CoinbaseDir, currency+"_TRX.csv")
	buysSells := filepath.Join(s.cfg.CoinbaseDir, currency+"_TAX.csv")

	_, errTransfers := os.Stat(transfers)
	_, errBuysSells := os.Stat(buysSells)
	if errTransfers != nil || errBuysSells != nil {
		if errTransfers == nil || errBuysSells == nil {
			s.logger.Warn(ctx, "Incomplete Coinbase export, skipping", map[string]interface{}{
				"currency":  currency,
				"transfers": transfers,
				"buysSells": buysSells,
			})
		}
		return nil, nil
	}

	rows, err := csvreport.ConvertCoinbaseFiles(transfers, buysSells, csvreport.CoinbaseOptions{
		ExternalTransferAsSell: s.cfg.ExternalTransferAsSell,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert Coinbase export: %w", err)
	}
	rows = filterEnd(rows, s.cfg.ReportEnd)
	s.logger.Info(ctx, "Coinbase export loaded", map[string]interface{}{
		"currency": currency,
		"rows":     len(rows),
	})
	return rows, nil
}

func filterEnd(rows []domain.TradeRow, end time.Time) []domain.TradeRow {
	kept := rows[:0]
	for _, r := range rows {
		if !r.CreatedAt.After(end) {
			kept = append(kept, r)
		}
	}
	return kept
}

func sortRows(rows []domain.TradeRow) []domain.TradeRow {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows
}
