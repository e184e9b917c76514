package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
)

// TradeSource produces the normalised trade rows a currency's gain/loss report is built from.
type TradeSource interface {
	// LoadTrades returns rows whose product is in products and which happened at or before end.
	LoadTrades(ctx context.Context, products []string, end time.Time) ([]domain.TradeRow, error)
}

// ReportRepository stores the results of matching runs.
type ReportRepository interface {
	// SaveRun stores the run with its disposals and tax lots and returns the assigned run ID.
	SaveRun(ctx context.Context, run *domain.RunReport) (string, error)
	// FindDisposalsByRun returns the disposals of a run ordered by trade time.
	FindDisposalsByRun(ctx context.Context, runID string) ([]domain.DisposalResult, error)
	// FindTaxLotsByRun returns the tax lots of a run ordered by sale time.
	FindTaxLotsByRun(ctx context.Context, runID string) ([]domain.TaxLotRow, error)
	// TotalGainByCurrency sums the total gain of every stored run for a currency.
	TotalGainByCurrency(ctx context.Context, currency string) (decimal.Decimal, error)
}
