package costbasis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/ports"
)

const defaultConcurrency = 4

// RowFailure records why one row could not be priced.
type RowFailure struct {
	TradeID  string
	Currency string
	At       time.Time
	Err      error
}

// EnrichmentError collects the rows whose USD prices could not be attached.
// The other rows of the batch are still enriched.
type EnrichmentError struct {
	Failures []RowFailure
}

func (e *EnrichmentError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("trade %s (%s at %s): %v", f.TradeID, f.Currency, f.At.Format(time.RFC3339), f.Err))
	}
	return fmt.Sprintf("enrichment failed for %d row(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every row error to errors.Is / errors.As.
func (e *EnrichmentError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Enricher attaches USD unit prices to rows that are not quoted in USD.
type Enricher struct {
	oracle      ports.PriceOracle
	logger      ports.Logger
	concurrency int
}

// NewEnricher creates an Enricher that runs at most concurrency oracle lookups at a time.
func NewEnricher(oracle ports.PriceOracle, logger ports.Logger, concurrency int) (*Enricher, error) {
	if oracle == nil {
		return nil, fmt.Errorf("price oracle is required for enricher")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for enricher")
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Enricher{oracle: oracle, logger: logger, concurrency: concurrency}, nil
}

// Enrich returns a chronologically ordered copy of rows (ties keep input order) where every
// non-USD row carries BaseUSDPrice and QuoteUSDPrice.
//
// USD quoted rows and prices already present are left untouched and cost no oracle call.
// A malformed row aborts the batch. Failed lookups are returned together as an
// *EnrichmentError alongside the rows, which then lack the missing price.
func (e *Enricher) Enrich(ctx context.Context, rows []domain.TradeRow) ([]domain.TradeRow, error) {
	out := make([]domain.TradeRow, len(rows))
	copy(out, rows)
	for i := range out {
		if err := out[i].Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	failures := make([][]RowFailure, len(out))
	lookups := 0

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i := range out {
		row := &out[i]
		if row.IsUSDQuoted() {
			continue
		}
		needBase, needQuote := !row.BaseUSDPrice.Valid, !row.QuoteUSDPrice.Valid
		if !needBase && !needQuote {
			continue
		}
		lookups++
		i := i
		g.Go(func() error {
			if needBase {
				price, err := e.lookup(ctx, row.SizeUnit, row.CreatedAt)
				if err != nil {
					failures[i] = append(failures[i], RowFailure{TradeID: row.TradeID, Currency: row.SizeUnit, At: row.CreatedAt, Err: err})
				} else {
					row.BaseUSDPrice = decimal.NewNullDecimal(price)
				}
			}
			if needQuote {
				price, err := e.lookup(ctx, row.QuoteUnit, row.CreatedAt)
				if err != nil {
					failures[i] = append(failures[i], RowFailure{TradeID: row.TradeID, Currency: row.QuoteUnit, At: row.CreatedAt, Err: err})
				} else {
					row.QuoteUSDPrice = decimal.NewNullDecimal(price)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}

	enrichErr := &EnrichmentError{}
	for _, f := range failures {
		enrichErr.Failures = append(enrichErr.Failures, f...)
	}

	e.logger.Info(ctx, "Cost basis enrichment finished", map[string]interface{}{
		"rows":     len(out),
		"enriched": lookups,
		"failed":   len(enrichErr.Failures),
	})
	if len(enrichErr.Failures) > 0 {
		for _, f := range enrichErr.Failures {
			e.logger.Warn(ctx, "Missing USD price", map[string]interface{}{
				"tradeID":  f.TradeID,
				"currency": f.Currency,
				"at":       f.At.Format(time.RFC3339),
				"error":    f.Err.Error(),
			})
		}
		return out, enrichErr
	}
	return out, nil
}

func (e *Enricher) lookup(ctx context.Context, currency string, at time.Time) (decimal.Decimal, error) {
	if currency == domain.USD {
		return decimal.NewFromInt(1), nil
	}
	price, err := e.oracle.USDPrice(ctx, currency, at)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: %w", domain.ErrPriceUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: oracle returned %s for %s", domain.ErrPriceUnavailable, price, currency)
	}
	return price, nil
}
