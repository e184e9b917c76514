package gainloss

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/ports"
)

// Options are the caller-supplied parameters of one matching run.
type Options struct {
	Currency string        // target currency whose disposals are matched
	Start    time.Time     // first disposal time reported (inclusive)
	End      time.Time     // last disposal time reported (inclusive); later records are ignored
	Policy   domain.Policy // FIFO or LIFO

	// StrictCostBasis turns a disposal that exhausts the open lots into an error
	// instead of a flagged result.
	StrictCostBasis bool

	// WindowTaxLots limits tax lot rows to disposals inside [Start, End]. By default every
	// matched disposal up to End contributes its rows, including those before Start.
	WindowTaxLots bool
}

func (o Options) validate() error {
	if o.Currency == "" {
		return errors.New("target currency is required")
	}
	if o.End.Before(o.Start) {
		return fmt.Errorf("report end %s is before start %s", o.End.Format(time.RFC3339), o.Start.Format(time.RFC3339))
	}
	if o.Policy != domain.FIFO && o.Policy != domain.LIFO {
		return fmt.Errorf("unknown matching policy %q", o.Policy)
	}
	return nil
}

func (o Options) inWindow(t time.Time) bool {
	return !t.Before(o.Start) && !t.After(o.End)
}

// Result holds the outcome of a matching run.
type Result struct {
	Disposals []domain.DisposalResult
	TaxLots   []domain.TaxLotRow
	OpenLots  []domain.OpenLot
}

// TotalGain sums the realized gain of all reported disposals.
func (r *Result) TotalGain() decimal.Decimal {
	total := decimal.Zero
	for _, d := range r.Disposals {
		total = total.Add(d.Gain)
	}
	return total
}

// Engine matches disposals of a currency against previously acquired lots.
// An Engine holds no per-run state and may be shared between goroutines matching different currencies.
type Engine struct {
	logger ports.Logger
}

// NewEngine creates a matching engine.
func NewEngine(logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for matching engine")
	}
	return &Engine{logger: logger}, nil
}

// Match walks txs in chronological order (ties keep input order), pushing acquisitions onto the
// open-lot book and matching every disposal of opts.Currency against it.
//
// The transactions are expected to have their fees folded into opts.Currency already; lots are
// consumed in place, so the same slice must not be matched twice.
func (e *Engine) Match(ctx context.Context, txs []*domain.Transaction, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ordered := make([]*domain.Transaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	book := newLotBook(opts.Policy)
	result := &Result{}

	for _, t := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.CreatedAt.After(opts.End) {
			break
		}
		if t.SellCurrency() != opts.Currency {
			book.push(t)
			continue
		}

		disposal, rows, err := e.dispose(ctx, book, t, opts)
		if err != nil {
			return nil, err
		}
		inWindow := opts.inWindow(t.CreatedAt)
		if inWindow || !opts.WindowTaxLots {
			for _, row := range rows {
				if row.Proceeds.IsZero() {
					continue
				}
				result.TaxLots = append(result.TaxLots, row)
			}
		}
		if inWindow {
			result.Disposals = append(result.Disposals, disposal)
		}
	}

	result.OpenLots = book.openLots(opts.Currency)
	e.logger.Info(ctx, "Matching finished", map[string]interface{}{
		"currency":  opts.Currency,
		"policy":    opts.Policy,
		"disposals": len(result.Disposals),
		"taxLots":   len(result.TaxLots),
		"openLots":  len(result.OpenLots),
	})
	return result, nil
}

// dispose consumes open lots for one disposal until it is satisfied or the book is exhausted.
func (e *Engine) dispose(ctx context.Context, book *lotBook, t *domain.Transaction, opts Options) (domain.DisposalResult, []domain.TaxLotRow, error) {
	currency := opts.Currency
	remaining := t.Sell.Volume

	e.logger.Debug(ctx, "Matching disposal", map[string]interface{}{
		"tradeID":          t.TradeID,
		"remainingBalance": domain.Round8(book.balance(currency)),
		"sellVolume":       remaining,
	})

	var (
		info    strings.Builder
		rows    []domain.TaxLotRow
		cost    = decimal.Zero
		lotFees = decimal.Zero
	)

	for _, id := range book.walkOrder() {
		lot := book.lots[id]
		if lot.BuyCurrency() != currency {
			continue
		}
		if !lot.Buy.Volume.IsPositive() {
			book.remove(id)
			continue
		}

		if remaining.GreaterThanOrEqual(lot.Buy.Volume) {
			vol := lot.Buy.Volume
			feeUSD := lot.FeeInUSD()
			rows = append(rows, newTaxLotRow(currency, lot, t, vol))

			remaining = domain.Round8(remaining.Sub(vol))
			cost = cost.Add(lot.Buy.USDTotal)
			lotFees = lotFees.Add(feeUSD)
			fmt.Fprintf(&info, "%s@%s/%s,fee:%s;", vol, lot.Buy.USDUnit, lot.Buy.USDTotal, feeUSD)

			lot.Buy.Volume = decimal.Zero
			lot.Buy.USDTotal = decimal.Zero
			book.remove(id)

			if remaining.IsZero() {
				break
			}
			continue
		}

		unit := lot.Buy.USDUnit
		partialCost := domain.Round8(remaining.Mul(unit))
		cost = cost.Add(partialCost)
		rows = append(rows, newTaxLotRow(currency, lot, t, remaining))

		partialFee := decimal.Zero
		if feeUSD := lot.FeeInUSD(); feeUSD.IsPositive() {
			consumedUSD, residual, err := AllocatePartialFee(lot.Fee, feeUSD, lot.Buy.Volume, remaining)
			if err != nil {
				return domain.DisposalResult{}, nil, fmt.Errorf("trade %s against lot %s: %w", t.TradeID, lot.TradeID, err)
			}
			partialFee = consumedUSD
			lotFees = lotFees.Add(consumedUSD)
			lot.Fee = residual
		}

		lot.Buy.Volume = domain.Round8(lot.Buy.Volume.Sub(remaining))
		lot.Buy.USDTotal = domain.Round2(lot.Buy.Volume.Mul(unit))
		fmt.Fprintf(&info, "%s@%s/%s,fee:%s;", remaining, unit, partialCost, partialFee)

		remaining = decimal.Zero
		break
	}

	saleFee := t.FeeInUSD()
	gain := domain.Round2(t.Sell.USDTotal.Sub(cost).Sub(lotFees).Sub(saleFee))
	if saleFee.IsPositive() {
		fmt.Fprintf(&info, " sale_fee:%s", saleFee)
	}

	result := domain.DisposalResult{
		Row:       t.Row,
		Currency:  currency,
		Gain:      gain,
		Cost:      cost,
		LotFees:   lotFees,
		SaleFee:   saleFee,
		Proceeds:  t.Sell.USDTotal,
		Unmatched: remaining,
	}

	if remaining.IsPositive() {
		result.IncompleteCostBasis = true
		fmt.Fprintf(&info, " incomplete_cost_basis:%s;", remaining)
		fields := map[string]interface{}{
			"tradeID":   t.TradeID,
			"currency":  currency,
			"createdAt": t.CreatedAt.Format(time.RFC3339),
			"unmatched": remaining,
		}
		if opts.StrictCostBasis {
			err := fmt.Errorf("%w: trade %s: %s %s not covered by open lots", domain.ErrIncompleteCostBasis, t.TradeID, remaining, currency)
			e.logger.Error(ctx, err, "Disposal exceeds available lots", fields)
			return domain.DisposalResult{}, nil, err
		}
		e.logger.Warn(ctx, "IncompleteCostBasis: disposal exceeds available lots", fields)
	}

	result.Info = info.String()
	return result, rows, nil
}

// newTaxLotRow prices vol at the legs' unit prices only; fees reach the gain through the
// disposal result, and the pipeline folds them into the legs before matching.
func newTaxLotRow(currency string, lot, sale *domain.Transaction, vol decimal.Decimal) domain.TaxLotRow {
	proceeds := sale.Sell.Cost(vol)
	cost := lot.Buy.Cost(vol)
	return domain.TaxLotRow{
		Description:  fmt.Sprintf("%s %s", vol, currency),
		DateAcquired: lot.CreatedAt,
		DateSold:     sale.CreatedAt,
		Proceeds:     domain.Round2(proceeds),
		Cost:         domain.Round2(cost),
		GainOrLoss:   domain.Round2(proceeds.Sub(cost)),
		TranDT:       sale.CreatedAt,
		Volume:       vol,
		Currency:     currency,
		TradeID:      sale.TradeID,
		LotTradeID:   lot.TradeID,
	}
}
