package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisposalResult is the realized gain or loss of one disposal of the target currency.
type DisposalResult struct {
	Row       TradeRow
	Currency  string
	Gain      decimal.Decimal // USD, 2 digits
	Info      string          // "<vol>@<unit>/<total>,fee:<fee>;" per consumed lot
	Cost      decimal.Decimal // accrued lot cost, excluding fees
	LotFees   decimal.Decimal // accrued lot fees in USD
	SaleFee   decimal.Decimal // disposal fee in USD
	Proceeds  decimal.Decimal // sell leg USD total
	Unmatched decimal.Decimal // volume left when the open lots ran out

	// IncompleteCostBasis is set when the disposal could not be fully matched against open lots.
	IncompleteCostBasis bool
}

// TaxLotRow pairs one consumed acquisition lot with the disposal that consumed it.
type TaxLotRow struct {
	Description  string
	DateAcquired time.Time
	DateSold     time.Time
	Proceeds     decimal.Decimal
	Cost         decimal.Decimal
	GainOrLoss   decimal.Decimal
	TranDT       time.Time
	Volume       decimal.Decimal
	Currency     string
	TradeID      string // disposal trade id
	LotTradeID   string // acquisition trade id
}

// LongTerm reports whether the lot was held for at least a year.
func (r *TaxLotRow) LongTerm() bool {
	return !r.DateSold.Before(r.DateAcquired.AddDate(1, 0, 0))
}

// OpenLot is the unconsumed remainder of an acquisition after matching.
type OpenLot struct {
	TradeID      string
	Currency     string
	PurchaseDate time.Time
	Quantity     decimal.Decimal
	CostBasis    decimal.Decimal // USD
	UnitPrice    decimal.Decimal // USD
	Fee          decimal.Decimal // residual fee in quote units
}

// RunReport is the persisted outcome of one matching run for one currency.
type RunReport struct {
	ID        string
	Currency  string
	Policy    Policy
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
	TotalGain decimal.Decimal
	Disposals []DisposalResult
	TaxLots   []TaxLotRow
}
