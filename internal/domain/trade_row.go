package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRow is one normalised fill as produced by a report source.
//
// Required: TradeID, Product, Side, CreatedAt, Size, Total.
// Optional: Fee (defaults to 0), Price (defaults to Total/Size), SizeUnit (defaults to the
// product's base unit), QuoteUnit (defaults to the product's quote unit), BaseUSDPrice and
// QuoteUSDPrice (attached by the cost basis enricher for non-USD trades).
type TradeRow struct {
	TradeID   string
	Product   string
	Side      Side
	CreatedAt time.Time
	Size      decimal.Decimal
	SizeUnit  string
	Price     decimal.NullDecimal
	Fee       decimal.Decimal
	Total     decimal.Decimal
	QuoteUnit string

	BaseUSDPrice  decimal.NullDecimal // USD unit price of SizeUnit at CreatedAt
	QuoteUSDPrice decimal.NullDecimal // USD unit price of QuoteUnit at CreatedAt
}

// Validate checks required fields and fills in declared defaults.
// It returns an error wrapping ErrMalformedRecord or ErrInvalidQuantity.
func (r *TradeRow) Validate() error {
	if strings.TrimSpace(r.TradeID) == "" {
		return fmt.Errorf("%w: missing trade id", ErrMalformedRecord)
	}
	base, quote, err := SplitProduct(r.Product)
	if err != nil {
		return fmt.Errorf("%w: trade %s: %v", ErrMalformedRecord, r.TradeID, err)
	}
	side, err := ParseSide(string(r.Side))
	if err != nil {
		return fmt.Errorf("%w: trade %s: %v", ErrMalformedRecord, r.TradeID, err)
	}
	r.Side = side
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("%w: trade %s: missing created at", ErrMalformedRecord, r.TradeID)
	}
	if r.Size.IsZero() {
		return fmt.Errorf("%w: trade %s: size is zero", ErrInvalidQuantity, r.TradeID)
	}
	if r.Total.IsZero() {
		return fmt.Errorf("%w: trade %s: total is zero", ErrInvalidQuantity, r.TradeID)
	}
	if r.Fee.IsNegative() {
		return fmt.Errorf("%w: trade %s: negative fee %s", ErrInvalidQuantity, r.TradeID, r.Fee)
	}
	if r.SizeUnit == "" {
		r.SizeUnit = base
	}
	if r.QuoteUnit == "" {
		r.QuoteUnit = quote
	}
	r.SizeUnit = strings.ToUpper(r.SizeUnit)
	r.QuoteUnit = strings.ToUpper(r.QuoteUnit)
	return nil
}

// IsUSDQuoted reports whether the trade's price, fee and total are already in USD.
func (r *TradeRow) IsUSDQuoted() bool {
	return r.QuoteUnit == USD
}

// Base returns the base unit of the traded product.
func (r *TradeRow) Base() string {
	base, _, _ := SplitProduct(r.Product)
	return base
}

// Quote returns the quote unit of the traded product.
func (r *TradeRow) Quote() string {
	_, quote, _ := SplitProduct(r.Product)
	return quote
}
