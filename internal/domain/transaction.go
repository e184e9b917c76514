package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one side of a transaction: the currency acquired or given up, its volume and USD value.
type Leg struct {
	Currency string
	Volume   decimal.Decimal
	USDTotal decimal.Decimal
	USDUnit  decimal.Decimal
}

// NewLeg builds a leg and derives its USD unit price from usdTotal / volume.
func NewLeg(currency string, volume, usdTotal decimal.Decimal) (Leg, error) {
	if !volume.IsPositive() {
		return Leg{}, fmt.Errorf("%w: %s leg volume %s", ErrInvalidQuantity, currency, volume)
	}
	return Leg{
		Currency: currency,
		Volume:   volume,
		USDTotal: usdTotal,
		USDUnit:  RoundFor(usdTotal.Div(volume), currency),
	}, nil
}

// Cost returns the USD value of vol units of this leg at its unit price.
func (l *Leg) Cost(vol decimal.Decimal) decimal.Decimal {
	return RoundFor(l.USDUnit.Mul(vol), l.Currency)
}

// recomputeUnit refreshes the unit price after the total changed.
func (l *Leg) recomputeUnit() error {
	if !l.Volume.IsPositive() {
		return fmt.Errorf("%w: cannot derive %s unit price from volume %s", ErrInvalidQuantity, l.Currency, l.Volume)
	}
	l.USDUnit = RoundFor(l.USDTotal.Div(l.Volume), l.Currency)
	return nil
}

func (l Leg) String() string {
	return fmt.Sprintf("%s@%s/%s;%s", l.Currency, l.Volume, l.USDUnit, l.USDTotal)
}

// Transaction is a trade split into the leg being acquired (Buy) and the leg being given up (Sell),
// both valued in USD.
//
// The matching engine consumes Buy.Volume, Buy.USDTotal and Fee in place; Sell is never changed
// after ConvertFeeToBase.
type Transaction struct {
	Row TradeRow

	TradeID   string
	Product   string
	Side      Side
	CreatedAt time.Time
	Size      decimal.Decimal
	SizeUnit  string
	Price     decimal.Decimal
	Fee       decimal.Decimal // in QuoteUnit
	Total     decimal.Decimal
	QuoteUnit string

	Buy  Leg
	Sell Leg

	buyCurrency  string
	sellCurrency string
	feeFolded    bool
}

// NewTransaction validates row and derives both legs.
// Non-USD quoted rows need BaseUSDPrice and QuoteUSDPrice, otherwise ErrPriceUnavailable is returned.
func NewTransaction(row TradeRow) (*Transaction, error) {
	if err := row.Validate(); err != nil {
		return nil, err
	}

	t := &Transaction{
		Row:       row,
		TradeID:   row.TradeID,
		Product:   row.Product,
		Side:      row.Side,
		CreatedAt: row.CreatedAt,
		Size:      Round8(row.Size.Abs()),
		SizeUnit:  row.SizeUnit,
		Fee:       Round8(row.Fee),
		Total:     Round8(row.Total.Abs()),
		QuoteUnit: row.QuoteUnit,
	}
	if !t.Size.IsPositive() {
		return nil, fmt.Errorf("%w: trade %s: size rounds to zero", ErrInvalidQuantity, t.TradeID)
	}
	if row.Price.Valid {
		t.Price = Round8(row.Price.Decimal.Abs())
	} else {
		t.Price = Round8(t.Total.Div(t.Size))
	}

	base, quote := row.Base(), row.Quote()
	if t.Side == Buy {
		t.buyCurrency, t.sellCurrency = base, quote
	} else {
		t.buyCurrency, t.sellCurrency = quote, base
	}
	if t.buyCurrency == t.sellCurrency {
		return nil, fmt.Errorf("%w: trade %s: both legs are %s", ErrMalformedRecord, t.TradeID, t.buyCurrency)
	}

	usdValue, err := t.usdValue()
	if err != nil {
		return nil, err
	}
	// Both legs carry the same USD value; only the volume differs.
	if t.Buy, err = NewLeg(t.buyCurrency, t.volumeOf(t.buyCurrency), usdValue); err != nil {
		return nil, fmt.Errorf("trade %s: %w", t.TradeID, err)
	}
	if t.Sell, err = NewLeg(t.sellCurrency, t.volumeOf(t.sellCurrency), usdValue); err != nil {
		return nil, fmt.Errorf("trade %s: %w", t.TradeID, err)
	}
	return t, nil
}

func (t *Transaction) volumeOf(currency string) decimal.Decimal {
	if currency == t.SizeUnit {
		return t.Size
	}
	return t.Total
}

func (t *Transaction) usdValue() (decimal.Decimal, error) {
	if t.IsUSDQuoted() {
		return t.Total, nil
	}
	if !t.Row.BaseUSDPrice.Valid {
		return decimal.Zero, fmt.Errorf("%w: trade %s: no USD price for %s", ErrPriceUnavailable, t.TradeID, t.SizeUnit)
	}
	if !t.Row.QuoteUSDPrice.Valid {
		return decimal.Zero, fmt.Errorf("%w: trade %s: no USD price for %s", ErrPriceUnavailable, t.TradeID, t.QuoteUnit)
	}
	return Round8(t.Size.Mul(t.Row.BaseUSDPrice.Decimal)), nil
}

// BuyCurrency is the currency acquired by this trade.
func (t *Transaction) BuyCurrency() string { return t.buyCurrency }

// SellCurrency is the currency given up by this trade.
func (t *Transaction) SellCurrency() string { return t.sellCurrency }

// IsUSDQuoted reports whether price, fee and total are denominated in USD.
func (t *Transaction) IsUSDQuoted() bool { return t.QuoteUnit == USD }

// FeeFolded reports whether ConvertFeeToBase has already run.
func (t *Transaction) FeeFolded() bool { return t.feeFolded }

// FeeInUSD returns the whole remaining fee in USD.
func (t *Transaction) FeeInUSD() decimal.Decimal {
	return t.FeeInUSDFor(t.Size)
}

// FeeInUSDFor returns the USD fee attributable to vol units of the traded size.
func (t *Transaction) FeeInUSDFor(vol decimal.Decimal) decimal.Decimal {
	if t.Fee.IsZero() {
		return decimal.Zero
	}
	ratio := vol.Div(t.Size)
	if t.IsUSDQuoted() {
		return t.Fee.Mul(ratio)
	}
	return t.Fee.Mul(t.Row.QuoteUSDPrice.Decimal).Mul(ratio)
}

// ConvertFeeToBase folds the fee into the leg matching currency: a buyer pays more, a seller nets less.
// The fee is zeroed afterwards, so calling it again is a no-op.
func (t *Transaction) ConvertFeeToBase(currency string) error {
	if t.feeFolded {
		return nil
	}
	if t.Fee.IsPositive() {
		feeUSD := t.FeeInUSD()
		if t.buyCurrency == currency {
			t.Buy.USDTotal = t.Buy.USDTotal.Add(feeUSD)
			if err := t.Buy.recomputeUnit(); err != nil {
				return fmt.Errorf("trade %s: %w", t.TradeID, err)
			}
		} else {
			t.Sell.USDTotal = t.Sell.USDTotal.Sub(feeUSD)
			if err := t.Sell.recomputeUnit(); err != nil {
				return fmt.Errorf("trade %s: %w", t.TradeID, err)
			}
		}
		t.Fee = decimal.Zero
	}
	t.feeFolded = true
	return nil
}

// TaxTransaction is a trade projected onto a single currency against USD.
type TaxTransaction struct {
	TradeID   string
	Product   string
	Side      Side
	CreatedAt time.Time
	Size      decimal.Decimal
	Total     decimal.Decimal
}

// TaxTransaction folds the fee into currency and returns the currency-vs-USD view of the trade.
func (t *Transaction) TaxTransaction(currency string) (TaxTransaction, error) {
	if err := t.ConvertFeeToBase(currency); err != nil {
		return TaxTransaction{}, err
	}
	leg, side := t.Sell, Sell
	if t.buyCurrency == currency {
		leg, side = t.Buy, Buy
	}
	places := cryptoPlaces
	if t.IsUSDQuoted() {
		places = usdPlaces
	}
	return TaxTransaction{
		TradeID:   t.TradeID,
		Product:   currency + "-" + USD,
		Side:      side,
		CreatedAt: t.CreatedAt,
		Size:      leg.Volume,
		Total:     leg.USDTotal.Round(places),
	}, nil
}

func (t *Transaction) String() string {
	return fmt.Sprintf("%s %s %s buy=%s sell=%s", t.TradeID, t.Product, t.Side, t.Buy, t.Sell)
}
