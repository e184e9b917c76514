package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline represents a single candlestick data point used for historical price lookups.
type Kline struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Exchange symbol (e.g., "ETHUSDT")
	Interval  string    // Kline interval (e.g., "1m")
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Mid returns the midpoint between the candle's high and low.
func (k *Kline) Mid() decimal.Decimal {
	return k.High.Add(k.Low).Div(decimal.NewFromInt(2))
}
