package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceOracle returns the USD unit price of a currency near a point in time.
// Implementations return an error wrapping domain.ErrPriceUnavailable when no price exists;
// they must never substitute a default.
type PriceOracle interface {
	USDPrice(ctx context.Context, currency string, at time.Time) (decimal.Decimal, error)
}

// PriceStore persists looked-up prices keyed by currency and time bucket.
type PriceStore interface {
	// GetPrice returns the stored price, or ok=false when the bucket has not been stored yet.
	GetPrice(ctx context.Context, currency string, bucket time.Time) (price decimal.Decimal, ok bool, err error)
	// SavePrice stores (or replaces) the price of a bucket.
	SavePrice(ctx context.Context, currency string, bucket time.Time, price decimal.Decimal) error
}
