package domain

import "github.com/shopspring/decimal"

const (
	usdPlaces    int32 = 2
	cryptoPlaces int32 = 8
)

// PlacesFor returns the number of fractional digits kept for amounts in the given currency:
// 2 for USD, 8 for everything else.
func PlacesFor(currency string) int32 {
	if currency == USD {
		return usdPlaces
	}
	return cryptoPlaces
}

// RoundFor rounds value using the precision of currency.
func RoundFor(value decimal.Decimal, currency string) decimal.Decimal {
	return value.Round(PlacesFor(currency))
}

// Round8 rounds to 8 fractional digits (volumes, unit prices, partial costs).
func Round8(value decimal.Decimal) decimal.Decimal {
	return value.Round(cryptoPlaces)
}

// Round2 rounds to 2 fractional digits (USD totals, gains).
func Round2(value decimal.Decimal) decimal.Decimal {
	return value.Round(usdPlaces)
}
