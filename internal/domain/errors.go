package domain

import "errors"

// Errors raised while building and matching transactions.
// Callers check them with errors.Is; the wrapping message carries the offending record.
var (
	ErrPriceUnavailable    = errors.New("usd price unavailable")
	ErrMalformedRecord     = errors.New("malformed trade record")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrIncompleteCostBasis = errors.New("incomplete cost basis")
)
